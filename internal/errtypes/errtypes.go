// Package errtypes defines the error kinds surfaced by clustering sessions.
//
// Each kind is a struct type usable with errors.As and also matches a sentinel
// via errors.Is so callers can branch on the kind without caring about fields.
package errtypes

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrAssetFetch    = errors.New("asset fetch error")
	ErrInputData     = errors.New("input data error")
	ErrLayerNotFound = errors.New("layer not found")
)

// ConfigurationError reports an invalid option, tier table or style asset.
// It is fatal for the build that raised it.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " in " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configf builds a ConfigurationError for field with a formatted reason.
func Configf(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AssetFetchError reports an icon source that could not be loaded. Status is
// the HTTP status when the source answered, zero otherwise.
type AssetFetchError struct {
	Ref    string
	Status int
	Err    error
}

func (e *AssetFetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.Ref, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: status %d", e.Ref, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.Ref, e.Err)
	}
	return "fetch " + e.Ref + ": unavailable"
}

func (e *AssetFetchError) Unwrap() error { return e.Err }

func (e *AssetFetchError) Is(target error) bool { return target == ErrAssetFetch }

// InputDataError describes a point that was skipped during clustering.
type InputDataError struct {
	Index  int
	Lat    float64
	Lng    float64
	Reason string
}

func (e *InputDataError) Error() string {
	return fmt.Sprintf("point %d (%g,%g) skipped: %s", e.Index, e.Lat, e.Lng, e.Reason)
}

func (e *InputDataError) Is(target error) bool { return target == ErrInputData }

// LayerNotFoundError is returned when a named session or layer was never created.
type LayerNotFoundError struct {
	Name string
}

func (e *LayerNotFoundError) Error() string {
	return fmt.Sprintf("layer %q not found", e.Name)
}

func (e *LayerNotFoundError) Is(target error) bool { return target == ErrLayerNotFound }
