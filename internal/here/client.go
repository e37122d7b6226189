// Package here wraps the HERE location REST services used around a
// clustered map: geocoding, routing, isolines, matrices and place search.
package here

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/httputil"
)

var (
	// ErrNoResponse is returned when a 200 reply carries no response object.
	ErrNoResponse = errors.New("reply has no response object")
	// ErrNotFound is returned when a lookup matched nothing.
	ErrNotFound = errors.New("no match")
	// ErrBadRequest is returned for requests rejected before sending.
	ErrBadRequest = errors.New("bad request")
)

// StatusError is a non-200 reply.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// ApplicationError is a 200 reply whose response reports a failure.
type ApplicationError struct {
	Subtype string
	Details string
}

func (e *ApplicationError) Error() string {
	if e.Subtype != "" {
		return fmt.Sprintf("application error %s: %s", e.Subtype, e.Details)
	}
	return "application error: " + e.Details
}

// Credentials authenticate every request.
type Credentials struct {
	AppID   string
	AppCode string
	// UseCIT targets the customer integration environment.
	UseCIT bool
	// UseHTTP downgrades to plain http.
	UseHTTP bool
}

// Client calls the REST services with one set of credentials.
type Client struct {
	creds Credentials
	http  httputil.HTTPClient
}

// NewClient returns a client. A nil httpClient uses the standard client.
func NewClient(creds Credentials, httpClient httputil.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	return &Client{creds: creds, http: httpClient}
}

// BuildURL joins a service host and endpoint, honouring the protocol and
// environment switches: protocol//base[.cit].endpoint.
func (c *Client) BuildURL(base, endpoint string) string {
	protocol := "https:"
	if c.creds.UseHTTP {
		protocol = "http:"
	}
	cit := ""
	if c.creds.UseCIT {
		cit = ".cit"
	}
	return protocol + "//" + base + cit + "." + endpoint
}

// Params are extra query parameters. They override the call's defaults.
type Params map[string]string

func (c *Client) query(defaults Params, extra Params) url.Values {
	q := url.Values{}
	q.Set("app_id", c.creds.AppID)
	q.Set("app_code", c.creds.AppCode)
	for k, v := range defaults {
		q.Set(k, v)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	return q
}

func coord(ll geo.LatLng) string {
	return strconv.FormatFloat(ll.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(ll.Lng, 'f', -1, 64)
}

// envelope matches both "Response" and "response"; the decoder folds case.
type envelope struct {
	Response json.RawMessage `json:"response"`
}

type responseStatus struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Details string `json:"details"`
}

// rest performs the request with q in the query string and returns the raw
// reply. When needResponse is set the reply must carry a response object.
func (c *Client) rest(ctx context.Context, method, endpoint string, q url.Values, needResponse bool) ([]byte, error) {
	body, status, err := httputil.DoBody(ctx, c.http, method, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Status: status, Body: string(body)}
	}
	if !needResponse {
		return body, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if len(env.Response) == 0 || string(env.Response) == "null" {
		return nil, ErrNoResponse
	}
	var rs responseStatus
	if err := json.Unmarshal(env.Response, &rs); err == nil && rs.Type == "ApplicationError" {
		return nil, &ApplicationError{Subtype: rs.Subtype, Details: rs.Details}
	}
	return body, nil
}
