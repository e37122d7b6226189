package icon

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io/fs"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/httputil"
	"github.com/banshee-data/geocluster/internal/security"
)

//go:embed assets
var embedded embed.FS

// HomePrefix marks a reference relative to the asset home, e.g. "@svg/cluster.svg".
const HomePrefix = "@"

// Fetcher loads icon source bytes. References may be inline SVG markup,
// http(s) URLs, home-relative "@" paths or local files under AssetDir.
type Fetcher struct {
	Client httputil.HTTPClient
	// Home is a base URL or directory consulted for "@" references that are
	// not built in.
	Home string
	// AssetDir confines plain file references. Empty disables them.
	AssetDir string
}

// NewFetcher returns a fetcher using client for remote references.
func NewFetcher(client httputil.HTTPClient) *Fetcher {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Fetcher{Client: client}
}

// IsInline reports whether ref is markup rather than a location.
func IsInline(ref string) bool {
	s := strings.TrimSpace(ref)
	return strings.HasPrefix(s, "<svg") || strings.HasPrefix(s, "<?xml")
}

// IsVector reports whether ref names SVG markup: inline markup or a path
// ending in .svg, query and fragment aside.
func IsVector(ref string) bool {
	if IsInline(ref) {
		return true
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return strings.HasSuffix(strings.ToLower(ref), ".svg")
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Fetch returns the raw bytes behind ref. Every failure is an
// *errtypes.AssetFetchError.
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case ref == "":
		return nil, &errtypes.AssetFetchError{Ref: ref, Err: errors.New("empty reference")}
	case IsInline(ref):
		return []byte(ref), nil
	case isRemote(ref):
		return f.fetchRemote(ctx, ref)
	case strings.HasPrefix(ref, HomePrefix):
		return f.fetchHome(ctx, ref)
	}
	return f.fetchFile(ref, f.AssetDir)
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) ([]byte, error) {
	body, status, err := httputil.GetBody(ctx, f.Client, url)
	if err != nil {
		return nil, &errtypes.AssetFetchError{Ref: url, Status: status, Err: err}
	}
	if !httputil.IsSuccess(status) {
		return nil, &errtypes.AssetFetchError{Ref: url, Status: status}
	}
	return body, nil
}

func (f *Fetcher) fetchHome(ctx context.Context, ref string) ([]byte, error) {
	name := strings.TrimPrefix(strings.TrimPrefix(ref, HomePrefix), "/")
	if data, err := fs.ReadFile(embedded, "assets/"+name); err == nil {
		return data, nil
	}
	switch {
	case f.Home == "":
		return nil, &errtypes.AssetFetchError{Ref: ref, Err: errors.New("no built-in asset and no home configured")}
	case isRemote(f.Home):
		return f.fetchRemote(ctx, strings.TrimSuffix(f.Home, "/")+"/"+name)
	}
	return f.fetchFile(name, f.Home)
}

func (f *Fetcher) fetchFile(name, dir string) ([]byte, error) {
	path, err := security.WithinDir(name, dir)
	if err != nil {
		return nil, &errtypes.AssetFetchError{Ref: name, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errtypes.AssetFetchError{Ref: name, Err: err}
	}
	return data, nil
}

// FetchText loads ref as text, for vector markup.
func (f *Fetcher) FetchText(ctx context.Context, ref string) (string, error) {
	data, err := f.Fetch(ctx, ref)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FetchImage loads and decodes ref as a raster image.
func (f *Fetcher) FetchImage(ctx context.Context, ref string) (image.Image, error) {
	data, err := f.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &errtypes.AssetFetchError{Ref: ref, Err: fmt.Errorf("decode image: %w", err)}
	}
	return img, nil
}
