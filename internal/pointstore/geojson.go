package pointstore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/monitoring"
)

// maxImportBytes bounds a decompressed import.
const maxImportBytes = 256 << 20

// ErrInvalidGeoJSON is returned for a body that is not a readable FeatureCollection.
var ErrInvalidGeoJSON = errors.New("invalid GeoJSON")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// ParseGeoJSON reads a FeatureCollection, zstd-compressed or not, and returns
// one point per Point feature and per member of MultiPoint features. The
// feature properties become the point payload. skipped counts features of
// other geometry types.
func ParseGeoJSON(r io.Reader) (points []cluster.Point, skipped int, err error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	} else {
		r = br
	}

	data, err := io.ReadAll(io.LimitReader(r, maxImportBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("read GeoJSON: %w", err)
	}
	if len(data) > maxImportBytes {
		return nil, 0, fmt.Errorf("%w: exceeds %d bytes", ErrInvalidGeoJSON, maxImportBytes)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
	}

	for _, f := range fc.Features {
		var payload any
		if len(f.Properties) > 0 {
			payload = map[string]any(f.Properties)
		}
		switch g := f.Geometry.(type) {
		case orb.Point:
			points = append(points, cluster.NewPoint(g.Lat(), g.Lon(), payload))
		case orb.MultiPoint:
			for _, p := range g {
				points = append(points, cluster.NewPoint(p.Lat(), p.Lon(), payload))
			}
		default:
			skipped++
		}
	}
	return points, skipped, nil
}

// ImportGeoJSON parses r and stores its points as a new dataset.
func (s *Store) ImportGeoJSON(ctx context.Context, name, source string, r io.Reader) (*Dataset, error) {
	points, skipped, err := ParseGeoJSON(r)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		monitoring.Logf("import %s: skipped %d non-point features", name, skipped)
	}
	return s.CreateDataset(ctx, name, source, points)
}

// ImportFile imports a .geojson, .json or .zst file.
func (s *Store) ImportFile(ctx context.Context, name, path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return s.ImportGeoJSON(ctx, name, filepath.Base(path), f)
}

// FeatureCollection converts points to Point features. Map payloads become
// the properties; any other payload is kept under "payload".
func FeatureCollection(points []cluster.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(p.Point())
		switch v := p.Payload.(type) {
		case nil:
		case map[string]any:
			f.Properties = geojson.Properties(v)
		default:
			f.Properties["payload"] = v
		}
		fc.Append(f)
	}
	return fc
}

// ExportGeoJSON writes the named dataset as a FeatureCollection, zstd
// compressed when compress is set.
func (s *Store) ExportGeoJSON(ctx context.Context, name string, w io.Writer, compress bool) error {
	points, err := s.LoadDataset(ctx, name)
	if err != nil {
		return err
	}
	data, err := FeatureCollection(points).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode GeoJSON: %w", err)
	}
	if !compress {
		_, err = w.Write(data)
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
