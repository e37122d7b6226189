package pointstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tailscale.com/tsweb"

	"github.com/banshee-data/geocluster/internal/cluster"
	"github.com/banshee-data/geocluster/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "points.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Migrates(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, s.MigrateUp())
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.CreateDataset(context.Background(), "m", "", []cluster.Point{cluster.NewPoint(1, 2, nil)})
	require.NoError(t, err)
	pts, err := s.LoadDataset(context.Background(), "m")
	require.NoError(t, err)
	assert.Len(t, pts, 1)
}

func TestDatasets_CRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pts := []cluster.Point{
		cluster.NewPoint(48.8, 2.3, map[string]any{"name": "A"}),
		cluster.NewPoint(48.8001, 2.3001, "B"),
		cluster.NewPoint(45.2, 2.93, nil),
	}
	ds, err := s.CreateDataset(ctx, "poi", "test", pts)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Points)
	assert.NotEmpty(t, ds.ID)

	_, err = s.CreateDataset(ctx, "poi", "", nil)
	assert.ErrorIs(t, err, ErrDatasetExists)

	_, err = s.CreateDataset(ctx, "alpha", "", nil)
	require.NoError(t, err)

	list, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "poi", list[1].Name)
	assert.Equal(t, "test", list[1].Source)

	loaded, err := s.LoadDataset(ctx, "poi")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, pts[0].LatLng, loaded[0].LatLng)
	assert.Equal(t, map[string]any{"name": "A"}, loaded[0].Payload)
	assert.Equal(t, "B", loaded[1].Payload)
	assert.Nil(t, loaded[2].Payload)

	require.NoError(t, s.DeleteDataset(ctx, "poi"))
	_, err = s.LoadDataset(ctx, "poi")
	assert.ErrorIs(t, err, ErrDatasetNotFound)
	assert.ErrorIs(t, s.DeleteDataset(ctx, "poi"), ErrDatasetNotFound)

	var orphans int
	require.NoError(t, s.QueryRow(`SELECT COUNT(*) FROM points`).Scan(&orphans))
	assert.Zero(t, orphans, "points cascade with their dataset")
}

const sampleGeoJSON = `{"type":"FeatureCollection","features":[
 {"type":"Feature","geometry":{"type":"Point","coordinates":[2.3,48.8]},"properties":{"name":"A","rank":1}},
 {"type":"Feature","geometry":{"type":"MultiPoint","coordinates":[[2.3001,48.8001],[2.93,45.2]]},"properties":{"name":"pair"}},
 {"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{}}
]}`

func TestParseGeoJSON(t *testing.T) {
	pts, skipped, err := ParseGeoJSON(strings.NewReader(sampleGeoJSON))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, pts, 3)
	assert.Equal(t, 48.8, pts[0].Lat)
	assert.Equal(t, 2.3, pts[0].Lng)
	assert.Equal(t, map[string]any{"name": "A", "rank": float64(1)}, pts[0].Payload)
	assert.Equal(t, 45.2, pts[2].Lat)

	_, _, err = ParseGeoJSON(strings.NewReader(`{"type":`))
	assert.ErrorIs(t, err, ErrInvalidGeoJSON)
}

func TestImportExport_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write([]byte(sampleGeoJSON))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	path := filepath.Join(t.TempDir(), "poi.geojson.zst")
	require.NoError(t, os.WriteFile(path, compressed.Bytes(), 0644))

	ds, err := s.ImportFile(ctx, "poi", path)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Points)
	assert.Equal(t, "poi.geojson.zst", ds.Source)

	for _, compress := range []bool{false, true} {
		var out bytes.Buffer
		require.NoError(t, s.ExportGeoJSON(ctx, "poi", &out, compress))

		again, _, err := ParseGeoJSON(&out)
		require.NoError(t, err)
		original, err := s.LoadDataset(ctx, "poi")
		require.NoError(t, err)
		assert.Equal(t, original, again, "compress=%v", compress)
	}

	assert.ErrorIs(t, s.ExportGeoJSON(ctx, "missing", &bytes.Buffer{}, false), ErrDatasetNotFound)
}

func TestFeatureCollection_ScalarPayload(t *testing.T) {
	fc := FeatureCollection([]cluster.Point{cluster.NewPoint(1, 2, "x"), cluster.NewPoint(3, 4, nil)})
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "x", fc.Features[0].Properties["payload"])
	assert.Empty(t, fc.Features[1].Properties)
}

func TestAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	_, err := s.CreateDataset(context.Background(), "poi", "", []cluster.Point{cluster.NewPoint(1, 2, nil)})
	require.NoError(t, err)

	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(tsweb.Debugger(mux)))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".db.gz")

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var head [16]byte
	_, err = io.ReadFull(gz, head[:])
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(head[:]))
}
