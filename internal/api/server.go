package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/here"
	"github.com/banshee-data/geocluster/internal/httputil"
	"github.com/banshee-data/geocluster/internal/locate"
	"github.com/banshee-data/geocluster/internal/monitoring"
	"github.com/banshee-data/geocluster/internal/pointstore"
	"github.com/banshee-data/geocluster/internal/security"
	"github.com/banshee-data/geocluster/internal/session"
	"github.com/banshee-data/geocluster/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes bounds request bodies, GeoJSON uploads included.
const maxBodyBytes = 64 << 20

type Server struct {
	svc *Service
}

func NewServer(svc *Service) *Server {
	return &Server{svc: svc}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("GET /sessions/{name}", s.showSession)
	mux.HandleFunc("POST /sessions/{name}", s.buildSession)
	mux.HandleFunc("DELETE /sessions/{name}", s.deleteSession)
	mux.HandleFunc("GET /sessions/{name}/clusters", s.listClusters)
	mux.HandleFunc("GET /sessions/{name}/clusters/{id}", s.showCluster)
	mux.HandleFunc("POST /sessions/{name}/tap", s.tap)
	mux.HandleFunc("POST /sessions/{name}/show", s.setVisible(true))
	mux.HandleFunc("POST /sessions/{name}/hide", s.setVisible(false))
	mux.HandleFunc("GET /icons/{session}/{key}", s.serveIcon)
	mux.HandleFunc("GET /datasets", s.listDatasets)
	mux.HandleFunc("GET /datasets/{name}", s.exportDataset)
	mux.HandleFunc("POST /datasets/{name}", s.importDataset)
	mux.HandleFunc("DELETE /datasets/{name}", s.deleteDataset)
	mux.HandleFunc("GET /geocode", s.geocode)
	mux.HandleFunc("POST /geometry/simplify", s.simplify)
	mux.HandleFunc("GET /locate", s.locate)
	mux.HandleFunc("GET /version", s.showVersion)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// StatusFor maps an error to the HTTP status reported to the client. The
// gRPC front end derives its codes from it.
func StatusFor(err error) int {
	var statusErr *here.StatusError
	var appErr *here.ApplicationError
	switch {
	case errors.Is(err, errtypes.ErrConfiguration), errors.Is(err, errtypes.ErrInputData),
		errors.Is(err, pointstore.ErrInvalidGeoJSON):
		return http.StatusBadRequest
	case errors.Is(err, errtypes.ErrLayerNotFound),
		errors.Is(err, pointstore.ErrDatasetNotFound),
		errors.Is(err, here.ErrNotFound),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrExists), errors.Is(err, pointstore.ErrDatasetExists),
		errors.Is(err, session.ErrNotBuilt):
		return http.StatusConflict
	case errors.Is(err, errtypes.ErrAssetFetch), errors.As(err, &statusErr), errors.As(err, &appErr),
		errors.Is(err, here.ErrNoResponse):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnavailable), errors.Is(err, locate.ErrNoFix):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		monitoring.Logf("api: %v", err)
	}
	httputil.WriteJSONError(w, status, err.Error())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.svc.List())
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Info(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, info)
}

func (s *Server) buildSession(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	info, err := s.svc.Build(r.Context(), r.PathValue("name"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, info)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseBBox reads "minLng,minLat,maxLng,maxLat".
func parseBBox(v string) (*orb.Bound, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must be minLng,minLat,maxLng,maxLat")
	}
	var f [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bbox: %w", err)
		}
		f[i] = n
	}
	if f[0] > f[2] || f[1] > f[3] {
		return nil, fmt.Errorf("bbox minimum exceeds maximum")
	}
	return &orb.Bound{Min: orb.Point{f[0], f[1]}, Max: orb.Point{f[2], f[3]}}, nil
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	zoom, err := strconv.Atoi(q.Get("zoom"))
	if err != nil {
		httputil.BadRequest(w, "Invalid 'zoom' parameter")
		return
	}
	var bound *orb.Bound
	if v := q.Get("bbox"); v != "" {
		if bound, err = parseBBox(v); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	fc, err := s.svc.Clusters(r.PathValue("name"), zoom, bound)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		httputil.InternalServerError(w, "Failed to encode clusters")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(data)
}

// defaultLeafLimit pages cluster points when ?limit= is absent.
const defaultLeafLimit = 10

func (s *Server) showCluster(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := defaultLeafLimit, 0
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			httputil.BadRequest(w, "Invalid 'offset' parameter")
			return
		}
	}
	d, err := s.svc.Cluster(r.PathValue("name"), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, d)
}

func (s *Server) tap(w http.ResponseWriter, r *http.Request) {
	var req TapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, err := s.svc.Tap(r.PathValue("name"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) setVisible(visible bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		var err error
		if visible {
			err = s.svc.Show(name)
		} else {
			err = s.svc.Hide(name)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		info, err := s.svc.Info(name)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, info)
	}
}

func (s *Server) serveIcon(w http.ResponseWriter, r *http.Request) {
	ic, err := s.svc.Icon(r.PathValue("session"), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", ic.ContentType())
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Write(ic.Data)
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Datasets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, list)
}

func (s *Server) importDataset(w http.ResponseWriter, r *http.Request) {
	ds, err := s.svc.ImportDataset(r.Context(), r.PathValue("name"), http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ds)
}

func (s *Server) exportDataset(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store == nil {
		writeError(w, fmt.Errorf("dataset store: %w", ErrUnavailable))
		return
	}
	name := r.PathValue("name")
	compress := r.URL.Query().Get("compress") == "zstd"
	if _, err := s.svc.Store.GetDataset(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	filename := security.SanitizeFilename(name) + ".geojson"
	if compress {
		filename += ".zst"
		w.Header().Set("Content-Type", "application/zstd")
	} else {
		w.Header().Set("Content-Type", "application/geo+json")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := s.svc.Store.ExportGeoJSON(r.Context(), name, w, compress); err != nil {
		monitoring.Logf("export %s: %v", name, err)
	}
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	if s.svc.Store == nil {
		writeError(w, fmt.Errorf("dataset store: %w", ErrUnavailable))
		return
	}
	if err := s.svc.Store.DeleteDataset(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// geocode resolves ?q= to a coordinate, or ?lat=&lng= to an address.
func (s *Server) geocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if address := strings.TrimSpace(q.Get("q")); address != "" {
		res, err := s.svc.Geocode(r.Context(), address)
		if err != nil {
			writeError(w, err)
			return
		}
		res.Body = nil
		httputil.WriteJSONOK(w, res)
		return
	}

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		httputil.BadRequest(w, "need 'q' or 'lat' and 'lng'")
		return
	}
	ll := geo.LatLng{Lat: lat, Lng: lng}
	if err := ll.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, err := s.svc.ReverseGeocode(r.Context(), ll)
	if err != nil {
		writeError(w, err)
		return
	}
	res.Body = nil
	httputil.WriteJSONOK(w, res)
}

func (s *Server) simplify(w http.ResponseWriter, r *http.Request) {
	var req SimplifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	res, err := s.svc.Simplify(req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) locate(w http.ResponseWriter, r *http.Request) {
	fix, err := s.svc.Locate()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, fix)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
