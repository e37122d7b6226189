package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/geocluster/internal/errtypes"
	"github.com/banshee-data/geocluster/internal/geo"
	"github.com/banshee-data/geocluster/internal/render"
	"github.com/banshee-data/geocluster/internal/session"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// AttachAdminRoutes mounts the cluster inspection charts on the debug handler.
func (s *Server) AttachAdminRoutes(debug *tsweb.DebugHandler) {
	debug.HandleFunc("clusters", "cluster scatter and per-zoom node counts", s.handleClustersChart)
}

// handleClustersChart renders the markers of ?session= at ?zoom= as a
// scatter, followed by the number of markers visible at every zoom.
func (s *Server) handleClustersChart(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("session")
	if name == "" {
		if names := s.svc.Sessions.Names(); len(names) > 0 {
			name = names[0]
		}
	}
	sess, err := s.svc.Sessions.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	idx := sess.Index()
	if idx == nil {
		writeError(w, session.ErrNotBuilt)
		return
	}
	params := idx.Params()

	zoom := params.MinZoom
	if z := r.URL.Query().Get("zoom"); z != "" {
		parsed, err := strconv.Atoi(z)
		if err != nil {
			writeError(w, errtypes.Configf("zoom", "invalid value %q", z))
			return
		}
		zoom = idx.ClampZoom(parsed)
	}

	markers := sess.Markers(zoom)
	positions := make([]geo.LatLng, len(markers))
	for i, m := range markers {
		positions[i] = m.Pos
	}
	bound := geo.Bounds(positions)
	padLng := max(bound.Max.Lon()-bound.Min.Lon(), 0.01) * 0.05
	padLat := max(bound.Max.Lat()-bound.Min.Lat(), 0.01) * 0.05

	var clusters, noise []opts.ScatterData
	maxWeight := 1
	for _, m := range markers {
		weight := m.View.Weight()
		pt := opts.ScatterData{Name: m.ID, Value: []interface{}{m.Pos.Lng, m.Pos.Lat, weight}}
		switch m.View.(type) {
		case render.ClusterView:
			clusters = append(clusters, pt)
			maxWeight = max(maxWeight, weight)
		default:
			noise = append(noise, pt)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Clusters", Theme: "dark", Width: "900px", Height: "700px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Clusters", Subtitle: fmt.Sprintf("session=%s zoom=%d clusters=%d noise=%d", name, zoom, len(clusters), len(noise))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: bound.Min.Lon() - padLng, Max: bound.Max.Lon() + padLng, Name: "Longitude", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: bound.Min.Lat() - padLat, Max: bound.Max.Lat() + padLat, Name: "Latitude", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        1,
			Max:        float32(maxWeight),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#7BD30A", "#FF6900", "#B50015"}},
		}),
	)
	scatter.AddSeries("clusters", clusters, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	scatter.AddSeries("noise", noise, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var zooms []string
	var counts []opts.BarData
	for z := params.MinZoom; z <= params.MaxZoom; z++ {
		zooms = append(zooms, strconv.Itoa(z))
		counts = append(counts, opts.BarData{Value: len(idx.Nodes(z))})
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "360px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Nodes per zoom", Subtitle: fmt.Sprintf("points=%d eps=%gpx", idx.Points, params.Eps)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(zooms).AddSeries("nodes", counts)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(scatter, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeError(w, fmt.Errorf("failed to render clusters chart: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
