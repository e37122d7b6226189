package here

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/geocluster/internal/geo"
)

const (
	routeEndpoint   = "api.here.com/routing/7.2/calculateroute.json"
	isolineEndpoint = "api.here.com/routing/7.2/calculateisoline.json"
	matrixEndpoint  = "api.here.com/routing/7.2/calculatematrix.json"

	// ModeFastestCar is the default routing mode.
	ModeFastestCar = "fastest;car;traffic:disabled"
)

// RouteSummary totals a route.
type RouteSummary struct {
	Distance    float64 `json:"distance"`
	TrafficTime float64 `json:"trafficTime"`
	BaseTime    float64 `json:"baseTime"`
	TravelTime  float64 `json:"travelTime"`
	Text        string  `json:"text,omitempty"`
}

// RouteResult is the first route between the waypoints.
type RouteResult struct {
	Summary RouteSummary    `json:"summary"`
	Coords  []geo.LatLng    `json:"coords"`
	Route   json.RawMessage `json:"route"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// parseShape converts "lat,lng[,alt]" strings into coordinates.
func parseShape(shape []string) ([]geo.LatLng, error) {
	out := make([]geo.LatLng, 0, len(shape))
	for _, s := range shape {
		parts := strings.Split(s, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad shape point %q", s)
		}
		lat, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad shape point %q: %w", s, err)
		}
		lng, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad shape point %q: %w", s, err)
		}
		out = append(out, geo.LatLng{Lat: lat, Lng: lng})
	}
	return out, nil
}

// Route computes a route through sources then destinations, in order.
func (c *Client) Route(ctx context.Context, sources, dests []geo.LatLng, opt Params) (*RouteResult, error) {
	if len(sources) == 0 || len(dests) == 0 {
		return nil, fmt.Errorf("route: need a source and a destination: %w", ErrBadRequest)
	}
	q := c.query(Params{
		"mode":               ModeFastestCar,
		"representation":     "linkPaging",
		"routeattributes":    "waypoints,summary,shape",
		"maneuverattributes": "direction,action",
	}, opt)
	id := 0
	for _, ll := range append(append([]geo.LatLng(nil), sources...), dests...) {
		q.Set("waypoint"+strconv.Itoa(id), coord(ll))
		id++
	}

	body, err := c.rest(ctx, http.MethodPost, c.BuildURL("route", routeEndpoint), q, true)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	var reply struct {
		Response struct {
			Route []json.RawMessage `json:"route"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("route: decode: %w", err)
	}
	if len(reply.Response.Route) == 0 {
		return nil, fmt.Errorf("route: %w", ErrNotFound)
	}
	raw := reply.Response.Route[0]
	var route struct {
		Summary RouteSummary `json:"summary"`
		Shape   []string     `json:"shape"`
	}
	if err := json.Unmarshal(raw, &route); err != nil {
		return nil, fmt.Errorf("route: decode route: %w", err)
	}
	coords, err := parseShape(route.Shape)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	return &RouteResult{Summary: route.Summary, Coords: coords, Route: raw, Body: body}, nil
}

// IsolineRequest describes the area reachable from Start, or from which
// Destination is reachable, within Range.
type IsolineRequest struct {
	Start       *geo.LatLng
	Destination *geo.LatLng
	RangeType   string // "time" (seconds) or "distance" (meters)
	Range       int
	Mode        string
	Extra       Params
}

// IsolineResult is the outline of the first isoline component.
type IsolineResult struct {
	Poly []geo.LatLng    `json:"poly"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Isoline computes a reachability polygon.
func (c *Client) Isoline(ctx context.Context, req IsolineRequest) (*IsolineResult, error) {
	if req.Start == nil && req.Destination == nil {
		return nil, fmt.Errorf("isoline: missing start or destination: %w", ErrBadRequest)
	}
	if req.Range <= 0 {
		return nil, fmt.Errorf("isoline: missing range: %w", ErrBadRequest)
	}
	defaults := Params{
		"rangeType":      "time",
		"range":          strconv.Itoa(req.Range),
		"linkattributes": "sh",
		"mode":           ModeFastestCar,
	}
	if req.RangeType != "" {
		defaults["rangeType"] = req.RangeType
	}
	if req.Mode != "" {
		defaults["mode"] = req.Mode
	}
	if req.Start != nil {
		defaults["start"] = "geo!" + coord(*req.Start)
	}
	if req.Destination != nil {
		defaults["destination"] = "geo!" + coord(*req.Destination)
	}
	q := c.query(defaults, req.Extra)

	body, err := c.rest(ctx, http.MethodPost, c.BuildURL("isoline.route", isolineEndpoint), q, true)
	if err != nil {
		return nil, fmt.Errorf("isoline: %w", err)
	}
	var reply struct {
		Response struct {
			Isoline []struct {
				Component []struct {
					Shape []string `json:"shape"`
				} `json:"component"`
			} `json:"isoline"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("isoline: decode: %w", err)
	}
	if len(reply.Response.Isoline) == 0 || len(reply.Response.Isoline[0].Component) == 0 {
		return nil, fmt.Errorf("isoline: %w", ErrNotFound)
	}
	poly, err := parseShape(reply.Response.Isoline[0].Component[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("isoline: %w", err)
	}
	return &IsolineResult{Poly: poly, Body: body}, nil
}

// MatrixEntry is one start/destination cell.
type MatrixEntry struct {
	StartIndex       int    `json:"startIndex"`
	DestinationIndex int    `json:"destinationIndex"`
	Status           string `json:"status,omitempty"`
	Summary          struct {
		Distance   float64 `json:"distance"`
		TravelTime float64 `json:"travelTime"`
		CostFactor float64 `json:"costFactor,omitempty"`
	} `json:"summary"`
}

// Failed reports whether the cell could not be routed.
func (e MatrixEntry) Failed() bool { return e.Status == "failed" }

// MatrixResult lists the computed cells.
type MatrixResult struct {
	Entries []MatrixEntry   `json:"entries"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// Matrix computes travel time and distance from every source to every
// destination.
func (c *Client) Matrix(ctx context.Context, sources, dests []geo.LatLng, opt Params) (*MatrixResult, error) {
	if len(sources) == 0 || len(dests) == 0 {
		return nil, fmt.Errorf("matrix: need sources and destinations: %w", ErrBadRequest)
	}
	q := c.query(Params{"mode": "fastest;car;traffic:enabled", "summaryAttributes": "tt,di"}, opt)
	for i, ll := range sources {
		q.Set("start"+strconv.Itoa(i), coord(ll))
	}
	for i, ll := range dests {
		q.Set("destination"+strconv.Itoa(i), coord(ll))
	}

	body, err := c.rest(ctx, http.MethodPost, c.BuildURL("matrix.route", matrixEndpoint), q, true)
	if err != nil {
		return nil, fmt.Errorf("matrix: %w", err)
	}
	var reply struct {
		Response struct {
			MatrixEntry []MatrixEntry `json:"matrixEntry"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("matrix: decode: %w", err)
	}
	return &MatrixResult{Entries: reply.Response.MatrixEntry, Body: body}, nil
}

// DetourReference is the direct trip the waypoints are compared with.
// Distance/Time come from the outbound matrix, Distance2/Time2 from the
// inbound one.
type DetourReference struct {
	Start     geo.LatLng `json:"start"`
	Stop      geo.LatLng `json:"stop"`
	Distance  float64    `json:"distance"`
	Time      float64    `json:"time"`
	Distance2 float64    `json:"distance2"`
	Time2     float64    `json:"time2"`
}

// DetourWaypoint holds the legs start→waypoint (A) and waypoint→stop (B).
// A leg that could not be routed stays zero.
type DetourWaypoint struct {
	Coord geo.LatLng `json:"coord"`
	DistA float64    `json:"distA"`
	TimeA float64    `json:"timeA"`
	DistB float64    `json:"distB"`
	TimeB float64    `json:"timeB"`
}

// DetourResult ranks waypoints by the cost of visiting them on the way.
type DetourResult struct {
	Reference DetourReference  `json:"reference"`
	Waypoints []DetourWaypoint `json:"waypoints"`
}

// Detour computes, for each waypoint, the legs of going start→waypoint→stop
// next to the direct trip. The two matrices are requested concurrently.
func (c *Client) Detour(ctx context.Context, start, stop geo.LatLng, waypoints []geo.LatLng) (*DetourResult, error) {
	if len(waypoints) == 0 {
		return nil, fmt.Errorf("detour: missing waypoints: %w", ErrBadRequest)
	}
	opt := Params{"mode": ModeFastestCar}

	// Index 0 of each side is the direct trip.
	outbound := append([]geo.LatLng{stop}, waypoints...)
	inbound := append([]geo.LatLng{start}, waypoints...)

	var out, in *MatrixResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out, err = c.Matrix(gctx, []geo.LatLng{start}, outbound, opt)
		return err
	})
	g.Go(func() error {
		var err error
		in, err = c.Matrix(gctx, inbound, []geo.LatLng{stop}, opt)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detour: %w", err)
	}

	res := &DetourResult{
		Reference: DetourReference{Start: start, Stop: stop},
		Waypoints: make([]DetourWaypoint, len(waypoints)),
	}
	for i, w := range waypoints {
		res.Waypoints[i].Coord = w
	}
	for _, e := range out.Entries {
		if e.Failed() {
			continue
		}
		if e.DestinationIndex == 0 {
			res.Reference.Distance, res.Reference.Time = e.Summary.Distance, e.Summary.TravelTime
			continue
		}
		if i := e.DestinationIndex - 1; i < len(waypoints) {
			res.Waypoints[i].DistA, res.Waypoints[i].TimeA = e.Summary.Distance, e.Summary.TravelTime
		}
	}
	for _, e := range in.Entries {
		if e.Failed() {
			continue
		}
		if e.StartIndex == 0 {
			res.Reference.Distance2, res.Reference.Time2 = e.Summary.Distance, e.Summary.TravelTime
			continue
		}
		if i := e.StartIndex - 1; i < len(waypoints) {
			res.Waypoints[i].DistB, res.Waypoints[i].TimeB = e.Summary.Distance, e.Summary.TravelTime
		}
	}
	return res, nil
}
