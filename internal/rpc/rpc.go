// Package rpc serves the clustering sessions over gRPC.
//
// Messages are google.protobuf.Struct documents with the same shape as the
// JSON bodies of the HTTP API, so clients need no generated code beyond the
// well-known types.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/geocluster/internal/api"
	"github.com/banshee-data/geocluster/internal/monitoring"
	"github.com/banshee-data/geocluster/internal/session"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "geocluster.v1.Clusters"

// Full method names.
const (
	MethodListSessions = "/" + ServiceName + "/ListSessions"
	MethodBuild        = "/" + ServiceName + "/Build"
	MethodClusters     = "/" + ServiceName + "/Clusters"
	MethodTap          = "/" + ServiceName + "/Tap"
)

// maxMsgSize fits point sets of a few hundred thousand entries.
const maxMsgSize = 16 * 1024 * 1024

// Backend is the part of api.Service the gRPC front end needs.
type Backend interface {
	List() []session.Info
	Build(ctx context.Context, name string, req api.BuildRequest) (session.Info, error)
	Clusters(name string, zoom int, bound *orb.Bound) (*geojson.FeatureCollection, error)
	Tap(name string, req api.TapRequest) (*api.TapResult, error)
}

var _ Backend = (*api.Service)(nil)

// BuildRequest names the session to build.
type BuildRequest struct {
	Name string `json:"name"`
	api.BuildRequest
}

// ClustersRequest selects the markers of one zoom, optionally inside BBox
// given as [minLng, minLat, maxLng, maxLat].
type ClustersRequest struct {
	Name string    `json:"name"`
	Zoom int       `json:"zoom"`
	BBox []float64 `json:"bbox,omitempty"`
}

// TapRequest names the session to tap.
type TapRequest struct {
	Name string `json:"name"`
	api.TapRequest
}

// Server implements the Clusters service.
type Server struct {
	backend Backend

	mu       sync.Mutex
	listener net.Listener
}

// NewServer returns a server over backend.
func NewServer(backend Backend) *Server {
	return &Server{backend: backend}
}

// Register adds the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Serve listens on addr and serves until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done, then stops gracefully.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	s.Register(gs)

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, gs.GracefulStop)
	defer stop()

	monitoring.Logf("gRPC server listening on %s", lis.Addr())
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server: %w", err)
	}
	monitoring.Logf("gRPC server stopped")
	return nil
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) ListSessions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(map[string]any{"sessions": s.backend.List()})
}

func (s *Server) Build(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BuildRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	info, err := s.backend.Build(ctx, req.Name, req.BuildRequest)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(info)
}

func (s *Server) Clusters(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ClustersRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	var bound *orb.Bound
	switch len(req.BBox) {
	case 0:
	case 4:
		b := orb.Bound{Min: orb.Point{req.BBox[0], req.BBox[1]}, Max: orb.Point{req.BBox[2], req.BBox[3]}}
		if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
			return nil, status.Error(codes.InvalidArgument, "bbox minimum exceeds maximum")
		}
		bound = &b
	default:
		return nil, status.Errorf(codes.InvalidArgument, "bbox needs 4 values, got %d", len(req.BBox))
	}
	fc, err := s.backend.Clusters(req.Name, req.Zoom, bound)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(fc)
}

func (s *Server) Tap(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TapRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := s.backend.Tap(req.Name, req.TapRequest)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

// decode reads a Struct into v through its JSON form.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

// encode converts v to a Struct through its JSON form. v must encode as an
// object.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus classifies err the way the HTTP API does.
func toStatus(err error) error {
	var code codes.Code
	switch api.StatusFor(err) {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusConflict:
		code = codes.FailedPrecondition
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		code = codes.Unavailable
	default:
		code = codes.Internal
		monitoring.Logf("rpc: %v", err)
	}
	return status.Error(code, err.Error())
}
