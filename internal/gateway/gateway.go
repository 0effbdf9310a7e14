// Package gateway exposes Manager.RemoteCall over gRPC for external
// callers, using a hand-registered grpc.ServiceDesc with a JSON codec
// instead of generated protobuf stubs — the same no-protoc pattern
// tinySQL's cmd/server/main.go uses for its own gRPC surface.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/pagekv/pagekv/internal/job"
	"github.com/pagekv/pagekv/internal/util/log"
)

func init() { encoding.RegisterCodec(jsonCodec{}) }

// CallRequest is one RemoteCall request over the wire.
type CallRequest struct {
	Order   string `json:"order"`
	Value   []byte `json:"value"`
	OrderID uint32 `json:"orderId"`
}

// CallResponse is the RemoteCall result sent back to the caller.
type CallResponse struct {
	Committed bool   `json:"committed"`
	Value     []byte `json:"value"`
	Error     string `json:"error,omitempty"`
}

// RemoteCaller is the subset of *manager.Manager the gateway depends on,
// kept narrow so manager doesn't need to import gateway.
type RemoteCaller interface {
	RemoteCall(order string, value []byte, id job.OrderID) (job.Result, error)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                        { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)        { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error   { return json.Unmarshal(data, v) }

// pagekvServer implements the one-method gRPC service by hand.
type pagekvServer struct {
	mgr RemoteCaller
}

func (s *pagekvServer) call(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	res, err := s.mgr.RemoteCall(req.Order, req.Value, job.OrderID(req.OrderID))
	if err != nil {
		return &CallResponse{Error: err.Error()}, nil
	}
	resp := &CallResponse{Committed: res.Committed, Value: res.Value}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp, nil
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*pagekvServer).call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pagekv.Engine/Call"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*pagekvServer).call(ctx, req.(*CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "pagekv.Engine",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pagekv.proto",
}

// Gateway runs the gRPC server fronting a Manager.
type Gateway struct {
	srv *grpc.Server
}

// New constructs a gateway bound to mgr. The JSON codec it relies on is
// registered once by this package's init, not here.
func New(mgr RemoteCaller) *Gateway {
	gs := grpc.NewServer()
	gs.RegisterService(&serviceDesc, &pagekvServer{mgr: mgr})
	return &Gateway{srv: gs}
}

// Serve blocks accepting gRPC connections on addr until the listener
// errors or Stop is called.
func (g *Gateway) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}
	log.Info("gateway: listening", "addr", addr)
	return g.srv.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (g *Gateway) Stop() { g.srv.GracefulStop() }
