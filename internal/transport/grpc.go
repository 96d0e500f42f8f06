package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/cuemby/ringcoord/internal/logging"
)

// rawCodec passes []byte payloads through untouched. The coordinator's
// verbs already marshal their own request/reply structs to JSON before
// handing them to Transport, so grpc itself only needs to move bytes —
// there is no protoc-generated message type to encode against.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("transport: rawCodec cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("transport: rawCodec cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "ringcoord-raw" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// wireRequest is what actually crosses the wire for the single "Call"
// method: the verb name plus the Envelope, flattened into one byte slice
// so the codec above stays a trivial passthrough.
type wireRequest struct {
	Verb Verb
	Env  Envelope
}

// GRPCTransport implements Transport over a single grpc.ServiceDesc with
// one bidirectional-unary method, "Call", dispatched internally by verb —
// this sidesteps a protoc code-generation step entirely.
type GRPCTransport struct {
	address  string
	server   *grpc.Server
	handlers map[Verb]Handler
	dial     func(target string) (*grpc.ClientConn, error)
}

const serviceName = "ringcoord.transport.Verbs"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*grpcVerbServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Call",
			Handler:    callHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringcoord/transport.proto",
}

type grpcVerbServer interface {
	call(ctx context.Context, req *wireRequest) (*wireRequest, error)
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var raw []byte
	if err := dec(&raw); err != nil {
		return nil, err
	}
	req, err := decodeWireRequest(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "transport: malformed call: %v", err)
	}
	if interceptor == nil {
		resp, err := srv.(grpcVerbServer).call(ctx, req)
		if err != nil {
			return nil, err
		}
		return encodeWireRequest(resp)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Call"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		resp, err := srv.(grpcVerbServer).call(ctx, req.(*wireRequest))
		if err != nil {
			return nil, err
		}
		return encodeWireRequest(resp)
	}
	return interceptor(ctx, req, info, handler)
}

// NewGRPCTransport starts a grpc server listening on listenAddr, exposed
// under address (the advertised endpoint other nodes dial).
func NewGRPCTransport(address, listenAddr string, dialOpts ...grpc.DialOption) (*GRPCTransport, error) {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", listenAddr, err)
	}
	t := &GRPCTransport{
		address:  address,
		handlers: map[Verb]Handler{},
	}
	t.server = grpc.NewServer(grpc.ForceServerCodec(rawCodec{}))
	t.server.RegisterService(&serviceDesc, t)
	t.dial = func(target string) (*grpc.ClientConn, error) {
		opts := append([]grpc.DialOption{grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{}))}, dialOpts...)
		return grpc.NewClient(target, opts...)
	}

	go func() {
		if err := t.server.Serve(lis); err != nil {
			logging.Errorf("transport: grpc server on %s stopped: %v", listenAddr, err)
		}
	}()
	return t, nil
}

func (t *GRPCTransport) LocalAddress() string { return t.address }

func (t *GRPCTransport) RegisterHandler(verb Verb, fn Handler) {
	t.handlers[verb] = fn
}

// call implements grpcVerbServer on the server side: dispatch by verb to
// the registered handler.
func (t *GRPCTransport) call(ctx context.Context, req *wireRequest) (*wireRequest, error) {
	fn, ok := t.handlers[req.Verb]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "transport: no handler for verb %q", req.Verb)
	}
	reply, err := fn(ctx, req.Env)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return &wireRequest{Verb: req.Verb, Env: Envelope{Payload: reply}}, nil
}

func (t *GRPCTransport) Send(ctx context.Context, target string, verb Verb, env Envelope) ([]byte, error) {
	if env.SourceAddress == "" {
		env.SourceAddress = t.address
	}
	conn, err := t.dial(target)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", target, err)
	}
	defer conn.Close()

	reqBytes, err := encodeWireRequest(&wireRequest{Verb: verb, Env: env})
	if err != nil {
		return nil, err
	}
	var replyBytes []byte

	if err := conn.Invoke(ctx, "/"+serviceName+"/Call", reqBytes, &replyBytes); err != nil {
		return nil, err
	}
	resp, err := decodeWireRequest(replyBytes)
	if err != nil {
		return nil, err
	}
	return resp.Env.Payload, nil
}

func (t *GRPCTransport) Stop() { t.server.GracefulStop() }

// encodeWireRequest/decodeWireRequest implement a tiny length-prefixed
// framing for wireRequest, avoiding a dependency on encoding/gob or a
// protobuf descriptor for what is, on the wire, just a verb tag and an
// opaque payload.
func encodeWireRequest(r *wireRequest) (*[]byte, error) {
	verb := []byte(r.Verb)
	src := []byte(r.Env.SourceAddress)
	trace := []byte(r.Env.TraceID)

	buf := make([]byte, 0, 4+len(verb)+4+len(src)+4+len(trace)+8+8+4+len(r.Env.Payload))
	buf = appendChunk(buf, verb)
	buf = appendChunk(buf, src)
	buf = appendChunk(buf, trace)
	var shardBuf, maxBuf [8]byte
	binary.BigEndian.PutUint64(shardBuf[:], uint64(r.Env.SourceShard))
	binary.BigEndian.PutUint64(maxBuf[:], uint64(r.Env.MaxResultBytes))
	buf = append(buf, shardBuf[:]...)
	buf = append(buf, maxBuf[:]...)
	buf = appendChunk(buf, r.Env.Payload)
	return &buf, nil
}

func decodeWireRequest(raw []byte) (*wireRequest, error) {
	verb, rest, err := readChunk(raw)
	if err != nil {
		return nil, err
	}
	src, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	trace, rest, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 16 {
		return nil, fmt.Errorf("transport: truncated envelope header")
	}
	shard := binary.BigEndian.Uint64(rest[:8])
	maxBytes := binary.BigEndian.Uint64(rest[8:16])
	rest = rest[16:]
	payload, _, err := readChunk(rest)
	if err != nil {
		return nil, err
	}
	return &wireRequest{
		Verb: Verb(verb),
		Env: Envelope{
			SourceAddress:  string(src),
			SourceShard:    int(shard),
			MaxResultBytes: int64(maxBytes),
			TraceID:        string(trace),
			Payload:        payload,
		},
	}, nil
}

func appendChunk(buf []byte, chunk []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(chunk)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, chunk...)
}

func readChunk(buf []byte) (chunk []byte, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("transport: truncated chunk length")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, fmt.Errorf("transport: truncated chunk body")
	}
	return buf[:n], buf[n:], nil
}
