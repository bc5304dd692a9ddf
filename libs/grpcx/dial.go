package grpcx

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// CallTimeout bounds every unary call that has no earlier deadline. Zero disables it.
	CallTimeout time.Duration
	// Logger, when set, records failed calls and calls slower than SlowCall.
	Logger   *slog.Logger
	SlowCall time.Duration
	// Nil means insecure credentials; TLS is expected to be terminated by the mesh.
	TransportCredentials grpc.DialOption
}

// Dial creates a lazily connecting client; the first RPC establishes the connection.
// Interceptors run request id first, then logging, then the timeout closest to the wire.
func Dial(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	interceptors := []grpc.UnaryClientInterceptor{UnaryClientRequestIDInterceptor()}
	if opts.Logger != nil {
		interceptors = append(interceptors, UnaryClientLoggingInterceptor(opts.Logger, opts.SlowCall))
	}
	if opts.CallTimeout > 0 {
		interceptors = append(interceptors, UnaryClientTimeoutInterceptor(opts.CallTimeout))
	}

	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(interceptors...),
		creds,
	}, extra...)

	return grpc.NewClient(addr, dialOpts...)
}
