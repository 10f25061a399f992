package control

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

// Gateway is the typed call surface of one unit over its shared channel.
// Calls made before MarkReady wait for readiness within their own timeout.
type Gateway interface {
	Ping(ctx context.Context) error
	Call(ctx context.Context, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error)
	MarkReady()
	Ready() <-chan struct{}
	IsReady() bool
}

func NewGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) Gateway {
	return &gateway{
		conn:         grpcClientConnection,
		healthClient: healthpb.NewHealthClient(grpcClientConnection),
		ready:        make(chan struct{}),
		logger:       logger,
	}
}

type gateway struct {
	conn         grpc.ClientConnInterface
	healthClient healthpb.HealthClient
	logger       logging.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func (gw *gateway) Ping(ctx context.Context) error {
	response, err := gw.healthClient.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return classifyError(err, "ping")
	}
	if response.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.NewApplicationError("server is not serving", nil).
			WithContext("status", response.GetStatus().String())
	}
	return nil
}

func (gw *gateway) Call(ctx context.Context, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error) {
	if timeout <= 0 {
		return nil, errors.NewValidationError("call timeout must be positive", nil).WithContext("method", method)
	}
	if request == nil {
		request = &structpb.Struct{}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-gw.ready:
	case <-ctx.Done():
		return nil, errors.NewNotReadyError("gateway is not ready", ctx.Err()).WithContext("method", method)
	}

	response := &structpb.Struct{}
	if err := gw.conn.Invoke(ctx, method, request, response); err != nil {
		gw.logger.Debugf("Call client gateway, method: %s: %v", method, err)
		return nil, classifyError(err, method)
	}
	gw.logger.Debugf("Call client gateway done, method: %s", method)
	return response, nil
}

func (gw *gateway) MarkReady() {
	gw.readyOnce.Do(func() { close(gw.ready) })
}

func (gw *gateway) Ready() <-chan struct{} {
	return gw.ready
}

func (gw *gateway) IsReady() bool {
	select {
	case <-gw.ready:
		return true
	default:
		return false
	}
}

// classifyError separates failures to reach the server from answers the server gave
func classifyError(err error, method string) error {
	st, ok := status.FromError(err)
	if !ok {
		return errors.NewNetworkError("call failed", err).WithContext("method", method)
	}

	switch st.Code() {
	case codes.Unavailable, codes.Canceled:
		return errors.NewNetworkError("server unreachable", err).WithContext("method", method)
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError("call timed out", err).WithContext("method", method)
	default:
		return errors.NewApplicationError(st.Message(), err).
			WithContext("method", method).
			WithContext("code", st.Code().String())
	}
}
