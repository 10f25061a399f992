package control

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	testEchoMethod = "/test.EchoService/Echo"
	testFailMethod = "/test.EchoService/Fail"
	testSlowMethod = "/test.EchoService/Slow"
)

type structHandler func(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)

func testMethod(name string, handle structHandler) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			request := &structpb.Struct{}
			if err := dec(request); err != nil {
				return nil, err
			}
			return handle(ctx, request)
		},
	}
}

var testEchoServiceDesc = grpc.ServiceDesc{
	ServiceName: "test.EchoService",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		testMethod("Echo", func(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
			return request, nil
		}),
		testMethod("Fail", func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
			return nil, status.Error(codes.InvalidArgument, "bad input")
		}),
		testMethod("Slow", func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
			<-ctx.Done()
			return nil, status.FromContextError(ctx.Err()).Err()
		}),
	},
}

// newBufconnServer serves the given services and the health service on an in-memory listener
// and returns the health server together with a client channel to it
func newBufconnServer(t *testing.T, register func(grpc.ServiceRegistrar)) (*health.Server, grpc.ClientConnInterface) {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	if register != nil {
		register(server)
	}
	go server.Serve(listener)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		server.Stop()
	})
	return healthServer, conn
}

func registerEcho(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&testEchoServiceDesc, struct{}{})
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}
