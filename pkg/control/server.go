package control

import (
	"context"
	"sync"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/phayes/freeport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

type ServerOptions struct {
	// Port 0 picks a free port
	Port int
	// CoreHandler answers the core Ping contract; the default handler always succeeds
	CoreHandler coredomain.Contract
	// CoreLogger receives the core server logs; defaults to the server logger
	CoreLogger corelogging.Logger
}

// Server is a core server on the loopback interface that also carries the
// standard gRPC health service and the core Ping contract
type Server struct {
	core         corecontrol.Server
	healthServer *health.Server
	port         int
	logger       logging.Logger

	runOnce  sync.Once
	stopOnce sync.Once
}

func NewServer(options ServerOptions, logger logging.Logger) (*Server, error) {
	port := options.Port
	if port == 0 {
		var err error
		port, err = freeport.GetFreePort()
		if err != nil {
			return nil, errors.NewNetworkError("failed to allocate server port", err)
		}
	}

	coreLogger := options.CoreLogger
	if coreLogger == nil {
		coreLogger = logger
	}

	core, err := corecontrol.NewServer(corecontrol.ServerOptions{Port: port}, coreLogger)
	if err != nil {
		return nil, errors.NewNetworkError("failed to listen", err).WithContext("port", port)
	}

	coreHandler := options.CoreHandler
	if coreHandler == nil {
		coreHandler = coredomain.NewDefaultHandler(coreLogger)
	}
	corecontrol.RegisterGRPCServerHandler(core.GRPC(), coreHandler, coreLogger)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(core.GRPC(), healthServer)

	return &Server{
		core:         core,
		healthServer: healthServer,
		port:         port,
		logger:       logger,
	}, nil
}

func (s *Server) Registrar() grpc.ServiceRegistrar {
	return s.core.GRPC()
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
}

// Run serves in the background until Stop
func (s *Server) Run() {
	s.runOnce.Do(func() {
		s.logger.Infof("Server starting, port: %d", s.port)
		s.core.Start(context.Background())
	})
}

// Stop drains in-flight calls until ctx is done, then closes remaining connections
func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.healthServer.Shutdown()
		// a server that never ran still owns its listener
		s.Run()
		s.core.Shutdown(ctx)
		s.logger.Infof("Server stopped, port: %d", s.port)
	})
}
