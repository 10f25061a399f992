package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
	flags "github.com/jessevdk/go-flags"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/control"
	"github.com/core-tools/hsu-master/pkg/logging"
)

// Integrated test unit: serves gRPC health plus hsu.echo.EchoService on --port

type flagOptions struct {
	Port        int `long:"port" description:"port to listen on" required:"true"`
	RunDuration int `long:"run-duration" description:"Duration in seconds to run the unit (debug feature)"`
	MemoryMB    int `long:"memory-mb" description:"Memory in Megabytes to allocate (debug feature)"`
}

type echoService struct {
	logger   logging.Logger
	shutdown chan struct{}
}

func unaryStructMethod(name string, call func(s *echoService, ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			request := &structpb.Struct{}
			if err := dec(request); err != nil {
				return nil, err
			}
			return call(srv.(*echoService), ctx, request)
		},
	}
}

var echoServiceDesc = grpc.ServiceDesc{
	ServiceName: "hsu.echo.EchoService",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		unaryStructMethod("Echo", (*echoService).echo),
		unaryStructMethod("PrepareShutdown", (*echoService).prepareShutdown),
	},
}

func (s *echoService) echo(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	s.logger.Debugf("Echo, fields: %d", len(request.GetFields()))
	return request, nil
}

func (s *echoService) prepareShutdown(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	s.logger.Infof("Preparing for shutdown")
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	return &structpb.Struct{}, nil
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapLogger(logging.DefaultZapConfig())
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()
	coreLogger := coreLogging.NewLogger(
		logging.ModulePrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: sugar.Debugf,
			Infof:  sugar.Infof,
			Warnf:  sugar.Warnf,
			Errorf: sugar.Errorf,
		})
	logger := logging.NewLogger(logging.ModulePrefix("echotest"), logging.NewZapLogFuncs(sugar))

	logger.Infof("Running Echotest, opts: %+v...", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	var s []byte
	if opts.MemoryMB > 0 {
		logger.Infof("Using MEMORY MB of %d Megabytes", opts.MemoryMB)
		s = make([]byte, opts.MemoryMB*1024*1024)
	}
	for i := 0; i < len(s); i++ {
		s[i] = 0
	}

	server, err := control.NewServer(control.ServerOptions{
		Port:        opts.Port,
		CoreHandler: coreDomain.NewDefaultHandler(coreLogger),
		CoreLogger:  coreLogger,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to create server: %v", err)
		os.Exit(1)
	}
	service := &echoService{logger: logger, shutdown: make(chan struct{})}
	server.Registrar().RegisterService(&echoServiceDesc, service)
	server.Run()
	server.SetServing(true)

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	logger.Infof("Echotest is ready, port: %d", server.Port())

	select {
	case receivedSignal := <-sig:
		logger.Infof("Echotest received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Echotest timed out")
	}

	server.SetServing(false)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(stopCtx)

	logger.Infof("Echotest stopped, shutdown prepared: %t", isClosed(service.shutdown))
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
