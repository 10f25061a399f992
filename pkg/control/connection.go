package control

import (
	"context"
	"fmt"

	"github.com/phayes/freeport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

const defaultHost = "127.0.0.1"

// SpawnFunc starts the server side of a connection listening on port
type SpawnFunc func(ctx context.Context, port int) error

// ConnectionOptions selects exactly one mode: attach to AttachPort, or allocate
// a free port and hand it to Spawn
type ConnectionOptions struct {
	Host        string
	AttachPort  int
	Spawn       SpawnFunc
	DialOptions []grpc.DialOption
}

type Connection interface {
	GRPC() grpc.ClientConnInterface
	Port() int
	Close() error
}

type connection struct {
	conn *grpc.ClientConn
	port int
}

func (c *connection) GRPC() grpc.ClientConnInterface { return c.conn }
func (c *connection) Port() int                      { return c.port }
func (c *connection) Close() error                   { return c.conn.Close() }

// NewConnection builds the shared channel used by every call to one endpoint.
// The channel connects lazily; readiness is established separately with RetryPing.
func NewConnection(ctx context.Context, options ConnectionOptions, logger logging.Logger) (Connection, error) {
	if err := validateConnectionOptions(options); err != nil {
		return nil, err
	}

	host := options.Host
	if host == "" {
		host = defaultHost
	}

	port := options.AttachPort
	if options.Spawn != nil {
		freePort, err := freeport.GetFreePort()
		if err != nil {
			return nil, errors.NewNetworkError("failed to allocate port", err)
		}
		port = freePort

		logger.Infof("Spawning server, host: %s, port: %d", host, port)
		if err := options.Spawn(ctx, port); err != nil {
			return nil, errors.NewProcessError("failed to spawn server", err).WithContext("port", port)
		}
	} else {
		logger.Infof("Attaching to server, host: %s, port: %d", host, port)
	}

	dialOptions := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, options.DialOptions...)

	target := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(target, dialOptions...)
	if err != nil {
		return nil, errors.NewNetworkError("failed to create client connection", err).WithContext("target", target)
	}

	logger.Debugf("Connection created, target: %s", target)
	return &connection{conn: conn, port: port}, nil
}

func validateConnectionOptions(options ConnectionOptions) error {
	attach := options.AttachPort != 0
	spawn := options.Spawn != nil
	switch {
	case attach && spawn:
		return errors.NewValidationError("attach port and spawn function are mutually exclusive", nil)
	case !attach && !spawn:
		return errors.NewValidationError("either attach port or spawn function is required", nil)
	case attach && (options.AttachPort < 0 || options.AttachPort > 65535):
		return errors.NewValidationError("attach port must be between 1 and 65535", nil).
			WithContext("port", options.AttachPort)
	}
	return nil
}
