package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/process"
)

type httpChecker struct {
	config HTTPHealthCheckConfig
	client *http.Client
}

func newHTTPChecker(config HTTPHealthCheckConfig) *httpChecker {
	return &httpChecker{config: config, client: &http.Client{}}
}

func (c *httpChecker) Check(ctx context.Context) error {
	method := c.config.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.URL, nil)
	if err != nil {
		return errors.NewValidationError("failed to create HTTP request", err).WithContext("url", c.config.URL)
	}
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return probeError(ctx, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	// Consider 2xx status codes as healthy
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewHealthCheckError(fmt.Sprintf("HTTP health check failed: %s", resp.Status), nil).
			WithContext("url", c.config.URL)
	}
	return nil
}

type grpcChecker struct {
	config GRPCHealthCheckConfig

	mutex sync.Mutex
	conn  *grpc.ClientConn
}

func newGRPCChecker(config GRPCHealthCheckConfig) *grpcChecker {
	return &grpcChecker{config: config}
}

func (c *grpcChecker) client() (healthpb.HealthClient, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil {
		conn, err := grpc.NewClient(c.config.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, errors.NewNetworkError("failed to create gRPC client", err).WithContext("address", c.config.Address)
		}
		c.conn = conn
	}
	return healthpb.NewHealthClient(c.conn), nil
}

func (c *grpcChecker) Check(ctx context.Context) error {
	client, err := c.client()
	if err != nil {
		return err
	}

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: c.config.Service})
	if err != nil {
		return probeError(ctx, "gRPC health check failed", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errors.NewHealthCheckError("gRPC service not serving", nil).
			WithContext("address", c.config.Address).
			WithContext("status", resp.GetStatus().String())
	}
	return nil
}

func (c *grpcChecker) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

type tcpChecker struct {
	address string
}

func newTCPChecker(config TCPHealthCheckConfig) *tcpChecker {
	return &tcpChecker{address: net.JoinHostPort(config.Address, strconv.Itoa(config.Port))}
}

func (c *tcpChecker) Check(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return probeError(ctx, "TCP connection failed", err)
	}
	return conn.Close()
}

type execChecker struct {
	config ExecHealthCheckConfig
}

func newExecChecker(config ExecHealthCheckConfig) *execChecker {
	return &execChecker{config: config}
}

func (c *execChecker) Check(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return probeError(ctx, "exec health check failed", err).
			WithContext("output", strings.TrimSpace(string(output)))
	}
	return nil
}

type processChecker struct {
	pid PIDFunc
}

func newProcessChecker(pid PIDFunc) *processChecker {
	return &processChecker{pid: pid}
}

func (c *processChecker) Check(ctx context.Context) error {
	pid := c.pid()
	if pid <= 0 {
		return errors.NewHealthCheckError("no process to check", nil)
	}

	running, err := process.IsProcessRunning(pid)
	if err != nil {
		return errors.NewHealthCheckError("failed to check process", err).WithContext("pid", pid)
	}
	if !running {
		return errors.NewHealthCheckError("process not running", nil).WithContext("pid", pid)
	}
	return nil
}
