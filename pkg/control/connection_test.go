package control

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

func TestNewConnection_Validation(t *testing.T) {
	spawn := func(context.Context, int) error { return nil }
	tests := []struct {
		name    string
		options ConnectionOptions
	}{
		{"neither mode", ConnectionOptions{}},
		{"both modes", ConnectionOptions{AttachPort: 5000, Spawn: spawn}},
		{"port out of range", ConnectionOptions{AttachPort: 70000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConnection(context.Background(), tt.options, logging.NewNullLogger())
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}
}

func TestNewConnection_SpawnModeHandsPortToServer(t *testing.T) {
	var server *Server
	spawn := func(_ context.Context, port int) error {
		var err error
		server, err = NewServer(ServerOptions{Port: port}, logging.NewNullLogger())
		if err != nil {
			return err
		}
		registerEcho(server.Registrar())
		server.SetServing(true)
		server.Run()
		return nil
	}

	conn, err := NewConnection(context.Background(), ConnectionOptions{Spawn: spawn}, logging.NewNullLogger())
	require.NoError(t, err)
	defer conn.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(ctx)
	}()

	assert.Equal(t, server.Port(), conn.Port())

	gw := NewGateway(conn.GRPC(), logging.NewNullLogger())
	require.NoError(t, RetryPing(context.Background(), gw, RetryPingOptions{RetryAttempts: 20, RetryInterval: 50 * time.Millisecond}, logging.NewNullLogger()))
	assert.True(t, gw.IsReady())
}

func TestNewConnection_SpawnFailure(t *testing.T) {
	spawn := func(context.Context, int) error { return fmt.Errorf("exec failed") }

	_, err := NewConnection(context.Background(), ConnectionOptions{Spawn: spawn}, logging.NewNullLogger())
	require.Error(t, err)
	assert.True(t, errors.IsProcessError(err))
}

func TestNewConnection_AttachMode(t *testing.T) {
	server, err := NewServer(ServerOptions{}, logging.NewNullLogger())
	require.NoError(t, err)
	server.SetServing(true)
	server.Run()
	defer server.Stop(context.Background())

	conn, err := NewConnection(context.Background(), ConnectionOptions{AttachPort: server.Port()}, logging.NewNullLogger())
	require.NoError(t, err)
	defer conn.Close()

	gw := NewGateway(conn.GRPC(), logging.NewNullLogger())
	require.NoError(t, gw.Ping(context.Background()))
}
