package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

type fakeContract struct {
	units     map[string]domain.UnitInfo
	restarted []string
	lastCall  struct {
		id      string
		method  string
		timeout time.Duration
	}
}

func (c *fakeContract) Status(context.Context) (*domain.MasterStatus, error) {
	return &domain.MasterStatus{
		InstanceID: "instance-1",
		State:      "serving",
		StartedAt:  testEpoch,
		Units:      map[string]int{"running": 1, "unhealthy": 1},
	}, nil
}

func (c *fakeContract) ListUnits(context.Context) ([]domain.UnitInfo, error) {
	return []domain.UnitInfo{c.units["alpha"], c.units["beta"]}, nil
}

func (c *fakeContract) GetUnit(_ context.Context, id string) (*domain.UnitInfo, error) {
	unit, ok := c.units[id]
	if !ok {
		return nil, errors.NewNotFoundError("unit not found", nil).WithContext("id", id)
	}
	return &unit, nil
}

func (c *fakeContract) CallUnit(_ context.Context, id string, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error) {
	c.lastCall.id, c.lastCall.method, c.lastCall.timeout = id, method, timeout
	if id == "beta" {
		return nil, errors.NewNetworkError("unit unreachable", nil)
	}
	return request, nil
}

func (c *fakeContract) RestartUnit(_ context.Context, id string) error {
	if id == "beta" {
		return errors.NewUnsupportedError("unit is not managed", nil)
	}
	c.restarted = append(c.restarted, id)
	return nil
}

func newMasterClient(t *testing.T) (*fakeContract, domain.Contract) {
	contract := &fakeContract{units: map[string]domain.UnitInfo{
		"alpha": {
			ID:          "alpha",
			Kind:        domain.UnitKindManaged,
			Status:      "running",
			Required:    true,
			PID:         4242,
			Port:        50051,
			Restarts:    2,
			StatusSince: testEpoch,
		},
		"beta": {ID: "beta", Kind: domain.UnitKindUnmanaged, Status: "unhealthy", LastError: "connection refused"},
	}}
	_, conn := newBufconnServer(t, func(registrar grpc.ServiceRegistrar) {
		RegisterGRPCServerHandler(registrar, contract, logging.NewNullLogger())
	})
	return contract, NewGRPCClientGateway(conn, logging.NewNullLogger())
}

func TestMasterService_StatusAndUnits(t *testing.T) {
	contract, client := newMasterClient(t)
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "instance-1", status.InstanceID)
	assert.Equal(t, "serving", status.State)
	assert.True(t, status.StartedAt.Equal(testEpoch))
	assert.Equal(t, map[string]int{"running": 1, "unhealthy": 1}, status.Units)

	units, err := client.ListUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "alpha", units[0].ID)
	assert.Equal(t, "beta", units[1].ID)

	unit, err := client.GetUnit(ctx, "alpha")
	require.NoError(t, err)
	expected := contract.units["alpha"]
	assert.Equal(t, expected.Kind, unit.Kind)
	assert.Equal(t, expected.PID, unit.PID)
	assert.Equal(t, expected.Port, unit.Port)
	assert.Equal(t, expected.Restarts, unit.Restarts)
	assert.True(t, unit.Required)
	assert.True(t, unit.StatusSince.Equal(testEpoch))
	assert.True(t, unit.LastCheck.IsZero())

	_, err = client.GetUnit(ctx, "gamma")
	assert.True(t, errors.IsNotFoundError(err), "got %v", err)
}

func TestMasterService_CallUnit(t *testing.T) {
	contract, client := newMasterClient(t)
	ctx := context.Background()

	response, err := client.CallUnit(ctx, "alpha", "/hsu.echo.EchoService/Echo", mustStruct(t, map[string]interface{}{"text": "hello"}), 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", response.GetFields()["text"].GetStringValue())
	assert.Equal(t, "/hsu.echo.EchoService/Echo", contract.lastCall.method)
	assert.Equal(t, 3*time.Second, contract.lastCall.timeout)

	_, err = client.CallUnit(ctx, "beta", "/hsu.echo.EchoService/Echo", nil, time.Second)
	assert.True(t, errors.IsNetworkError(err), "got %v", err)
}

func TestMasterService_RestartUnit(t *testing.T) {
	contract, client := newMasterClient(t)
	ctx := context.Background()

	require.NoError(t, client.RestartUnit(ctx, "alpha"))
	assert.Equal(t, []string{"alpha"}, contract.restarted)

	err := client.RestartUnit(ctx, "beta")
	assert.True(t, errors.IsUnsupportedError(err), "got %v", err)
}
