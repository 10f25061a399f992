package control

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/logging"
)

// callUnitOverhead is added to the forwarded call timeout so the master can
// report the unit's own timeout before the client gives up
const callUnitOverhead = 2 * time.Second

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	return &grpcClientGateway{
		conn:   grpcClientConnection,
		logger: logger,
	}
}

type grpcClientGateway struct {
	conn   grpc.ClientConnInterface
	logger logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (*domain.MasterStatus, error) {
	response := &structpb.Struct{}
	if err := gw.conn.Invoke(ctx, masterStatusMethod, &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return nil, fromStatusError(err, masterStatusMethod)
	}
	gw.logger.Debugf("Status client gateway done")
	status := decodeMasterStatus(response)
	return &status, nil
}

func (gw *grpcClientGateway) ListUnits(ctx context.Context) ([]domain.UnitInfo, error) {
	response := &structpb.Struct{}
	if err := gw.conn.Invoke(ctx, masterListUnitsMethod, &emptypb.Empty{}, response); err != nil {
		gw.logger.Errorf("ListUnits client gateway: %v", err)
		return nil, fromStatusError(err, masterListUnitsMethod)
	}
	gw.logger.Debugf("ListUnits client gateway done")
	return decodeUnitList(response), nil
}

func (gw *grpcClientGateway) GetUnit(ctx context.Context, id string) (*domain.UnitInfo, error) {
	response := &structpb.Struct{}
	if err := gw.conn.Invoke(ctx, masterGetUnitMethod, unitIDRequest(id), response); err != nil {
		gw.logger.Errorf("GetUnit client gateway, id: %s: %v", id, err)
		return nil, fromStatusError(err, masterGetUnitMethod)
	}
	gw.logger.Debugf("GetUnit client gateway done, id: %s", id)
	unit := decodeUnitInfo(response)
	return &unit, nil
}

func (gw *grpcClientGateway) CallUnit(ctx context.Context, id string, method string, request *structpb.Struct, timeout time.Duration) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+callUnitOverhead)
	defer cancel()

	response := &structpb.Struct{}
	if err := gw.conn.Invoke(ctx, masterCallUnitMethod, callUnitRequest(id, method, request, timeout), response); err != nil {
		gw.logger.Errorf("CallUnit client gateway, id: %s, method: %s: %v", id, method, err)
		return nil, fromStatusError(err, masterCallUnitMethod)
	}
	gw.logger.Debugf("CallUnit client gateway done, id: %s, method: %s", id, method)
	return response, nil
}

func (gw *grpcClientGateway) RestartUnit(ctx context.Context, id string) error {
	if err := gw.conn.Invoke(ctx, masterRestartUnitMethod, unitIDRequest(id), &emptypb.Empty{}); err != nil {
		gw.logger.Errorf("RestartUnit client gateway, id: %s: %v", id, err)
		return fromStatusError(err, masterRestartUnitMethod)
	}
	gw.logger.Debugf("RestartUnit client gateway done, id: %s", id)
	return nil
}
