package control

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/core-tools/hsu-master/pkg/domain"
	"github.com/core-tools/hsu-master/pkg/errors"
	"github.com/core-tools/hsu-master/pkg/logging"
)

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpcServerRegistrar.RegisterService(&masterServiceDesc, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	status, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		return nil, toStatusError(err)
	}
	response, err := encodeMasterStatus(*status)
	if err != nil {
		return nil, toStatusError(errors.NewInternalError("failed to encode status", err))
	}
	h.logger.Debugf("Status server handler done")
	return response, nil
}

func (h *grpcServerHandler) ListUnits(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	units, err := h.handler.ListUnits(ctx)
	if err != nil {
		h.logger.Errorf("ListUnits server handler: %v", err)
		return nil, toStatusError(err)
	}
	response, err := encodeUnitList(units)
	if err != nil {
		return nil, toStatusError(errors.NewInternalError("failed to encode unit list", err))
	}
	h.logger.Debugf("ListUnits server handler done, units: %d", len(units))
	return response, nil
}

func (h *grpcServerHandler) GetUnit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	id := request.GetFields()["id"].GetStringValue()
	unit, err := h.handler.GetUnit(ctx, id)
	if err != nil {
		h.logger.Errorf("GetUnit server handler, id: %s: %v", id, err)
		return nil, toStatusError(err)
	}
	response, err := encodeUnitInfo(*unit)
	if err != nil {
		return nil, toStatusError(errors.NewInternalError("failed to encode unit", err))
	}
	h.logger.Debugf("GetUnit server handler done, id: %s", id)
	return response, nil
}

func (h *grpcServerHandler) CallUnit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	fields := request.GetFields()
	id := fields["id"].GetStringValue()
	method := fields["method"].GetStringValue()
	timeout := time.Duration(fields["timeout_ms"].GetNumberValue()) * time.Millisecond

	response, err := h.handler.CallUnit(ctx, id, method, fields["request"].GetStructValue(), timeout)
	if err != nil {
		h.logger.Errorf("CallUnit server handler, id: %s, method: %s: %v", id, method, err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("CallUnit server handler done, id: %s, method: %s", id, method)
	return response, nil
}

func (h *grpcServerHandler) RestartUnit(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error) {
	id := request.GetFields()["id"].GetStringValue()
	if err := h.handler.RestartUnit(ctx, id); err != nil {
		h.logger.Errorf("RestartUnit server handler, id: %s: %v", id, err)
		return nil, toStatusError(err)
	}
	h.logger.Debugf("RestartUnit server handler done, id: %s", id)
	return &emptypb.Empty{}, nil
}
