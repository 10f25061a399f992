package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const MasterServiceName = "hsu.master.MasterService"

const (
	masterStatusMethod      = "/" + MasterServiceName + "/Status"
	masterListUnitsMethod   = "/" + MasterServiceName + "/ListUnits"
	masterGetUnitMethod     = "/" + MasterServiceName + "/GetUnit"
	masterCallUnitMethod    = "/" + MasterServiceName + "/CallUnit"
	masterRestartUnitMethod = "/" + MasterServiceName + "/RestartUnit"
)

type masterServiceServer interface {
	Status(ctx context.Context, request *emptypb.Empty) (*structpb.Struct, error)
	ListUnits(ctx context.Context, request *emptypb.Empty) (*structpb.Struct, error)
	GetUnit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	CallUnit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	RestartUnit(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error)
}

var masterServiceDesc = grpc.ServiceDesc{
	ServiceName: MasterServiceName,
	HandlerType: (*masterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Status", newEmpty, func(s masterServiceServer, ctx context.Context, request proto.Message) (proto.Message, error) {
			return s.Status(ctx, request.(*emptypb.Empty))
		}),
		unaryMethod("ListUnits", newEmpty, func(s masterServiceServer, ctx context.Context, request proto.Message) (proto.Message, error) {
			return s.ListUnits(ctx, request.(*emptypb.Empty))
		}),
		unaryMethod("GetUnit", newStruct, func(s masterServiceServer, ctx context.Context, request proto.Message) (proto.Message, error) {
			return s.GetUnit(ctx, request.(*structpb.Struct))
		}),
		unaryMethod("CallUnit", newStruct, func(s masterServiceServer, ctx context.Context, request proto.Message) (proto.Message, error) {
			return s.CallUnit(ctx, request.(*structpb.Struct))
		}),
		unaryMethod("RestartUnit", newStruct, func(s masterServiceServer, ctx context.Context, request proto.Message) (proto.Message, error) {
			return s.RestartUnit(ctx, request.(*structpb.Struct))
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hsu/master/master_service.proto",
}

func newEmpty() proto.Message  { return &emptypb.Empty{} }
func newStruct() proto.Message { return &structpb.Struct{} }

type unaryCall func(s masterServiceServer, ctx context.Context, request proto.Message) (proto.Message, error)

func unaryMethod(name string, newRequest func() proto.Message, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + MasterServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			request := newRequest()
			if err := dec(request); err != nil {
				return nil, err
			}
			server := srv.(masterServiceServer)
			if interceptor == nil {
				return call(server, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(proto.Message))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}
