package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Сервис описан вручную поверх well-known типов: запрос Empty, ответ Struct
// с полями usd_to_uah, btc_to_usd, eth_to_usd (десятичные строки) и timestamp (RFC3339).
const (
	ServiceName          = "ratefeed.RateService"
	GetLatestRatesMethod = "/ratefeed.RateService/GetLatestRates"
)

// Поля ответа GetLatestRates
const (
	FieldUSDToUAH  = "usd_to_uah"
	FieldBTCToUSD  = "btc_to_usd"
	FieldETHToUSD  = "eth_to_usd"
	FieldTimestamp = "timestamp"
)

// RateServiceServer серверная часть сервиса курсов
type RateServiceServer interface {
	GetLatestRates(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

func getLatestRatesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RateServiceServer).GetLatestRates(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetLatestRatesMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RateServiceServer).GetLatestRates(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RateServiceDesc описание сервиса для регистрации на grpc.Server
var RateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetLatestRates",
			Handler:    getLatestRatesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ratefeed.proto",
}

// RegisterRateServiceServer регистрирует реализацию сервиса курсов
func RegisterRateServiceServer(s grpc.ServiceRegistrar, srv RateServiceServer) {
	s.RegisterService(&RateServiceDesc, srv)
}
