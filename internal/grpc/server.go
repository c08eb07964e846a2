package grpc

import (
	"context"
	"time"

	"card-ledger/internal/cache"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// RateServer отдает последний снимок курсов из кеша
type RateServer struct {
	cache  *cache.RatesCache
	logger *logrus.Logger
}

// NewRateServer создает новый экземпляр RateServer
func NewRateServer(ratesCache *cache.RatesCache, logger *logrus.Logger) *RateServer {
	return &RateServer{
		cache:  ratesCache,
		logger: logger,
	}
}

// GetLatestRates возвращает текущие курсы
func (s *RateServer) GetLatestRates(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snapshot, ok := s.cache.Latest()
	if !ok {
		s.logger.Warn("GetLatestRates requested before any rates were recorded")
		return nil, status.Error(codes.Unavailable, "rates are not available yet")
	}

	resp, err := structpb.NewStruct(map[string]interface{}{
		FieldUSDToUAH:  snapshot.USDToUAH.String(),
		FieldBTCToUSD:  snapshot.BTCToUSD.String(),
		FieldETHToUSD:  snapshot.ETHToUSD.String(),
		FieldTimestamp: snapshot.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Errorf("Failed to encode rates: %v", err)
		return nil, status.Errorf(codes.Internal, "failed to encode rates: %v", err)
	}

	return resp, nil
}

// LoggingInterceptor создает interceptor для логирования gRPC запросов
func LoggingInterceptor(log *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			log.Errorf("gRPC method: %s, duration: %v, error: %v", info.FullMethod, duration, err)
		} else {
			log.Infof("gRPC method: %s, duration: %v, status: success", info.FullMethod, duration)
		}

		return resp, err
	}
}
