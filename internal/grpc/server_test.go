package grpc

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"card-ledger/internal/cache"
	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func startServer(t *testing.T, ratesCache *cache.RatesCache) *RateClient {
	t.Helper()
	logger := quietLogger()

	listener := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
	RegisterRateServiceServer(srv, NewRateServer(ratesCache, logger))
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	client, err := NewRateClient("bufnet", "0", time.Second, logger,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateService_GetLatestRates(t *testing.T) {
	ratesCache := cache.NewRatesCache(nil, quietLogger())
	_, err := ratesCache.Record(context.Background(), storages.RateTriple{
		USDToUAH: decimal.RequireFromString("41.25"),
		BTCToUSD: decimal.RequireFromString("68290.25"),
		ETHToUSD: decimal.RequireFromString("3850.75"),
	})
	require.NoError(t, err)

	client := startServer(t, ratesCache)

	rates, err := client.FetchRates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "41.25", rates.USDToUAH.String())
	assert.Equal(t, "68290.25", rates.BTCToUSD.String())
	assert.Equal(t, "3850.75", rates.ETHToUSD.String())
}

func TestRateService_Unavailable(t *testing.T) {
	client := startServer(t, cache.NewRatesCache(nil, quietLogger()))

	_, err := client.FetchRates(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
