package grpc

import (
	"context"
	"fmt"
	"time"

	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// RateClient клиент сервиса курсов exchanger, используется как источник для ratefeed
type RateClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *logrus.Logger
}

// NewRateClient создает новый gRPC клиент
func NewRateClient(host, port string, timeout time.Duration, logger *logrus.Logger, opts ...grpc.DialOption) (*RateClient, error) {
	address := fmt.Sprintf("%s:%s", host, port)

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to exchanger service: %w", err)
	}

	logger.Infof("Connected to exchanger service at %s", address)

	return &RateClient{
		conn:    conn,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// FetchRates запрашивает последний снимок курсов
func (c *RateClient) FetchRates(ctx context.Context) (storages.RateTriple, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.logger.Debug("Requesting latest rates from exchanger service")

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetLatestRatesMethod, &emptypb.Empty{}, resp); err != nil {
		c.logger.Errorf("Failed to get latest rates: %v", err)
		return storages.RateTriple{}, fmt.Errorf("failed to get latest rates: %w", err)
	}

	var (
		rates storages.RateTriple
		err   error
	)
	if rates.USDToUAH, err = decimalField(resp, FieldUSDToUAH); err != nil {
		return storages.RateTriple{}, err
	}
	if rates.BTCToUSD, err = decimalField(resp, FieldBTCToUSD); err != nil {
		return storages.RateTriple{}, err
	}
	if rates.ETHToUSD, err = decimalField(resp, FieldETHToUSD); err != nil {
		return storages.RateTriple{}, err
	}
	return rates, nil
}

// Close закрывает соединение
func (c *RateClient) Close() error {
	return c.conn.Close()
}

func decimalField(s *structpb.Struct, name string) (decimal.Decimal, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates response: field %s missing", name)
	}
	d, err := decimal.NewFromString(v.GetStringValue())
	if err != nil {
		return decimal.Zero, fmt.Errorf("rates response: field %s: %w", name, err)
	}
	return d, nil
}
