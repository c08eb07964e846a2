package ratefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"card-ledger/internal/storages"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCoinGeckoURL    = "https://api.coingecko.com/api/v3"
	DefaultCoinGeckoProURL = "https://pro-api.coingecko.com/api/v3"
	DefaultUSDRatesURL     = "https://open.er-api.com/v6/latest/USD"

	coinGeckoKeyHeader = "x-cg-pro-api-key"
	userAgent          = "card-ledger/1.0"
)

// coinGeckoResponse ответ /simple/price?ids=bitcoin,ethereum&vs_currencies=usd
type coinGeckoResponse struct {
	Bitcoin struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"bitcoin"`
	Ethereum struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"ethereum"`
}

// usdRatesResponse ответ open.er-api.com
type usdRatesResponse struct {
	Result string                     `json:"result"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// HTTPSourceConfig настройки HTTP источника курсов
type HTTPSourceConfig struct {
	CoinGeckoURL    string
	CoinGeckoProURL string
	CoinGeckoAPIKey string
	USDRatesURL     string
	Timeout         time.Duration
}

// HTTPSource получает криптокурсы из CoinGecko, а курс USD/UAH из open.er-api.com
type HTTPSource struct {
	cfg        HTTPSourceConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHTTPSource создает HTTP источник курсов
func NewHTTPSource(cfg HTTPSourceConfig, logger *logrus.Logger) *HTTPSource {
	if cfg.CoinGeckoURL == "" {
		cfg.CoinGeckoURL = DefaultCoinGeckoURL
	}
	if cfg.CoinGeckoProURL == "" {
		cfg.CoinGeckoProURL = DefaultCoinGeckoProURL
	}
	if cfg.USDRatesURL == "" {
		cfg.USDRatesURL = DefaultUSDRatesURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &HTTPSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// FetchRates получает полный набор курсов
func (s *HTTPSource) FetchRates(ctx context.Context) (storages.RateTriple, error) {
	crypto, err := s.fetchCrypto(ctx)
	if err != nil {
		return storages.RateTriple{}, err
	}

	usdToUah, err := s.fetchUSDToUAH(ctx)
	if err != nil {
		return storages.RateTriple{}, err
	}

	rates := storages.RateTriple{
		USDToUAH: usdToUah,
		BTCToUSD: crypto.Bitcoin.USD,
		ETHToUSD: crypto.Ethereum.USD,
	}
	if err := rates.Validate(); err != nil {
		return storages.RateTriple{}, err
	}
	return rates, nil
}

// fetchCrypto сначала пробует Pro API, если задан ключ, затем бесплатный
func (s *HTTPSource) fetchCrypto(ctx context.Context) (*coinGeckoResponse, error) {
	const path = "/simple/price?ids=bitcoin,ethereum&vs_currencies=usd"

	var resp coinGeckoResponse
	if s.cfg.CoinGeckoAPIKey != "" {
		err := s.getJSON(ctx, strings.TrimRight(s.cfg.CoinGeckoProURL, "/")+path,
			map[string]string{coinGeckoKeyHeader: s.cfg.CoinGeckoAPIKey}, &resp)
		if err == nil {
			return &resp, nil
		}
		s.logger.Warnf("CoinGecko Pro API unavailable, falling back to public API: %v", err)
	}

	if err := s.getJSON(ctx, strings.TrimRight(s.cfg.CoinGeckoURL, "/")+path, nil, &resp); err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}
	return &resp, nil
}

func (s *HTTPSource) fetchUSDToUAH(ctx context.Context) (decimal.Decimal, error) {
	var resp usdRatesResponse
	if err := s.getJSON(ctx, s.cfg.USDRatesURL, nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("usd rates: %w", err)
	}
	if resp.Result != "" && resp.Result != "success" {
		return decimal.Zero, fmt.Errorf("usd rates: result %q", resp.Result)
	}

	rate, ok := resp.Rates["UAH"]
	if !ok {
		return decimal.Zero, fmt.Errorf("usd rates: UAH missing from response")
	}
	return rate, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, url string, headers map[string]string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}
