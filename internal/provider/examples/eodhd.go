// Package examples holds the three in-tree provider implementations
// exercising every branch of the provider interface. EODHD and CCI30 poll
// HTTP endpoints; Kraken lists pairs over HTTP and reads live bars from a
// WebSocket. None of them is a full exchange integration.
package examples

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/instrumentdata/platform/internal/enum"
	"github.com/instrumentdata/platform/internal/provider"
	"github.com/instrumentdata/platform/internal/security"
)

const eodhdBase = "https://eodhd.com/api"

func init() {
	provider.Register("EODHD", newEODHD)
}

// eodhdProvider is a historical data provider modeled on EODHD's end-of-day
// REST API: symbol discovery across a fixed set of exchanges, daily/weekly
// /monthly bars per symbol.
type eodhdProvider struct {
	secrets *security.DerivedContext
	client  *http.Client
	limiter *rate.Limiter
}

func newEODHD(secrets *security.DerivedContext) (provider.Provider, error) {
	return &eodhdProvider{
		secrets: secrets,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(60*time.Second/1000), 1000),
	}, nil
}

func (p *eodhdProvider) Name() string               { return "EODHD" }
func (p *eodhdProvider) ProviderType() provider.Type { return provider.TypeHistorical }
func (p *eodhdProvider) RateLimit() provider.RateLimit {
	return provider.RateLimit{Calls: 1000, Per: 60 * time.Second}
}

func (p *eodhdProvider) Open(ctx context.Context) error  { return nil }
func (p *eodhdProvider) Close(ctx context.Context) error { return nil }

var eodhdClassMap = map[string]string{
	"common stock": "equity",
	"fund":         "fund",
	"etf":          "etf",
	"bond":         "bond",
	"currency":     "currency",
}

type eodhdSymbolRow struct {
	Code     string `json:"Code"`
	Exchange string `json:"Exchange"`
	Name     string `json:"Name"`
	Type     string `json:"Type"`
	Isin     string `json:"Isin"`
	Country  string `json:"Country"`
}

func (p *eodhdProvider) AvailableSymbols(ctx context.Context) ([]provider.SymbolInfo, error) {
	apiToken, err := p.secrets.Get("api_token")
	if err != nil {
		return nil, err
	}

	var out []provider.SymbolInfo
	for _, exchange := range []string{"NASDAQ", "NYSE", "CC", "FOREX"} {
		url := fmt.Sprintf("%s/exchange-symbol-list/%s?api_token=%s&fmt=json", eodhdBase, exchange, apiToken)
		var rows []eodhdSymbolRow
		if err := p.apiGet(ctx, url, &rows); err != nil {
			return nil, fmt.Errorf("fetching %s symbol list: %w", exchange, err)
		}

		for _, row := range rows {
			info, ok := p.classify(row)
			if !ok {
				continue
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (p *eodhdProvider) classify(row eodhdSymbolRow) (provider.SymbolInfo, bool) {
	var exchange, assetClass string
	switch row.Exchange {
	case "CC":
		assetClass = "crypto"
	case "FOREX":
		assetClass = "currency"
	default:
		exchange = row.Exchange
		assetClass = eodhdClassMap[strings.ToLower(row.Type)]
	}
	if assetClass == "" {
		return provider.SymbolInfo{}, false
	}

	baseCurrency := "USD"
	var quoteCurrency string
	switch assetClass {
	case "crypto":
		parts := strings.SplitN(row.Code, "-", 2)
		if len(parts) != 2 {
			return provider.SymbolInfo{}, false
		}
		baseCurrency, quoteCurrency = parts[0], parts[1]
		if quoteCurrency != "USD" {
			return provider.SymbolInfo{}, false
		}
	case "currency":
		if len(row.Code) != 6 {
			return provider.SymbolInfo{}, false
		}
		baseCurrency, quoteCurrency = row.Code[:3], row.Code[3:]
		if quoteCurrency != "USD" {
			return provider.SymbolInfo{}, false
		}
	}

	return provider.SymbolInfo{
		Provider:      p.Name(),
		ISIN:          row.Isin,
		Symbol:        fmt.Sprintf("%s.%s", row.Code, row.Exchange),
		MatcherSymbol: row.Code,
		Name:          row.Name,
		Exchange:      exchange,
		AssetClass:    enum.AssetClass(assetClass),
		BaseCurrency:  baseCurrency,
		QuoteCurrency: quoteCurrency,
		Country:       row.Country,
	}, true
}

var eodhdIntervalMap = map[enum.Interval]string{
	enum.I1D: "d",
	enum.I1W: "w",
	enum.I1M: "m",
}

type eodhdBarRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (p *eodhdProvider) GetHistory(ctx context.Context, reqs []provider.Req) (<-chan provider.Bar, <-chan error) {
	bars := make(chan provider.Bar)
	errs := make(chan error, 1)

	go func() {
		defer close(bars)
		defer close(errs)

		apiToken, err := p.secrets.Get("api_token")
		if err != nil {
			errs <- err
			return
		}

		for _, req := range reqs {
			period, ok := eodhdIntervalMap[req.Interval]
			if !ok {
				period = "d"
			}

			url := fmt.Sprintf("%s/eod/%s?from=%s&to=%s&period=%s&api_token=%s&fmt=json",
				eodhdBase, req.Sym, req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"), period, apiToken)

			var rows []eodhdBarRow
			if err := p.apiGet(ctx, url, &rows); err != nil {
				errs <- fmt.Errorf("fetching history for %s: %w", req.Sym, err)
				return
			}

			for _, row := range rows {
				ts, err := time.ParseInLocation("2006-01-02", row.Date, time.UTC)
				if err != nil {
					continue
				}
				select {
				case bars <- provider.Bar{TS: ts, Sym: req.Sym, O: row.Open, H: row.High, L: row.Low, C: row.Close, V: row.Volume}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()

	return bars, errs
}

func (p *eodhdProvider) apiGet(ctx context.Context, url string, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
