package examples

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/floats"

	"github.com/instrumentdata/platform/internal/enum"
	"github.com/instrumentdata/platform/internal/provider"
	"github.com/instrumentdata/platform/internal/security"
)

const cci30ConstituentsURL = "https://cci30.com/ajax/getWeights.php"

func init() {
	provider.Register("CCI30", newCCI30)
}

// cci30Provider is an IndexProvider modeled on the CCI30 crypto index: a
// single CSV endpoint reporting each constituent's current weight.
type cci30Provider struct {
	secrets *security.DerivedContext
	client  *http.Client
	limiter *rate.Limiter
}

func newCCI30(secrets *security.DerivedContext) (provider.Provider, error) {
	return &cci30Provider{
		secrets: secrets,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/5), 5),
	}, nil
}

func (p *cci30Provider) Name() string               { return "CCI30" }
func (p *cci30Provider) ProviderType() provider.Type { return provider.TypeIndex }
func (p *cci30Provider) RateLimit() provider.RateLimit {
	return provider.RateLimit{Calls: 5, Per: time.Minute}
}

func (p *cci30Provider) Open(ctx context.Context) error  { return nil }
func (p *cci30Provider) Close(ctx context.Context) error { return nil }

// AvailableSymbols is empty: CCI30 is index-only and contributes no assets
// of its own, only membership of existing crypto assets (see Constituents).
func (p *cci30Provider) AvailableSymbols(ctx context.Context) ([]provider.SymbolInfo, error) {
	return nil, nil
}

func (p *cci30Provider) fetchCSV(ctx context.Context) ([][]string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cci30ConstituentsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching cci30 weights: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from cci30", resp.StatusCode)
	}
	return csv.NewReader(resp.Body).ReadAll()
}

// Constituents parses the weights CSV (symbol,weight per row, no header)
// and renormalizes the reported weights to sum to exactly 1.0: CCI30's raw
// feed drifts by a few basis points between rebalances due to rounding, and
// the membership diff engine's weight-equality tolerance is tighter
// than that drift.
func (p *cci30Provider) Constituents(ctx context.Context, asOf *time.Time) ([]provider.IndexConstituent, error) {
	if asOf != nil {
		return nil, fmt.Errorf("cci30 does not support historical constituent lookups")
	}

	rows, err := p.fetchCSV(ctx)
	if err != nil {
		return nil, err
	}

	var symbols []string
	var weights []float64
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(row[0]))
		weight, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil || symbol == "" {
			continue
		}
		symbols = append(symbols, symbol)
		weights = append(weights, weight)
	}
	if len(weights) == 0 {
		return nil, nil
	}

	total := floats.Sum(weights)
	if total > 0 {
		floats.Scale(1/total, weights)
	}

	out := make([]provider.IndexConstituent, len(symbols))
	for i, symbol := range symbols {
		w := weights[i]
		out[i] = provider.IndexConstituent{
			Symbol:        symbol,
			Weight:        &w,
			AssetClass:    enum.Crypto,
			MatcherSymbol: symbol,
			QuoteCurrency: "USD",
		}
	}
	return out, nil
}
