package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// DataHubSymbol mirrors one element of DataHub's available-symbols response,
// the subset the pipeline needs.
type DataHubSymbol struct {
	Provider      string  `json:"Provider"`
	ProviderID    string  `json:"ProviderID"`
	ISIN          string  `json:"ISIN"`
	Symbol        string  `json:"Symbol"`
	MatcherSymbol string  `json:"MatcherSymbol"`
	Name          string  `json:"Name"`
	Exchange      string  `json:"Exchange"`
	AssetClass    string  `json:"AssetClass"`
	BaseCurrency  string  `json:"BaseCurrency"`
	QuoteCurrency string  `json:"QuoteCurrency"`
	Country       string  `json:"Country"`
	PrimaryID     *string `json:"PrimaryID,omitempty"`
}

// DataHubConstituent mirrors one element of DataHub's constituents response.
type DataHubConstituent struct {
	Symbol        string   `json:"Symbol"`
	Weight        *float64 `json:"Weight"`
	Name          string   `json:"Name"`
	AssetClass    string   `json:"AssetClass"`
	MatcherSymbol string   `json:"MatcherSymbol"`
	BaseCurrency  string   `json:"BaseCurrency"`
	QuoteCurrency string   `json:"QuoteCurrency"`
}

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

// DataHubClient is Registry's view of DataHub's discovery endpoints.
type DataHubClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewDataHubClient constructs a DataHubClient.
func NewDataHubClient(baseURL string, log zerolog.Logger) *DataHubClient {
	return &DataHubClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "datahub_client").Logger(),
	}
}

// AvailableSymbols calls GET /internal/providers/available-symbols.
func (c *DataHubClient) AvailableSymbols(ctx context.Context, providerName string) ([]DataHubSymbol, error) {
	var out itemsEnvelope[DataHubSymbol]
	u := fmt.Sprintf("%s/internal/providers/available-symbols?provider_name=%s", c.baseURL, url.QueryEscape(providerName))
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Constituents calls GET /internal/providers/constituents.
func (c *DataHubClient) Constituents(ctx context.Context, providerName string) ([]DataHubConstituent, error) {
	var out itemsEnvelope[DataHubConstituent]
	u := fmt.Sprintf("%s/internal/providers/constituents?provider_name=%s", c.baseURL, url.QueryEscape(providerName))
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *DataHubClient) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building discovery request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling datahub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("datahub discovery call failed: status=%d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding datahub response: %w", err)
	}
	return nil
}
