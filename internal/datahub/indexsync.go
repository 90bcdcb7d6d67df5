package datahub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/provider"
)

// IndexSyncer loads an IndexProvider, fetches its constituents, and POSTs
// them to the Registry's sync endpoint.
type IndexSyncer struct {
	loader        *provider.Loader
	client        *http.Client
	registryBase  string
	log           zerolog.Logger
}

// NewIndexSyncer constructs an IndexSyncer. registryBaseURL is Registry's
// base URL (DATAHUB_BASE_URL's counterpart on the DataHub side).
func NewIndexSyncer(loader *provider.Loader, registryBaseURL string, log zerolog.Logger) *IndexSyncer {
	return &IndexSyncer{
		loader:       loader,
		client:       &http.Client{Timeout: 30 * time.Second},
		registryBase: registryBaseURL,
		log:          log.With().Str("component", "index_syncer").Logger(),
	}
}

type syncConstituentsRequest struct {
	Constituents []provider.IndexConstituent `json:"constituents"`
}

type syncConstituentsResponse struct {
	MembersAdded     int `json:"members_added"`
	MembersRemoved   int `json:"members_removed"`
	MembersUnchanged int `json:"members_unchanged"`
}

// SyncConstituents is the scheduled index-sync job body, wrapped in its own
// safe-job envelope.
func (s *IndexSyncer) SyncConstituents(ctx context.Context, providerName string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("provider", providerName).Msg("index sync job panicked")
		}
	}()

	s.log.Info().Str("provider", providerName).Msg("index sync started")

	p, ok := s.loader.Get(providerName)
	if !ok {
		p, ok = s.loader.Load(ctx, providerName)
	}
	if !ok {
		s.log.Error().Str("provider", providerName).Msg("failed to load IndexProvider")
		return
	}

	indexProvider, ok := p.(provider.IndexProvider)
	if !ok {
		s.log.Error().Str("provider", providerName).Msg("provider is not an IndexProvider")
		return
	}

	constituents, err := indexProvider.Constituents(ctx, nil)
	if err != nil {
		s.log.Error().Err(err).Str("provider", providerName).Msg("fetching constituents failed")
		return
	}
	s.log.Info().Str("provider", providerName).Int("count", len(constituents)).Msg("index sync fetched constituents")

	if err := s.postSync(ctx, providerName, constituents); err != nil {
		s.log.Error().Err(err).Str("provider", providerName).Msg("index sync failed")
	}
}

func (s *IndexSyncer) postSync(ctx context.Context, providerName string, constituents []provider.IndexConstituent) error {
	body, err := json.Marshal(syncConstituentsRequest{Constituents: constituents})
	if err != nil {
		return fmt.Errorf("marshaling sync request: %w", err)
	}

	url := fmt.Sprintf("%s/api/registry/indices/%s/sync", s.registryBase, providerName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting sync request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry sync failed: status=%d", resp.StatusCode)
	}

	var result syncConstituentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding sync response: %w", err)
	}

	s.log.Info().
		Str("provider", providerName).
		Int("added", result.MembersAdded).
		Int("removed", result.MembersRemoved).
		Int("unchanged", result.MembersUnchanged).
		Msg("index sync complete")
	return nil
}
