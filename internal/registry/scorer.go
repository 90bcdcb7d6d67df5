package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// defaultMinScore is the default min_score filter applied when the request
// does not set one.
const defaultMinScore = 30.0

// Suggestion is one scored source/target pairing produced by the scorer.
type Suggestion struct {
	SourceClassName string  `db:"source_class_name"`
	SourceClassType string  `db:"source_class_type"`
	SourceSymbol    string  `db:"source_symbol"`
	TargetClassName string  `db:"target_class_name"`
	TargetClassType string  `db:"target_class_type"`
	TargetSymbol    string  `db:"target_symbol"`
	TargetNormRoot  string  `db:"target_sym_norm_root"`
	ExistingCommon  *string `db:"existing_common_symbol"`
	Score           float64 `db:"score"`

	// ProposedCommonSymbol is post-processed per item: the
	// existing common_symbol's casing when the target is already mapped,
	// otherwise the target's sym_norm_root uppercased.
	ProposedCommonSymbol string `db:"-"`
}

// SuggestionQuery mirrors the suggestions endpoint's
// query parameters.
type SuggestionQuery struct {
	SourceClass  string
	TargetClass  string
	Search       string
	MinScore     float64
	Limit        int
	Cursor       *Cursor
	IncludeTotal bool
}

// Cursor is the decoded (score, source_symbol, target_symbol) keyset cursor.
type Cursor struct {
	Score        float64 `json:"0"`
	SourceSymbol string  `json:"1"`
	TargetSymbol string  `json:"2"`
}

// cursorTuple is the JSON-array wire shape encoded/decoded by EncodeCursor
// and DecodeCursor: [score, source_symbol, target_symbol].
type cursorTuple [3]any

// EncodeCursor produces the URL-safe base64 cursor for one Suggestion row,
// used as next_cursor.
func EncodeCursor(c Cursor) (string, error) {
	tuple := cursorTuple{c.Score, c.SourceSymbol, c.TargetSymbol}
	raw, err := json.Marshal(tuple)
	if err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("decoding cursor: %w", err)
	}
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return Cursor{}, fmt.Errorf("parsing cursor JSON: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(tuple[0], &c.Score); err != nil {
		return Cursor{}, fmt.Errorf("parsing cursor score: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &c.SourceSymbol); err != nil {
		return Cursor{}, fmt.Errorf("parsing cursor source_symbol: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &c.TargetSymbol); err != nil {
		return Cursor{}, fmt.Errorf("parsing cursor target_symbol: %w", err)
	}
	return c, nil
}

// Scorer runs the indexed multi-branch mapping-suggestion query
// with cursor pagination.
type Scorer struct {
	store *Store
	log   zerolog.Logger
}

// NewScorer constructs a Scorer.
func NewScorer(store *Store, log zerolog.Logger) *Scorer {
	return &Scorer{store: store, log: log.With().Str("component", "suggestion_scorer").Logger()}
}

// SuggestionsResult is one page of scored suggestions.
type SuggestionsResult struct {
	Items      []Suggestion
	HasMore    bool
	NextCursor string
	Total      *int
}

// Suggestions runs the suggestion query. It first tries with trigram similarity
// terms included; if the underlying engine lacks similarity() (no pg_trgm),
// it retries once with those terms zeroed.
func (s *Scorer) Suggestions(ctx context.Context, q SuggestionQuery) (SuggestionsResult, error) {
	if q.MinScore == 0 {
		q.MinScore = defaultMinScore
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}

	rows, err := s.store.SuggestionCandidates(ctx, q, true)
	if err != nil {
		s.log.Warn().Err(err).Msg("suggestion query with similarity() failed, retrying without trigram terms")
		rows, err = s.store.SuggestionCandidates(ctx, q, false)
		if err != nil {
			return SuggestionsResult{}, err
		}
	}

	var result SuggestionsResult
	if len(rows) > q.Limit {
		result.HasMore = true
		rows = rows[:q.Limit]
	}
	for i := range rows {
		r := &rows[i]
		if r.ExistingCommon != nil {
			r.ProposedCommonSymbol = *r.ExistingCommon
		} else {
			r.ProposedCommonSymbol = strings.ToUpper(r.TargetNormRoot)
		}
	}
	result.Items = rows

	if result.HasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		cursor, err := EncodeCursor(Cursor{Score: last.Score, SourceSymbol: last.SourceSymbol, TargetSymbol: last.TargetSymbol})
		if err != nil {
			return SuggestionsResult{}, err
		}
		result.NextCursor = cursor
	}

	if q.IncludeTotal {
		total, err := s.store.SuggestionCandidatesCount(ctx, q)
		if err != nil {
			return SuggestionsResult{}, err
		}
		result.Total = &total
	}

	return result, nil
}
