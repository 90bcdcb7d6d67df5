// Package provider defines the data-provider plugin contract and the
// closed-set static registry of in-tree constructors keyed by name.
package provider

import (
	"context"
	"time"

	"github.com/instrumentdata/platform/internal/enum"
	"github.com/instrumentdata/platform/internal/security"
)

// Type is the provider's capability class.
type Type string

const (
	TypeHistorical Type = "historical"
	TypeRealtime   Type = "realtime"
	TypeIndex      Type = "index"
)

// Bar is a single OHLCV bar keyed by its end timestamp.
type Bar struct {
	TS  time.Time
	Sym string
	O   float64
	H   float64
	L   float64
	C   float64
	V   float64
}

// Req is a single historical-data request: inclusive [Start, End] at
// Interval for Sym.
type Req struct {
	Sym      string
	Start    time.Time
	End      time.Time
	Interval enum.Interval
}

// SymbolInfo describes one tradable symbol as reported by
// AvailableSymbols.
type SymbolInfo struct {
	Provider      string
	ProviderID    string
	ISIN          string
	Symbol        string
	MatcherSymbol string
	Name          string
	Exchange      string
	AssetClass    enum.AssetClass
	BaseCurrency  string
	QuoteCurrency string
	Country       string
	// PrimaryID is set by providers that already know the asset's
	// cross-provider identity (e.g. a FIGI-style code), letting the asset
	// update pipeline skip identity matching for that symbol. Most providers
	// leave it nil; consumers fall back to ProviderID.
	PrimaryID *string
}

// IndexConstituent describes one member of an index as reported by
// IndexProvider.Constituents.
type IndexConstituent struct {
	Symbol        string
	Weight        *float64 // nil when the provider does not report weights
	Name          string
	AssetClass    enum.AssetClass
	MatcherSymbol string
	BaseCurrency  string
	QuoteCurrency string
}

// RateLimit is a (calls, per) token-bucket description, translated to
// golang.org/x/time/rate.Limiter by constructors.
type RateLimit struct {
	Calls int
	Per   time.Duration
}

// Provider is the capability every plugin implements regardless of type.
type Provider interface {
	// Name is this provider's unique identifier, matching its code_registry
	// row's class_name.
	Name() string
	ProviderType() Type
	RateLimit() RateLimit
	// Open initializes scoped resources (HTTP session, socket). Called once
	// after construction.
	Open(ctx context.Context) error
	// Close releases scoped resources. Safe to call multiple times.
	Close(ctx context.Context) error
	AvailableSymbols(ctx context.Context) ([]SymbolInfo, error)
}

// HistoricalProvider yields bars for a batch of requests, oldest to newest,
// inclusive of both endpoints.
type HistoricalProvider interface {
	Provider
	GetHistory(ctx context.Context, reqs []Req) (<-chan Bar, <-chan error)
}

// RealtimeProvider streams bars for the given symbols at interval, returning
// once the close-buffer window has elapsed.
type RealtimeProvider interface {
	Provider
	// CloseBufferSeconds is how long past interval close to keep listening.
	CloseBufferSeconds() int
	GetLive(ctx context.Context, interval enum.Interval, symbols []string) ([]Bar, error)
}

// IndexProvider fetches index constituents, optionally as of a historical
// date (not all providers support this).
type IndexProvider interface {
	Provider
	Constituents(ctx context.Context, asOf *time.Time) ([]IndexConstituent, error)
}

// Constructor builds a provider instance from its decrypted secrets (nil when
// the row stores none); each provider creates its own HTTP client.
// Registered by in-tree providers at init() time.
type Constructor func(secrets *security.DerivedContext) (Provider, error)

var constructors = map[string]Constructor{}

// Register adds a constructor to the static registry, keyed by the
// provider's class_name. Called from in-tree provider packages' init().
func Register(name string, ctor Constructor) {
	constructors[name] = ctor
}

// Lookup returns the constructor registered under name, if any.
func Lookup(name string) (Constructor, bool) {
	ctor, ok := constructors[name]
	return ctor, ok
}
