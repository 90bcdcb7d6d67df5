package examples

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/instrumentdata/platform/internal/enum"
	"github.com/instrumentdata/platform/internal/provider"
	"github.com/instrumentdata/platform/internal/security"
)

const (
	krakenWSURL   = "wss://ws.kraken.com"
	krakenRestURL = "https://api.kraken.com/0/public/AssetPairs"
)

func init() {
	provider.Register("Kraken", newKraken)
}

// krakenProvider is a realtime crypto provider modeled on Kraken's public
// WebSocket "ohlc" feed: one connection listens for every requested symbol
// until interval close plus its close buffer, then disconnects.
type krakenProvider struct {
	secrets *security.DerivedContext
	client  *http.Client
	limiter *rate.Limiter
}

func newKraken(secrets *security.DerivedContext) (provider.Provider, error) {
	return &krakenProvider{
		secrets: secrets,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

func (p *krakenProvider) Name() string               { return "Kraken" }
func (p *krakenProvider) ProviderType() provider.Type { return provider.TypeRealtime }
func (p *krakenProvider) RateLimit() provider.RateLimit {
	return provider.RateLimit{Calls: 1, Per: time.Second}
}
func (p *krakenProvider) CloseBufferSeconds() int { return 15 }

func (p *krakenProvider) Open(ctx context.Context) error  { return nil }
func (p *krakenProvider) Close(ctx context.Context) error { return nil }

type krakenAssetPair struct {
	WSName string `json:"wsname"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

type krakenAssetPairsResponse struct {
	Error  []string                    `json:"error"`
	Result map[string]krakenAssetPair `json:"result"`
}

// AvailableSymbols lists every USD-quoted pair Kraken trades.
func (p *krakenProvider) AvailableSymbols(ctx context.Context) ([]provider.SymbolInfo, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, krakenRestURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching kraken asset pairs: %w", err)
	}
	defer resp.Body.Close()

	var body krakenAssetPairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding kraken asset pairs: %w", err)
	}
	if len(body.Error) > 0 {
		return nil, fmt.Errorf("kraken asset pairs error: %s", strings.Join(body.Error, "; "))
	}

	var out []provider.SymbolInfo
	for _, pair := range body.Result {
		if pair.WSName == "" || normalizeKrakenCurrency(pair.Quote) != "USD" {
			continue
		}
		base := normalizeKrakenCurrency(pair.Base)
		out = append(out, provider.SymbolInfo{
			Provider:      p.Name(),
			Symbol:        pair.WSName,
			MatcherSymbol: base,
			Name:          pair.WSName,
			AssetClass:    enum.Crypto,
			BaseCurrency:  base,
			QuoteCurrency: "USD",
		})
	}
	return out, nil
}

// normalizeKrakenCurrency strips Kraken's legacy X/Z currency-code prefixes
// ("XXBT" -> "XBT", "ZUSD" -> "USD").
func normalizeKrakenCurrency(code string) string {
	if len(code) == 4 && (code[0] == 'X' || code[0] == 'Z') {
		return code[1:]
	}
	return code
}

type krakenOHLCMessage struct {
	channelID   int
	payload     []string
	channelName string
	pair        string
}

// GetLive subscribes to Kraken's ohlc-<interval> channel for symbols and
// collects bars until interval close plus CloseBufferSeconds, then
// unsubscribes and closes the socket.
func (p *krakenProvider) GetLive(ctx context.Context, interval enum.Interval, symbols []string) ([]provider.Bar, error) {
	minutes, ok := krakenOHLCIntervalMinutes[interval]
	if !ok {
		return nil, fmt.Errorf("kraken does not support interval %s for live data", interval)
	}

	barEnd := nextIntervalClose(time.Now().UTC(), minutes)
	deadline := barEnd.Add(time.Duration(p.CloseBufferSeconds()) * time.Second)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, krakenWSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing kraken websocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	subscribe := map[string]any{
		"event": "subscribe",
		"pair":  symbols,
		"subscription": map[string]any{
			"name":     "ohlc",
			"interval": minutes,
		},
	}
	if err := wsjson.Write(dialCtx, conn, subscribe); err != nil {
		return nil, fmt.Errorf("subscribing to kraken ohlc channel: %w", err)
	}

	// Keep only the latest update per pair with a timestamp at or before the
	// bar end; updates past the cutoff belong to the next bar.
	latest := make(map[string]provider.Bar, len(symbols))
	for {
		var raw []any
		err := wsjson.Read(dialCtx, conn, &raw)
		if err != nil {
			if dialCtx.Err() != nil {
				break
			}
			return nil, fmt.Errorf("reading kraken websocket message: %w", err)
		}

		bar, ok := parseKrakenOHLCMessage(raw)
		if !ok || bar.TS.After(barEnd) {
			continue
		}
		if prev, seen := latest[bar.Sym]; !seen || !bar.TS.Before(prev.TS) {
			latest[bar.Sym] = bar
		}
	}

	unsubscribe := map[string]any{
		"event": "unsubscribe",
		"pair":  symbols,
		"subscription": map[string]any{
			"name":     "ohlc",
			"interval": minutes,
		},
	}
	_ = wsjson.Write(ctx, conn, unsubscribe)

	bars := make([]provider.Bar, 0, len(latest))
	for _, b := range latest {
		bars = append(bars, b)
	}
	return bars, nil
}

var krakenOHLCIntervalMinutes = map[enum.Interval]int{
	enum.I1Min:  1,
	enum.I5Min:  5,
	enum.I15Min: 15,
	enum.I1H:    60,
}

// parseKrakenOHLCMessage decodes one "ohlc" channel update: a 4-element
// array [channelID, [time, etime, open, high, low, close, vwap, volume,
// count], "ohlc-N", pair]. Non-data messages (subscription acks, heartbeats)
// fail the shape check and are skipped.
func parseKrakenOHLCMessage(raw []any) (provider.Bar, bool) {
	if len(raw) != 4 {
		return provider.Bar{}, false
	}
	fields, ok := raw[1].([]any)
	if !ok || len(fields) < 8 {
		return provider.Bar{}, false
	}
	pair, ok := raw[3].(string)
	if !ok {
		return provider.Bar{}, false
	}

	endTime, ok := parseKrakenFloatField(fields[1])
	if !ok {
		return provider.Bar{}, false
	}
	open, ok1 := parseKrakenFloatField(fields[2])
	high, ok2 := parseKrakenFloatField(fields[3])
	low, ok3 := parseKrakenFloatField(fields[4])
	closePrice, ok4 := parseKrakenFloatField(fields[5])
	volume, ok5 := parseKrakenFloatField(fields[7])
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return provider.Bar{}, false
	}

	return provider.Bar{
		TS:  time.Unix(int64(endTime), 0).UTC(),
		Sym: pair,
		O:   open,
		H:   high,
		L:   low,
		C:   closePrice,
		V:   volume,
	}, true
}

func parseKrakenFloatField(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// nextIntervalClose is the first interval boundary strictly after now (a now
// that sits exactly on a boundary yields the following one).
func nextIntervalClose(now time.Time, minutes int) time.Time {
	period := time.Duration(minutes) * time.Minute
	truncated := now.Truncate(period)
	if !truncated.After(now) {
		truncated = truncated.Add(period)
	}
	return truncated
}
