package datahub

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/calendar"
	"github.com/instrumentdata/platform/internal/provider"
)

const batchSize = 500

// dispatchArgs is the scheduler-carried argument bundle for a subscription
// job: provider|interval|cron keyed, with symbols and exchanges aligned by
// index.
type dispatchArgs struct {
	provider  string
	interval  string
	symbols   []string
	exchanges []string
}

// Dispatcher runs the data pulls invoked by a scheduled
// subscription job. Every public entry point is itself the safe-job
// envelope — it never panics or returns an error the scheduler would see.
type Dispatcher struct {
	store    *Store
	loader   *provider.Loader
	calendar *calendar.Registry
	log      zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store *Store, loader *provider.Loader, cal *calendar.Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: store, loader: loader, calendar: cal, log: log.With().Str("component", "dispatcher").Logger()}
}

// GetData dispatches one pull for args, swallowing and logging every
// failure so a bad pull can never take the scheduler down with it.
func (d *Dispatcher) GetData(ctx context.Context, args dispatchArgs) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("provider", args.provider).Msg("dispatcher job panicked")
		}
	}()

	p, ok := d.loader.Get(args.provider)
	if !ok {
		d.log.Error().Str("provider", args.provider).Msg("provider not found")
		return
	}

	switch p.ProviderType() {
	case provider.TypeHistorical:
		d.dispatchHistorical(ctx, p.(provider.HistoricalProvider), args)
	case provider.TypeRealtime:
		d.dispatchRealtime(ctx, p.(provider.RealtimeProvider), args)
	default:
		d.log.Error().Str("provider", args.provider).Str("type", string(p.ProviderType())).Msg("not a dispatchable provider type")
	}
}

func (d *Dispatcher) dispatchHistorical(ctx context.Context, p provider.HistoricalProvider, args dispatchArgs) {
	reqs, err := d.buildHistoricalRequests(ctx, args)
	if err != nil {
		d.log.Error().Err(err).Str("provider", args.provider).Msg("building historical requests failed")
		return
	}
	if len(reqs) == 0 {
		d.log.Info().Str("provider", args.provider).Msg("no valid sessions to pull at this time")
		return
	}

	bars, errs := p.GetHistory(ctx, reqs)
	d.drain(ctx, "historical_data", args.provider, args.interval, bars, errs)
}

func (d *Dispatcher) dispatchRealtime(ctx context.Context, p provider.RealtimeProvider, args dispatchArgs) {
	var open []string
	for i, sym := range args.symbols {
		mic := args.exchanges[i]
		if d.calendar.IsOpenNow(mic) {
			open = append(open, sym)
		} else {
			d.log.Info().Str("symbol", sym).Str("mic", mic).Msg("market closed, skipping")
		}
	}
	if len(open) == 0 {
		d.log.Info().Str("provider", args.provider).Msg("no markets open, skipping realtime pull")
		return
	}

	prefs, err := d.store.GetPreferences(ctx, args.provider)
	if err != nil {
		d.log.Warn().Err(err).Str("provider", args.provider).Msg("loading preferences failed, using defaults")
	}
	postClose := prefs.Scheduling.PostCloseSeconds
	if !prefs.Scheduling.PostCloseSecondsSet {
		postClose = p.CloseBufferSeconds()
	}
	timeout := time.Duration(prefs.Scheduling.PreCloseSeconds+postClose+30) * time.Second

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := enumIntervalOrRaw(args.interval)
	bars, err := p.GetLive(tctx, interval, open)
	if err != nil {
		d.log.Error().Err(err).Str("provider", args.provider).Msg("realtime pull failed")
		return
	}

	if err := d.flush(ctx, "live_data", args.provider, args.interval, bars); err != nil {
		d.log.Error().Err(err).Str("provider", args.provider).Msg("flushing realtime bars failed")
	}
}

func (d *Dispatcher) buildHistoricalRequests(ctx context.Context, args dispatchArgs) ([]provider.Req, error) {
	d.log.Info().Str("provider", args.provider).Str("interval", args.interval).Msg("building historical requests")

	today := time.Now().UTC().Truncate(24 * time.Hour)
	yesterday := today.AddDate(0, 0, -1)

	lastMap, err := d.store.GetLastUpdated(ctx, args.provider, args.symbols)
	if err != nil {
		return nil, err
	}

	prefs, err := d.store.GetPreferences(ctx, args.provider)
	if err != nil {
		d.log.Warn().Err(err).Str("provider", args.provider).Msg("loading preferences failed, using defaults")
	}
	lookbackDays := prefs.Data.LookbackDays
	defaultStart := yesterday.AddDate(0, 0, -lookbackDays)

	var reqs []provider.Req
	for i, sym := range args.symbols {
		mic := args.exchanges[i]
		lastUpdated, known := lastMap[sym]

		var start time.Time
		if !known {
			start = defaultStart.AddDate(0, 0, 1)
			if prefs.Data.LookbackDaysSet {
				d.log.Info().Str("symbol", sym).Str("mic", mic).Int("lookback_days", lookbackDays).Time("start", start).Msg("new subscription, applying configured lookback_days")
			} else {
				d.log.Info().Str("symbol", sym).Str("mic", mic).Time("start", start).Msg("new subscription, requesting full backfill")
			}
		} else {
			start = lastUpdated.AddDate(0, 0, 1)
			if start.After(yesterday) {
				continue
			}
			if !d.calendar.HasSessionsInRange(mic, start, yesterday) {
				d.log.Info().Str("symbol", sym).Str("mic", mic).Msg("no trading sessions in gap, skipping")
				continue
			}
		}

		reqs = append(reqs, provider.Req{Sym: sym, Start: start, End: yesterday, Interval: enumIntervalOrRaw(args.interval)})
	}

	return reqs, nil
}

func (d *Dispatcher) drain(ctx context.Context, table, providerName, interval string, bars <-chan provider.Bar, errs <-chan error) {
	var buf []provider.Bar
	for bars != nil || errs != nil {
		select {
		case b, ok := <-bars:
			if !ok {
				bars = nil
				continue
			}
			buf = append(buf, b)
			if len(buf) >= batchSize {
				if err := d.flush(ctx, table, providerName, interval, buf); err != nil {
					d.log.Error().Err(err).Str("provider", providerName).Msg("flushing bars failed")
				}
				buf = buf[:0]
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				d.log.Error().Err(err).Str("provider", providerName).Msg("provider stream error")
			}
		}
	}

	if len(buf) > 0 {
		if err := d.flush(ctx, table, providerName, interval, buf); err != nil {
			d.log.Error().Err(err).Str("provider", providerName).Msg("flushing bars failed")
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context, table, providerName, interval string, bars []provider.Bar) error {
	d.log.Info().Int("count", len(bars)).Str("table", table).Str("provider", providerName).Msg("inserting bars")
	if err := d.store.InsertBars(ctx, table, providerName, interval, bars); err != nil {
		return err
	}

	if table != "historical_data" {
		return nil
	}
	latest := make(map[string]time.Time)
	for _, b := range bars {
		day := b.TS.Truncate(24 * time.Hour)
		if cur, ok := latest[b.Sym]; !ok || day.After(cur) {
			latest[b.Sym] = day
		}
	}
	for sym, day := range latest {
		if err := d.store.AdvanceHistoricalSymbolState(ctx, providerName, sym, day); err != nil {
			d.log.Warn().Err(err).Str("symbol", sym).Msg("advancing historical_symbol_state failed")
		}
	}
	return nil
}
