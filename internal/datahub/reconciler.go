package datahub

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/provider"
	"github.com/instrumentdata/platform/internal/scheduler"
)

// Reconciler keeps the scheduler's job table in sync with the
// provider_subscription table, and runs the parallel index-sync
// reconciliation over IndexProvider code_registry rows.
type Reconciler struct {
	store     *Store
	loader    *provider.Loader
	scheduler *scheduler.Scheduler
	dispatch  *Dispatcher
	indexSync *IndexSyncer
	log       zerolog.Logger
	interval  time.Duration

	jobKeys         map[string]struct{}
	indexSyncKeys   map[string]struct{}
	snapshotPath    string
}

// NewReconciler constructs a Reconciler. snapshotPath, if non-empty, is
// where the loaded-provider set is msgpack-persisted after each tick for
// fast warm restart; empty disables snapshotting.
func NewReconciler(store *Store, loader *provider.Loader, sched *scheduler.Scheduler, dispatch *Dispatcher, indexSync *IndexSyncer, interval time.Duration, snapshotPath string, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:         store,
		loader:        loader,
		scheduler:     sched,
		dispatch:      dispatch,
		indexSync:     indexSync,
		log:           log.With().Str("component", "reconciler").Logger(),
		interval:      interval,
		jobKeys:       make(map[string]struct{}),
		indexSyncKeys: make(map[string]struct{}),
		snapshotPath:  snapshotPath,
	}
}

// Run ticks every r.interval until ctx is canceled, running one
// reconciliation pass per tick, plus one immediate pass on start.
func (r *Reconciler) Run(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	r.reconcileSubscriptions(ctx)
	r.reconcileIndexSyncJobs(ctx)

	if r.snapshotPath != "" {
		if err := r.loader.SaveSnapshot(r.snapshotPath); err != nil {
			r.log.Warn().Err(err).Msg("saving provider snapshot failed")
		}
	}
}

// reconcileSubscriptions diffs the grouped subscription view against the
// currently scheduled jobs.
func (r *Reconciler) reconcileSubscriptions(ctx context.Context) {
	rows, err := r.store.GetSubscriptions(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("fetching subscriptions failed")
		return
	}

	seenProviders := make(map[string]struct{})
	for _, row := range rows {
		seenProviders[row.Provider] = struct{}{}
	}

	invalidProviders := make(map[string]struct{})
	for name := range seenProviders {
		if _, ok := r.loader.Get(name); ok {
			continue
		}
		if _, ok := r.loader.Load(ctx, name); !ok {
			invalidProviders[name] = struct{}{}
		}
	}

	for _, name := range r.loader.Loaded() {
		if _, stillSeen := seenProviders[name]; !stillSeen {
			r.loader.MarkInUse(name, false)
		}
	}
	r.loader.ReleaseUnused(ctx)

	newKeys := make(map[string]struct{})
	for _, row := range rows {
		if _, invalid := invalidProviders[row.Provider]; invalid {
			continue
		}
		r.loader.MarkInUse(row.Provider, true)

		p, ok := r.loader.Get(row.Provider)
		if !ok {
			continue
		}

		key := fmt.Sprintf("%s|%s|%s", row.Provider, row.Interval, row.Cron)
		newKeys[key] = struct{}{}

		args := dispatchArgs{provider: row.Provider, interval: row.Interval, symbols: row.Symbols, exchanges: row.Exchanges}

		if _, existing := r.jobKeys[key]; !existing {
			r.scheduleNewSubscription(ctx, row, key, p.ProviderType(), args)
			continue
		}

		r.updateExistingSubscription(ctx, row, key, p.ProviderType(), args)
	}

	for key := range r.jobKeys {
		if _, stillPresent := newKeys[key]; !stillPresent {
			r.log.Info().Str("job_key", key).Msg("removing scheduled job")
			r.scheduler.Remove(key)
		}
	}
	r.jobKeys = newKeys
}

func (r *Reconciler) scheduleNewSubscription(ctx context.Context, row SubscriptionRow, key string, provType provider.Type, args dispatchArgs) {
	prefs, err := r.store.GetPreferences(ctx, row.Provider)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", row.Provider).Msg("loading preferences failed, using defaults")
	}

	var offsetSeconds int
	if provType == provider.TypeHistorical {
		offsetSeconds = prefs.Scheduling.DelayHours * 3600
	} else {
		offsetSeconds = -prefs.Scheduling.PreCloseSeconds
	}

	trigger := scheduler.SignedOffsetTrigger(row.Cron, offsetSeconds)
	r.log.Debug().Str("job_key", key).Int("offset_seconds", offsetSeconds).Msg("scheduling new job")

	if err := r.scheduler.Add(key, trigger, func(a any) {
		r.dispatch.GetData(context.Background(), a.(dispatchArgs))
	}, args); err != nil {
		r.log.Error().Err(err).Str("job_key", key).Msg("failed to add scheduled job")
		return
	}

	if provType == provider.TypeHistorical && prefs.Scheduling.ImmediatePull {
		r.log.Info().Str("job_key", key).Msg("immediate data pull for new subscription")
		go r.dispatch.GetData(context.Background(), args)
	}
}

func (r *Reconciler) updateExistingSubscription(ctx context.Context, row SubscriptionRow, key string, provType provider.Type, args dispatchArgs) {
	prefs, err := r.store.GetPreferences(ctx, row.Provider)
	if err != nil {
		r.log.Warn().Err(err).Str("provider", row.Provider).Msg("loading preferences failed, using defaults")
	}

	if provType == provider.TypeHistorical && prefs.Scheduling.ImmediatePull {
		var oldSyms []string
		if old, ok := r.scheduler.Args(key); ok {
			if oldArgs, ok := old.(dispatchArgs); ok {
				oldSyms = oldArgs.symbols
			}
		}
		added, addedExchanges := diffAddedSymbols(oldSyms, row.Symbols, row.Exchanges)
		if len(added) > 0 {
			r.log.Info().Str("job_key", key).Strs("symbols", added).Msg("symbols added to existing subscription, triggering immediate pull")
			go r.dispatch.GetData(context.Background(), dispatchArgs{provider: row.Provider, interval: row.Interval, symbols: added, exchanges: addedExchanges})
		}
	}

	r.scheduler.Modify(key, args)
}

func diffAddedSymbols(oldSyms, newSyms, newExchanges []string) (added, addedExchanges []string) {
	old := make(map[string]struct{}, len(oldSyms))
	for _, s := range oldSyms {
		old[s] = struct{}{}
	}
	for i, s := range newSyms {
		if _, existed := old[s]; !existed {
			added = append(added, s)
			addedExchanges = append(addedExchanges, newExchanges[i])
		}
	}
	return added, addedExchanges
}

// reconcileIndexSyncJobs is the index-sync counterpart: one cron job per
// IndexProvider code_registry row, keyed by "index_sync_<provider>".
func (r *Reconciler) reconcileIndexSyncJobs(ctx context.Context) {
	configs, err := r.store.GetIndexProviderSyncConfigs(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("fetching index provider sync config failed")
		return
	}

	newKeys := make(map[string]struct{})
	for _, c := range configs {
		jobKey := "index_sync_" + c.ClassName

		cron, ok, err := r.store.GetCronForInterval(ctx, c.SyncFrequency)
		if err != nil {
			r.log.Error().Err(err).Str("provider", c.ClassName).Msg("looking up sync cron failed")
			continue
		}
		if !ok {
			r.log.Warn().Str("provider", c.ClassName).Str("sync_frequency", c.SyncFrequency).Msg("no cron template for sync_frequency, skipping")
			continue
		}
		newKeys[jobKey] = struct{}{}

		providerName := c.ClassName
		if err := r.scheduler.Add(jobKey, cron, func(a any) {
			r.indexSync.SyncConstituents(context.Background(), a.(string))
		}, providerName); err != nil {
			r.log.Error().Err(err).Str("job_key", jobKey).Msg("failed to add index sync job")
			delete(newKeys, jobKey)
		}
	}

	for key := range r.indexSyncKeys {
		if _, stillPresent := newKeys[key]; !stillPresent {
			r.log.Info().Str("job_key", key).Msg("removing index sync job")
			r.scheduler.Remove(key)
		}
	}
	r.indexSyncKeys = newKeys
}
