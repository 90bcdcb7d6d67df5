package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// snapshot is the on-disk warm-restart record: the set of provider names
// that were loaded at the last save. It lets a fresh process
// pre-load the same providers before the first request arrives instead of
// paying the loader's full Load cost (file read, hash verify, secret decryption, Open) on
// the critical path of the first subscription reconciliation tick.
type snapshot struct {
	LoadedNames []string `msgpack:"loaded_names"`
}

// SaveSnapshot msgpack-encodes the currently loaded provider names to path.
// Called by the reconciler at the end of every tick; nothing saves it on
// shutdown.
func (l *Loader) SaveSnapshot(path string) error {
	names := l.Loaded()
	data, err := msgpack.Marshal(snapshot{LoadedNames: names})
	if err != nil {
		return fmt.Errorf("encoding provider snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing provider snapshot: %w", err)
	}
	return nil
}

// WarmFromSnapshot reads path and eagerly Loads every provider it names.
// Missing files are not an error: an empty cache is just a cold start.
func (l *Loader) WarmFromSnapshot(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading provider snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding provider snapshot: %w", err)
	}

	for _, name := range snap.LoadedNames {
		if _, ok := l.Load(ctx, name); !ok {
			l.log.Warn().Str("provider", name).Msg("failed to warm provider from snapshot")
		}
	}
	return nil
}
