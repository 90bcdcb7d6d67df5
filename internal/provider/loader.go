package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/instrumentdata/platform/internal/security"
)

// Row is the subset of a code_registry row the loader needs.
type Row struct {
	ClassName  string
	ClassType  string
	FilePath   string
	FileHash   string
	Nonce      []byte
	Ciphertext []byte
}

// RowStore looks up a code_registry row by class name. Implemented by
// DataHub's persistence layer (datahub.Store); kept as an interface here so
// internal/provider has no database dependency.
type RowStore interface {
	GetByClassName(ctx context.Context, name string) (*Row, error)
}

// Loader loads, caches, and releases provider plugin instances.
type Loader struct {
	mu            sync.Mutex
	rows          RowStore
	systemContext *security.SystemContext
	sandboxPrefix string
	log           zerolog.Logger

	loaded map[string]Provider
	inUse  map[string]bool
}

// NewLoader constructs a Loader. sandboxPrefix gates which file_path values
// a code_registry row is allowed to reference.
func NewLoader(rows RowStore, systemContext *security.SystemContext, sandboxPrefix string, log zerolog.Logger) *Loader {
	return &Loader{
		rows:          rows,
		systemContext: systemContext,
		sandboxPrefix: sandboxPrefix,
		log:           log,
		loaded:        make(map[string]Provider),
		inUse:         make(map[string]bool),
	}
}

// Load returns the already-loaded provider for name, or loads it. Every
// failure path is logged and returns (nil, false) without propagating an
// error — a provider that cannot load just does not participate in this
// reconciliation pass.
func (l *Loader) Load(ctx context.Context, name string) (Provider, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.loaded[name]; ok {
		return p, true
	}

	row, err := l.rows.GetByClassName(ctx, name)
	if err != nil {
		l.log.Warn().Err(err).Str("provider", name).Msg("code_registry row lookup failed")
		return nil, false
	}
	if row == nil {
		l.log.Warn().Str("provider", name).Msg("no code_registry row for provider")
		return nil, false
	}

	if !strings.HasPrefix(row.FilePath, l.sandboxPrefix) {
		l.log.Error().Str("provider", name).Str("file_path", row.FilePath).Msg("file_path outside sandbox prefix")
		return nil, false
	}

	if err := verifyHash(row.FilePath, row.FileHash); err != nil {
		l.log.Error().Err(err).Str("provider", name).Msg("file hash verification failed")
		return nil, false
	}

	ctor, ok := Lookup(row.ClassName)
	if !ok {
		l.log.Error().Str("provider", name).Msg("no registered constructor for class_name")
		return nil, false
	}

	secretsHash, err := hex.DecodeString(row.FileHash)
	if err != nil {
		l.log.Error().Err(err).Str("provider", name).Msg("file_hash is not valid hex")
		return nil, false
	}

	var secrets *security.DerivedContext
	if len(row.Ciphertext) > 0 {
		secrets, err = l.systemContext.Derived(secretsHash, row.Nonce, row.Ciphertext)
		if err != nil {
			l.log.Error().Err(err).Str("provider", name).Msg("secret decryption failed")
			return nil, false
		}
	}

	p, err := ctor(secrets)
	if err != nil {
		l.log.Error().Err(err).Str("provider", name).Msg("provider constructor failed")
		return nil, false
	}

	if err := p.Open(ctx); err != nil {
		l.log.Error().Err(err).Str("provider", name).Msg("provider Open failed")
		return nil, false
	}

	l.loaded[name] = p
	l.log.Info().Str("provider", name).Msg("provider loaded")
	return p, true
}

// MarkInUse records that name has at least one active subscription, so
// ReleaseUnused will not drop it.
func (l *Loader) MarkInUse(name string, inUse bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inUse[name] = inUse
}

// Loaded returns the set of currently loaded provider names.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		names = append(names, name)
	}
	return names
}

// Get returns an already-loaded provider without attempting to load it.
func (l *Loader) Get(name string) (Provider, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.loaded[name]
	return p, ok
}

// ReleaseUnused drops every loaded provider not marked in_use, closing its
// scoped resources.
func (l *Loader) ReleaseUnused(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, p := range l.loaded {
		if l.inUse[name] {
			continue
		}
		if err := p.Close(ctx); err != nil {
			l.log.Warn().Err(err).Str("provider", name).Msg("error closing unused provider")
		}
		delete(l.loaded, name)
		delete(l.inUse, name)
		l.log.Info().Str("provider", name).Msg("provider released")
	}
}

func verifyHash(filePath, wantHash string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading plugin file: %w", err)
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != wantHash {
		return fmt.Errorf("hash mismatch: file on disk does not match stored file_hash")
	}
	return nil
}
