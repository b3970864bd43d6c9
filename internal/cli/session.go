package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/logging"
	"github.com/roach88/sigil/internal/metrics"
	"github.com/roach88/sigil/internal/redisstore"
	"github.com/roach88/sigil/internal/registry"
	"github.com/roach88/sigil/internal/snapshot"
	"github.com/roach88/sigil/internal/store"
)

// Backend is the storage surface the CLI writes through. Both the SQLite
// store and the Redis store implement it.
type Backend interface {
	snapshot.Backend
	WriteDeclaration(ctx context.Context, d registry.Declaration) error
	WriteEntity(ctx context.Context, entityID string) error
	AppendRecord(ctx context.Context, rec ledger.Record) error
	ReadRecords(ctx context.Context, entityID string) ([]ledger.Record, error)
	ListEntities(ctx context.Context) ([]string, error)
	Close() error
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*redisstore.Store)(nil)
)

// openBackend opens the backend selected by the root flags.
func openBackend(ctx context.Context, opts *RootOptions) (Backend, error) {
	if opts.Redis != "" {
		rs := redisstore.New(opts.Redis, os.Getenv("SIGIL_REDIS_PASSWORD"), 0)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, err
		}
		return rs, nil
	}
	return store.Open(opts.Database)
}

var errOpenBackend = errors.New("backend unavailable")

// session is the loaded state of one CLI invocation.
type session struct {
	backend  Backend
	registry *registry.Registry
	ledger   *ledger.Ledger
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// openSession opens the backend and loads every declaration and ledger into
// memory. Each stored history is re-verified on the way in; a corrupted one
// fails the load with *ledger.CorruptionError.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	b, err := openBackend(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenBackend, err)
	}

	logger := logging.New(logging.LevelFor(opts.Verbose), cmd.ErrOrStderr())
	m := metrics.New()
	reg := registry.New(registry.WithLogger(logger), registry.WithObserver(m))
	led := ledger.New(
		ledger.WithRegistry(reg),
		ledger.WithLogger(logger),
		ledger.WithObserver(m),
	)

	if err := snapshot.Load(ctx, b, reg, led); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	logger.Debug("state loaded", "declarations", reg.Len(), "entities", len(led.Entities()))

	return &session{
		backend:  b,
		registry: reg,
		ledger:   led,
		metrics:  m,
		logger:   logger,
	}, nil
}

// begin opens a session for cmd, reporting failures through f.
func begin(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) (*session, error) {
	s, err := openSession(cmd.Context(), opts, cmd)
	if err != nil {
		if errors.Is(err, errOpenBackend) {
			return nil, f.Fail(ErrCodeOpenFailed, "failed to open backend", err)
		}
		code := ErrorCodeFor(err)
		if code == ErrCodeGeneric {
			code = ErrCodeLoadFailed
		}
		return nil, f.Fail(code, "failed to load state", err)
	}
	return s, nil
}

func (s *session) Close() error {
	return s.backend.Close()
}

// persistDeclarations writes every declaration in the registry. Writes of
// already stored declarations are no-ops in both backends; a stored value
// that differs fails with *registry.DuplicateDeclarationError.
func (s *session) persistDeclarations(ctx context.Context) error {
	for d := range s.registry.All() {
		if err := s.backend.WriteDeclaration(ctx, d); err != nil {
			return fmt.Errorf("write declaration %s.%s: %w", d.Owner, d.Name, err)
		}
	}
	return nil
}

// persistRecord writes an appended record, registering its entity first.
func (s *session) persistRecord(ctx context.Context, rec ledger.Record) error {
	if err := s.backend.WriteEntity(ctx, rec.EntityID); err != nil {
		return err
	}
	return s.backend.AppendRecord(ctx, rec)
}
