package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/ir"
	"github.com/roach88/sigil/internal/ledger"
	"github.com/roach88/sigil/internal/registry"
	"github.com/roach88/sigil/internal/snapshot"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// ExportResult is the output of the export command when writing to a file.
type ExportResult struct {
	Path         string `json:"path"`
	Digest       string `json:"digest"`
	Declarations int    `json:"declarations"`
	Entities     int    `json:"entities"`
	Records      int    `json:"records"`
}

func (r ExportResult) String() string {
	return fmt.Sprintf("✓ Exported %d declaration(s), %d entity(ies), %d record(s) to %s\n  digest %s",
		r.Declarations, r.Entities, r.Records, r.Path, r.Digest)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all state with its snapshot digest",
		Long: `Write every declaration and every ledger as JSON, together with the
snapshot digest. The digest covers the declarations and each ledger's head,
so two exports of the same state share it regardless of timestamps.

Without --out the export is written to stdout.

Examples:
  sigil export --out state.json
  sigil export > state.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "output file (default: stdout)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	s, err := begin(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	snap := snapshot.Capture(s.registry, s.ledger)
	if opts.Output == "" {
		if _, err := snapshot.Encode(cmd.OutOrStdout(), snap); err != nil {
			return f.Fail(ErrCodeWriteFailed, "failed to encode snapshot", err)
		}
		return nil
	}

	file, err := os.Create(opts.Output)
	if err != nil {
		return f.Fail(ErrCodeWriteFailed, "failed to create output file", err)
	}
	digest, err := snapshot.Encode(file, snap)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return f.Fail(ErrCodeWriteFailed, "failed to write snapshot", err)
	}

	return f.Success(ExportResult{
		Path:         opts.Output,
		Digest:       digest,
		Declarations: len(snap.Declarations),
		Entities:     len(snap.Entities),
		Records:      snap.RecordCount(),
	})
}

// ImportResult is the output of the import command.
type ImportResult struct {
	Path         string `json:"path"`
	Digest       string `json:"digest"`
	Declarations int    `json:"declarations"`
	Entities     int    `json:"entities"`
	Records      int    `json:"records"`
}

func (r ImportResult) String() string {
	return fmt.Sprintf("✓ Imported %d declaration(s), %d entity(ies), %d record(s) from %s\n  digest %s",
		r.Declarations, r.Entities, r.Records, r.Path, r.Digest)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace all state with an export",
		Long: `Read an export, check its digest, re-verify every ledger, and replace the
backend's contents with it. Nothing is written if any check fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	ctx := cmd.Context()

	file, err := os.Open(path)
	if err != nil {
		return f.Fail(ErrCodeNotFound, "failed to open export", err)
	}
	defer file.Close()

	snap, err := snapshot.Decode(file)
	if err != nil {
		if errors.Is(err, snapshot.ErrDigestMismatch) {
			return f.Fail(ErrCodeCorruption, "export rejected", err)
		}
		return f.Fail(ErrCodeBadInput, "failed to decode export", err)
	}

	// Replaying into fresh instances re-verifies every ledger.
	reg := registry.New()
	led := ledger.New(ledger.WithRegistry(reg))
	if err := snapshot.Apply(snap, reg, led); err != nil {
		return f.Fail("", "export rejected", err)
	}

	b, err := openBackend(ctx, opts)
	if err != nil {
		return f.Fail(ErrCodeOpenFailed, "failed to open backend", err)
	}
	defer b.Close()

	if err := b.Save(ctx, snap); err != nil {
		return f.Fail(ErrCodeWriteFailed, "failed to save snapshot", err)
	}

	digest, err := snapshot.Digest(snap)
	if err != nil {
		return f.Fail("", "failed to digest snapshot", err)
	}
	return f.Success(ImportResult{
		Path:         path,
		Digest:       digest,
		Declarations: len(snap.Declarations),
		Entities:     len(snap.Entities),
		Records:      snap.RecordCount(),
	})
}

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Metrics bool
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Backend       string `json:"backend"`
	SchemaVersion string `json:"schema_version"`
	ToolVersion   string `json:"tool_version"`
	Owners        int    `json:"owners"`
	Tracked       int    `json:"tracked"`
	Declarations  int    `json:"declarations"`
	Entities      int    `json:"entities"`
	Records       int    `json:"records"`
	Digest        string `json:"digest"`
	Metrics       string `json:"metrics,omitempty"`
}

func (r StatusResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backend:      %s\n", r.Backend)
	fmt.Fprintf(&b, "Version:      %s (schema %s)\n", r.ToolVersion, r.SchemaVersion)
	fmt.Fprintf(&b, "Owners:       %d (%d tracked)\n", r.Owners, r.Tracked)
	fmt.Fprintf(&b, "Declarations: %d\n", r.Declarations)
	fmt.Fprintf(&b, "Entities:     %d\n", r.Entities)
	fmt.Fprintf(&b, "Records:      %d\n", r.Records)
	fmt.Fprintf(&b, "Digest:       %s", r.Digest)
	if r.Metrics != "" {
		fmt.Fprintf(&b, "\n\n%s", strings.TrimRight(r.Metrics, "\n"))
	}
	return b.String()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize stored state",
		Long: `Load all state, re-verifying every ledger, and print counts together
with the snapshot digest. With --metrics the Prometheus counters collected
during the load are appended in text exposition format.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "include Prometheus counters")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	s, err := begin(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	snap := snapshot.Capture(s.registry, s.ledger)
	digest, err := snapshot.Digest(snap)
	if err != nil {
		return f.Fail("", "failed to digest snapshot", err)
	}

	owners := s.registry.Owners()
	tracked := 0
	for _, o := range owners {
		if s.registry.Tracked(o) {
			tracked++
		}
	}

	result := StatusResult{
		Backend:       backendName(opts.RootOptions),
		SchemaVersion: ir.SchemaVersion,
		ToolVersion:   ir.ToolVersion,
		Owners:        len(owners),
		Tracked:       tracked,
		Declarations:  len(snap.Declarations),
		Entities:      len(snap.Entities),
		Records:       snap.RecordCount(),
		Digest:        digest,
	}
	if opts.Metrics {
		var b strings.Builder
		if err := s.metrics.WriteText(&b); err != nil {
			return f.Fail("", "failed to render metrics", err)
		}
		result.Metrics = b.String()
	}
	return f.Success(result)
}

func backendName(opts *RootOptions) string {
	if opts.Redis != "" {
		return "redis " + opts.Redis
	}
	return "sqlite " + opts.Database
}

// chainFinder is implemented by backends that index chain digests.
type chainFinder interface {
	FindByChainDigest(ctx context.Context, digest string) (ledger.Record, error)
}

// NewProofCommand creates the proof command.
func NewProofCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "proof <chain-digest>",
		Short: "Find the record a chain digest seals",
		Long: `Look up the stored record whose chain digest is the given value. The
record returned by evolve is the proof of a transition; this command
resolves such a proof back to its entity and sequence.

Only the SQLite backend indexes chain digests.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProof(rootOpts, args[0], cmd)
		},
	}
}

func runProof(opts *RootOptions, digest string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	ctx := cmd.Context()

	b, err := openBackend(ctx, opts)
	if err != nil {
		return f.Fail(ErrCodeOpenFailed, "failed to open backend", err)
	}
	defer b.Close()

	finder, ok := b.(chainFinder)
	if !ok {
		return f.Fail(ErrCodeBadInput, "backend does not index chain digests", nil)
	}
	rec, err := finder.FindByChainDigest(ctx, digest)
	if errors.Is(err, sql.ErrNoRows) {
		return f.Fail(ErrCodeNotFound, fmt.Sprintf("no record sealed by %s", digest), nil)
	}
	if err != nil {
		return f.Fail(ErrCodeLoadFailed, "proof lookup failed", err)
	}
	return f.Success(recordView(rec))
}
