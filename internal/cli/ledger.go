package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/ir"
	"github.com/roach88/sigil/internal/ledger"
)

// RecordView is the output form of one ledger record.
type RecordView struct {
	EntityID      string `json:"entity_id"`
	Seq           int64  `json:"seq"`
	Metric        string `json:"metric"`
	PayloadDigest string `json:"payload_digest"`
	ChainDigest   string `json:"chain_digest"`
	Timestamp     string `json:"timestamp"`
}

func recordView(rec ledger.Record) RecordView {
	return RecordView{
		EntityID:      rec.EntityID,
		Seq:           rec.Sequence,
		Metric:        metricText(rec.Metric),
		PayloadDigest: rec.PayloadDigest,
		ChainDigest:   rec.ChainDigest,
		Timestamp:     rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func (r RecordView) String() string {
	return fmt.Sprintf("%4d  metric=%-8s chain=%s payload=%s  %s",
		r.Seq, r.Metric, truncateDigest(r.ChainDigest), truncateDigest(r.PayloadDigest), r.Timestamp)
}

// metricText renders a metric in its canonical form. A value that has none,
// such as one read back from a damaged store, is printed as is.
func metricText(m float64) string {
	if s, err := ir.FormatMetric(m); err == nil {
		return s
	}
	return fmt.Sprint(m)
}

// truncateDigest shortens a digest for text output.
func truncateDigest(d string) string {
	if len(d) <= 12 {
		return d
	}
	return d[:12]
}

// OpenResult is the output of the open command.
type OpenResult struct {
	EntityID string `json:"entity_id"`
	Owner    string `json:"owner,omitempty"`
	Head     string `json:"head"`
	Records  int    `json:"records"`
}

func (r OpenResult) String() string {
	return fmt.Sprintf("%s (records=%d, head=%s)", r.EntityID, r.Records, r.Head)
}

// OpenOptions holds flags for the open command.
type OpenOptions struct {
	*RootOptions
	Entity string
	Type   string
}

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an entity ledger",
		Long: `Open (or create) the ledger of an entity. A new ledger starts at the
genesis anchor. Without --entity a time-sortable UUIDv7 id is generated.
With --type the owner type must be declared tracked ("true").

Examples:
  sigil open --entity e1
  sigil open --type ORION`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity id (default: new UUIDv7)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "owner type that must be declared tracked")

	return cmd
}

func runOpen(opts *OpenOptions, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	s, err := begin(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	entityID := opts.Entity
	if entityID == "" {
		entityID = ledger.NewEntityID()
	}

	var h *ledger.Handle
	if opts.Type != "" {
		h, err = s.ledger.OpenTyped(opts.Type, entityID)
	} else {
		h, err = s.ledger.Open(entityID)
	}
	if err != nil {
		return f.Fail("", "open refused", err)
	}
	if err := s.backend.WriteEntity(cmd.Context(), entityID); err != nil {
		return f.Fail(ErrCodeWriteFailed, "failed to persist entity", err)
	}

	head, _ := h.Head()
	return f.Success(OpenResult{EntityID: entityID, Owner: opts.Type, Head: head, Records: h.Len()})
}

// EvolveOptions holds flags for the evolve command.
type EvolveOptions struct {
	*RootOptions
	Metric  float64
	Payload string
}

// NewEvolveCommand creates the evolve command.
func NewEvolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evolve <entity>",
		Short: "Append a transition to an entity ledger",
		Long: `Append one transition. The metric must lie in [0, 1] and must not be
below the entity's current metric. The payload is a JSON object; it is
hashed in canonical form, so key order and number spelling (2 vs 2.0) do not
change the digest. NaN and infinities cannot be written. The entity is opened
if needed.

Examples:
  sigil evolve e1 --metric 0.4 --payload '{"a": 2}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvolve(opts, args[0], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Metric, "metric", 0, "new metric value in [0, 1] (required)")
	_ = cmd.MarkFlagRequired("metric")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "state payload as a JSON object")

	return cmd
}

func runEvolve(opts *EvolveOptions, entityID string, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)

	payload, err := ir.UnmarshalIRValue([]byte(opts.Payload))
	if err != nil {
		return f.Fail(ErrCodeSerialization, "invalid payload", err)
	}

	s, err := begin(opts.RootOptions, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.ledger.Evolve(entityID, opts.Metric, payload)
	if err != nil {
		return f.Fail("", "evolve refused", err)
	}
	if err := s.persistRecord(cmd.Context(), rec); err != nil {
		return f.Fail(ErrCodeWriteFailed, "failed to persist record", err)
	}
	f.VerboseLog("appended %s seq %d", rec.EntityID, rec.Sequence)

	return f.Success(recordView(rec))
}

// HistoryResult is the output of the history command.
type HistoryResult struct {
	EntityID string       `json:"entity_id"`
	Records  []RecordView `json:"records"`
}

func (r HistoryResult) String() string {
	if len(r.Records) == 0 {
		return fmt.Sprintf("%s: (no records)", r.EntityID)
	}
	lines := []string{r.EntityID + ":"}
	for _, rec := range r.Records {
		lines = append(lines, rec.String())
	}
	return strings.Join(lines, "\n")
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "history <entity>",
		Short:         "Print an entity's records in sequence order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(rootOpts, cmd)
			s, err := begin(rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.ledger.Lookup(args[0]); err != nil {
				return f.Fail("", "history failed", err)
			}
			result := HistoryResult{EntityID: args[0], Records: []RecordView{}}
			for rec := range s.ledger.History(args[0]) {
				result.Records = append(result.Records, recordView(rec))
			}
			return f.Success(result)
		},
	}
}

// EntitySummary is one row of the entities command.
type EntitySummary struct {
	EntityID string `json:"entity_id"`
	Records  int    `json:"records"`
	Metric   string `json:"metric"`
	Head     string `json:"head"`
}

// EntitiesResult is the output of the entities command.
type EntitiesResult struct {
	Entities []EntitySummary `json:"entities"`
}

func (r EntitiesResult) String() string {
	if len(r.Entities) == 0 {
		return "(no entities)"
	}
	lines := make([]string, len(r.Entities))
	for i, e := range r.Entities {
		lines[i] = fmt.Sprintf("%s  records=%d metric=%s head=%s",
			e.EntityID, e.Records, e.Metric, truncateDigest(e.Head))
	}
	return strings.Join(lines, "\n")
}

// NewEntitiesCommand creates the entities command.
func NewEntitiesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "entities",
		Short:         "List every opened entity with its head",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(rootOpts, cmd)
			s, err := begin(rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer s.Close()

			result := EntitiesResult{Entities: []EntitySummary{}}
			for _, id := range s.ledger.Entities() {
				h, err := s.ledger.Lookup(id)
				if err != nil {
					return f.Fail("", "entities failed", err)
				}
				head, metric := h.Head()
				result.Entities = append(result.Entities, EntitySummary{
					EntityID: id,
					Records:  h.Len(),
					Metric:   metricText(metric),
					Head:     head,
				})
			}
			return f.Success(result)
		},
	}
}
