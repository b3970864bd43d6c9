package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/ledger"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Expect string // expected head digest
}

// VerifyReport is one entity's verification outcome.
type VerifyReport struct {
	ledger.Report
	ExpectedHead string `json:"expected_head,omitempty"`
	HeadMatches  *bool  `json:"head_matches,omitempty"`
}

// OK reports whether the chain, the metrics and the expected head all hold.
func (r VerifyReport) OK() bool {
	return r.Report.OK() && (r.HeadMatches == nil || *r.HeadMatches)
}

func (r VerifyReport) String() string {
	status := "✓"
	if !r.OK() {
		status = "✗"
	}
	line := fmt.Sprintf("%s %s  records=%d chain_ok=%t monotonic_ok=%t head=%s",
		status, r.EntityID, r.Records, r.ChainOK, r.MonotonicOK, truncateDigest(r.HeadDigest))
	if r.FirstFailingSequence != nil {
		line += fmt.Sprintf(" first_failing_sequence=%d", *r.FirstFailingSequence)
	}
	if r.HeadMatches != nil {
		line += fmt.Sprintf(" head_matches=%t", *r.HeadMatches)
	}
	return line
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Reports []VerifyReport `json:"reports"`
	Passed  int            `json:"passed"`
	Failed  int            `json:"failed"`
}

func (r VerifyResult) String() string {
	if len(r.Reports) == 0 {
		return "(no entities)"
	}
	lines := make([]string, 0, len(r.Reports)+1)
	for _, rep := range r.Reports {
		lines = append(lines, rep.String())
	}
	lines = append(lines, fmt.Sprintf("Verify Summary: %d passed, %d failed", r.Passed, r.Failed))
	return strings.Join(lines, "\n")
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [entity]",
		Short: "Recompute hash chains from stored records",
		Long: `Recompute every chain digest from sequence 0 using the stored fields,
and check that metrics never decrease. Without an entity, every stored
entity is verified.

Records are read straight from the backend, so out-of-band edits are
reported as data rather than refused at load time.

With --expect, the entity's head digest must also equal the given digest.

Exit codes:
  0 - All ledgers verified
  1 - Corruption detected or head mismatch
  2 - Command error

Examples:
  sigil verify
  sigil verify e1 --expect a2a37e52ac02...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Expect, "expect", "", "expected head digest (requires an entity)")

	return cmd
}

func runVerify(opts *VerifyOptions, args []string, cmd *cobra.Command) error {
	f := formatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	if opts.Expect != "" && len(args) == 0 {
		return f.Fail(ErrCodeBadInput, "--expect requires an entity", nil)
	}

	b, err := openBackend(ctx, opts.RootOptions)
	if err != nil {
		return f.Fail(ErrCodeOpenFailed, "failed to open backend", err)
	}
	defer b.Close()

	stored, err := b.ListEntities(ctx)
	if err != nil {
		return f.Fail(ErrCodeLoadFailed, "failed to list entities", err)
	}

	ids := stored
	if len(args) == 1 {
		if !slices.Contains(stored, args[0]) {
			return f.Fail(ErrCodeUnknownEntity, fmt.Sprintf("unknown entity %s", args[0]), nil)
		}
		ids = args
	}

	result := VerifyResult{Reports: make([]VerifyReport, 0, len(ids))}
	for _, id := range ids {
		recs, err := b.ReadRecords(ctx, id)
		if err != nil {
			return f.Fail(ErrCodeLoadFailed, fmt.Sprintf("failed to read %s", id), err)
		}
		rep := VerifyReport{Report: ledger.VerifyRecords(id, recs)}
		if opts.Expect != "" {
			matches := rep.HeadDigest == opts.Expect
			rep.ExpectedHead = opts.Expect
			rep.HeadMatches = &matches
		}
		if rep.OK() {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Reports = append(result.Reports, rep)
	}

	if result.Failed == 0 {
		return f.Success(result)
	}

	code, message := ErrCodeCorruption, fmt.Sprintf("%d ledger(s) failed verification", result.Failed)
	if len(result.Reports) == 1 && result.Reports[0].Report.OK() {
		code, message = ErrCodeHeadMismatch, "head digest does not match --expect"
	}

	if opts.Format == "json" {
		if err := json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: code, Message: message},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, result)
	}
	return NewExitError(ExitFailure, message)
}
