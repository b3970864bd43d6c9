package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sigil/internal/harness"
	"github.com/roach88/sigil/internal/manifest"
	"github.com/roach88/sigil/internal/registry"
)

// DeclarationView is the output form of one declaration.
type DeclarationView struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Value    string `json:"value"`
	Position int    `json:"position"`
}

func viewOf(d registry.Declaration) DeclarationView {
	return DeclarationView{
		Owner:    d.Owner,
		Name:     d.Name,
		Kind:     d.Value.Kind().String(),
		Value:    d.Value.String(),
		Position: d.Position,
	}
}

// DeclareResult is the output of the declare command.
type DeclareResult struct {
	Source       string            `json:"source"`
	Declared     int               `json:"declared"`
	Total        int               `json:"total"`
	Declarations []DeclarationView `json:"declarations"`
}

func (r DeclareResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Declared %d new symbol(s) from %s (%d total)", r.Declared, r.Source, r.Total)
	for _, d := range r.Declarations {
		fmt.Fprintf(&b, "\n  %s.%s = %s", d.Owner, d.Name, d.Value)
	}
	return b.String()
}

// NewDeclareCommand creates the declare command.
func NewDeclareCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "declare (<manifest> | <owner> <name> <value>)",
		Short: "Declare symbols from a CUE manifest or inline",
		Long: `Declare immutable symbols for owner types.

With one argument, reads a CUE manifest file or directory:

  declare: ORION: {
    origin:  "Genesis10000+"
    tracked: "true"
  }

With three arguments, declares a single symbol. The value is parsed as JSON
when possible (numbers, strings, lists of numbers) and taken as a raw string
otherwise.

Re-declaring an identical value is a no-op; a different value fails.

Examples:
  sigil declare ./orion.cue
  sigil declare ORION origin Genesis10000+
  sigil declare ORION resonance '[1, 0.5]'`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return fmt.Errorf("accepts 1 or 3 arg(s), received %d", len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeclare(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runDeclare(opts *RootOptions, args []string, cmd *cobra.Command) error {
	f := formatter(opts, cmd)
	ctx := cmd.Context()

	var (
		m      *manifest.Manifest
		source string
	)
	if len(args) == 1 {
		source = args[0]
		loaded, err := manifest.Load(source)
		if err != nil {
			return f.Fail(ErrCodeManifest, "failed to read manifest", err)
		}
		m = loaded
	} else {
		source = "command line"
		value, err := ParseValueArg(args[2])
		if err != nil {
			return f.Fail(ErrCodeBadInput, "invalid value", err)
		}
		m = &manifest.Manifest{Entries: []manifest.Entry{{Owner: args[0], Name: args[1], Value: value}}}
	}

	s, err := begin(opts, cmd, f)
	if err != nil {
		return err
	}
	defer s.Close()

	before := s.registry.Len()
	if err := m.Apply(s.registry); err != nil {
		return f.Fail("", "declaration refused", err)
	}
	if err := s.persistDeclarations(ctx); err != nil {
		// Another writer may have stored a different value since we loaded.
		code := ErrorCodeFor(err)
		if code == ErrCodeGeneric {
			code = ErrCodeWriteFailed
		}
		return f.Fail(code, "failed to persist declarations", err)
	}

	result := DeclareResult{
		Source:       source,
		Declared:     s.registry.Len() - before,
		Total:        s.registry.Len(),
		Declarations: make([]DeclarationView, 0, len(m.Entries)),
	}
	stored := make(map[[2]string]registry.Declaration, s.registry.Len())
	for d := range s.registry.All() {
		stored[[2]string{d.Owner, d.Name}] = d
	}
	for _, e := range m.Entries {
		result.Declarations = append(result.Declarations, viewOf(stored[[2]string{e.Owner, e.Name}]))
	}
	return f.Success(result)
}

// ParseValueArg parses a command-line value: JSON numbers, strings and
// lists of numbers are decoded, anything else is a raw string.
func ParseValueArg(arg string) (registry.Value, error) {
	var decoded any
	if err := json.Unmarshal([]byte(arg), &decoded); err != nil {
		return registry.String(arg), nil
	}
	switch decoded.(type) {
	case string, float64, []any:
		return harness.ToValue(decoded)
	}
	return registry.String(arg), nil
}

// LookupResult is the output of the lookup command.
type LookupResult struct {
	DeclarationView
}

func (r LookupResult) String() string {
	return r.Value
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <owner> <name>",
		Short: "Print the value declared under owner.name",
		Example: `  sigil lookup ORION origin
  sigil lookup ORION origin --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(rootOpts, cmd)
			s, err := begin(rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer s.Close()

			for d := range s.registry.ListFor(args[0]) {
				if d.Name == args[1] {
					return f.Success(LookupResult{viewOf(d)})
				}
			}
			_, err = s.registry.Lookup(args[0], args[1])
			return f.Fail("", "lookup failed", err)
		},
	}
}

// ListResult is the output of the list command.
type ListResult struct {
	Owner        string            `json:"owner,omitempty"`
	Declarations []DeclarationView `json:"declarations"`
}

func (r ListResult) String() string {
	if len(r.Declarations) == 0 {
		return "(no declarations)"
	}
	lines := make([]string, len(r.Declarations))
	for i, d := range r.Declarations {
		lines[i] = fmt.Sprintf("%4d  %s.%s = %s", d.Position, d.Owner, d.Name, d.Value)
	}
	return strings.Join(lines, "\n")
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [owner]",
		Short: "List declarations in declaration order",
		Long: `List declarations. With an owner, lists only that owner's symbols;
without one, lists every declaration in global declaration order.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(rootOpts, cmd)
			s, err := begin(rootOpts, cmd, f)
			if err != nil {
				return err
			}
			defer s.Close()

			result := ListResult{Declarations: []DeclarationView{}}
			decls := s.registry.All()
			if len(args) == 1 {
				result.Owner = args[0]
				decls = s.registry.ListFor(args[0])
			}
			for d := range decls {
				result.Declarations = append(result.Declarations, viewOf(d))
			}
			return f.Success(result)
		},
	}
}
