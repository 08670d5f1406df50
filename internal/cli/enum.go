package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqasim81/schema-orchestrator/internal/enumtype"
	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

// errConflictingPosition is returned when both --before and --after are given.
var errConflictingPosition = errors.New("--before and --after are mutually exclusive")

var enumCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "enum",
	Short: "Manage database enumerated types",
	Long: `Create, extend, and drop enumerated types idempotently under
advisory-lock protection. This is the only sanctioned path for enum DDL.`,
}

var enumSyncCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "sync",
	Short: "Ensure every registered enum exists with its expected labels",
	RunE:  runEnumSync,
}

var enumEnsureCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "ensure <enum>",
	Short: "Ensure one registered enum exists with its expected labels",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnumEnsure,
}

var enumAddValueCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "add-value <enum> <value>",
	Short: "Add a value to an enum (no-op if already present)",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnumAddValue,
}

var enumDropCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "drop <enum>",
	Short: "Drop an enum if it exists",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnumDrop,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	enumAddValueCmd.Flags().String("before", "", "insert before this existing label")
	enumAddValueCmd.Flags().String("after", "", "insert after this existing label")
	enumDropCmd.Flags().Bool("cascade", false, "drop dependent objects too")

	enumCmd.AddCommand(enumSyncCmd)
	enumCmd.AddCommand(enumEnsureCmd)
	enumCmd.AddCommand(enumAddValueCmd)
	enumCmd.AddCommand(enumDropCmd)
	rootCmd.AddCommand(enumCmd)
}

func runEnumSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	outcomes, err := e.enums().SyncAll(ctx, e.registry)
	if err != nil {
		return err
	}

	for _, desc := range e.registry.Enums {
		if outcome, ok := outcomes[desc.Name]; ok {
			fmt.Fprintf(out, "  %s: %s\n", desc.Name, outcome)
		}
	}

	return nil
}

func runEnumEnsure(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	desc, ok := e.registry.Enum(args[0])
	if !ok {
		return fmt.Errorf("%s: %w", args[0], schema.ErrEnumNotFound)
	}

	outcome, err := e.enums().EnsureEnum(ctx, desc)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s\n", desc.Name, outcome)

	return nil
}

func runEnumAddValue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	name, value := args[0], args[1]

	before, _ := cmd.Flags().GetString("before")
	after, _ := cmd.Flags().GetString("after")

	if before != "" && after != "" {
		return errConflictingPosition
	}

	var (
		pos      enumtype.Position
		neighbor string
	)

	switch {
	case before != "":
		pos, neighbor = enumtype.PositionBefore, before
	case after != "":
		pos, neighbor = enumtype.PositionAfter, after
	}

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	outcome, err := e.enums().AddEnumValue(ctx, name, value, pos, neighbor)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %q: %s\n", name, value, outcome)

	return nil
}

func runEnumDrop(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cascade, _ := cmd.Flags().GetBool("cascade")

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	outcome, err := e.enums().DropEnum(ctx, args[0], cascade)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s\n", args[0], outcome)

	return nil
}
