package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pheap/heap"
)

var dumpVerbosity int

func init() {
	dump := newDumpCmd()
	dump.Flags().IntVarP(&dumpVerbosity, "level", "l", 1, "0 totals only, 1 one line per record, 2 adds hash tables")
	rootCmd.AddCommand(dump, newCollectCmd(), newCheckCmd())
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print every live record, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(_ *config, h *heap.Heap) error {
				return h.Dump(cmd.OutOrStdout(), dumpVerbosity)
			})
		},
	}
}

func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run the cycle collector",
		Long: `The collect command runs trial deletion over every cycle candidate and
reclaims unreachable cycles.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(cfg *config, h *heap.Heap) error {
				return runCollect(cmd.OutOrStdout(), cfg, h)
			})
		},
	}
}

func runCollect(w io.Writer, cfg *config, h *heap.Heap) error {
	st, err := h.Collect()
	if err != nil {
		return err
	}
	if cfg.JSON {
		return printJSON(w, st)
	}
	_, err = fmt.Fprintf(w, "examined %d candidates, reclaimed %d records\n", st.Candidates, st.Collected)
	return err
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify reference counts and map invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(cfg *config, h *heap.Heap) error {
				return runCheck(cmd.OutOrStdout(), cfg, h)
			})
		},
	}
}

// errCheckFailed is returned by check when problems were reported.
var errCheckFailed = errors.New("heap check failed")

func runCheck(w io.Writer, cfg *config, h *heap.Heap) error {
	verr := h.View(func(tx *heap.Tx) error { return tx.Verify() })
	if verr != nil && !errors.Is(verr, heap.ErrCorrupt) {
		return verr
	}

	var problems []string
	if j, ok := verr.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			problems = append(problems, e.Error())
		}
	} else if verr != nil {
		problems = append(problems, verr.Error())
	}

	if cfg.JSON {
		if err := printJSON(w, map[string]any{"ok": verr == nil, "problems": problems}); err != nil {
			return err
		}
	} else if verr == nil {
		fmt.Fprintln(w, "ok")
	} else {
		for _, p := range problems {
			fmt.Fprintln(w, p)
		}
	}
	if verr != nil {
		return fmt.Errorf("%d problems: %w", len(problems), errCheckFailed)
	}
	return nil
}
