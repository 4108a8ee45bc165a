package main

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/pheap/heap"
	"github.com/joshuapare/pheap/pool"
)

var statsPrometheus bool

func init() {
	cmd := newStatsCmd()
	cmd.Flags().BoolVar(&statsPrometheus, "prometheus", false, "Write the pool and heap metrics in Prometheus text format")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show allocator and object statistics",
		Long: `The stats command shows allocator occupancy, the bytes held by each
record kind and, with --prometheus, the exported metrics.

Example:
  pheapctl stats
  pheapctl stats --prometheus`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			set := metrics.NewSet()
			h, err := openHeap(cfg, heap.WithMetricsSet(set), heap.WithPoolOptions(pool.WithMetricsSet(set)))
			if err != nil {
				return err
			}
			defer h.Close()
			if statsPrometheus {
				set.WritePrometheus(cmd.OutOrStdout())
				return nil
			}
			return runStats(cmd.OutOrStdout(), cfg, h)
		},
	}
}

// kindStats is the per-kind part of the stats report.
type kindStats struct {
	Count int    `json:"count"`
	Bytes uint64 `json:"bytes"`
}

type heapStats struct {
	Allocated  uint64               `json:"allocated"`
	FreeBytes  uint64               `json:"free_bytes"`
	FreeBlocks int                  `json:"free_blocks"`
	Untouched  uint64               `json:"untouched"`
	Kinds      map[string]kindStats `json:"kinds"`
	Handles    uint64               `json:"handles"`
	Candidates int                  `json:"candidates"`
}

func runStats(w io.Writer, cfg *config, h *heap.Heap) error {
	st, err := h.Pool().Stats()
	if err != nil {
		return err
	}
	hs := heapStats{
		Allocated:  st.Allocated,
		FreeBytes:  st.FreeBytes,
		FreeBlocks: st.FreeCount,
		Untouched:  st.HeapEnd - st.HeapTop,
		Kinds:      make(map[string]kindStats),
	}
	err = h.View(func(tx *heap.Tx) error {
		return tx.Objects(func(ref heap.Ref) error {
			ks := hs.Kinds[tx.Kind(ref).String()]
			ks.Count++
			ks.Bytes += tx.Size(ref)
			hs.Kinds[tx.Kind(ref).String()] = ks
			hs.Handles += tx.LiveHandles(ref)
			if tx.IsCandidate(ref) {
				hs.Candidates++
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	if cfg.JSON {
		return printJSON(w, hs)
	}
	fmt.Fprintf(w, "Allocator:\n")
	fmt.Fprintf(w, "  Allocated: %s\n", humanize.IBytes(hs.Allocated))
	fmt.Fprintf(w, "  Free lists: %s in %s blocks\n", humanize.IBytes(hs.FreeBytes), humanize.Comma(int64(hs.FreeBlocks)))
	fmt.Fprintf(w, "  Untouched: %s\n", humanize.IBytes(hs.Untouched))
	fmt.Fprintf(w, "\nRecords:\n")
	for k := heap.KindSortedMap; k <= heap.KindAggregate; k++ {
		ks := hs.Kinds[k.String()]
		fmt.Fprintf(w, "  %-12s %8s  %s\n", k.String()+":", humanize.Comma(int64(ks.Count)), humanize.IBytes(ks.Bytes))
	}
	fmt.Fprintf(w, "\nVolatile handles: %d\n", hs.Handles)
	fmt.Fprintf(w, "Cycle candidates: %d\n", hs.Candidates)
	return nil
}
