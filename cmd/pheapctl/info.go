package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/pheap/heap"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Report pool metadata and object counts",
		Long: `The info command opens the pool (creating it if needed) and reports its
size, occupancy, commit sequence and the number of live records per kind.

Example:
  pheapctl info --pool objects.pool
  pheapctl info --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(cfg *config, h *heap.Heap) error {
				return runInfo(cmd.OutOrStdout(), cfg, h)
			})
		},
	}
}

// poolInfo is the JSON form of the info report.
type poolInfo struct {
	Path      string         `json:"path"`
	Size      int64          `json:"size"`
	Allocated uint64         `json:"allocated"`
	Free      uint64         `json:"free"`
	Sequence  uint32         `json:"sequence"`
	Created   time.Time      `json:"created"`
	Root      string         `json:"root"`
	Names     uint64         `json:"names"`
	Objects   map[string]int `json:"objects"`
}

func runInfo(w io.Writer, cfg *config, h *heap.Heap) error {
	st, err := h.Pool().Stats()
	if err != nil {
		return err
	}
	info := poolInfo{
		Path:      st.Path,
		Size:      st.Size,
		Allocated: st.Allocated,
		Free:      st.FreeBytes + (st.HeapEnd - st.HeapTop),
		Sequence:  st.Sequence,
		Created:   st.Created,
		Root:      fmt.Sprintf("%#x", h.Root()),
		Objects:   make(map[string]int),
	}
	err = h.View(func(tx *heap.Tx) error {
		info.Names = tx.Directory().Size(tx)
		for k, n := range tx.Counts() {
			info.Objects[k.String()] = n
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cfg.JSON {
		return printJSON(w, info)
	}
	fmt.Fprintf(w, "Pool Information:\n")
	fmt.Fprintf(w, "  File: %s\n", info.Path)
	fmt.Fprintf(w, "  Size: %s\n", humanize.IBytes(uint64(info.Size)))
	fmt.Fprintf(w, "  Allocated: %s\n", humanize.IBytes(info.Allocated))
	fmt.Fprintf(w, "  Free: %s\n", humanize.IBytes(info.Free))
	fmt.Fprintf(w, "  Created: %s (%s)\n", info.Created.Format(time.RFC3339), humanize.Time(info.Created))
	fmt.Fprintf(w, "  Sequence: %s\n", humanize.Comma(int64(info.Sequence)))
	fmt.Fprintf(w, "  Root: %s\n", info.Root)
	fmt.Fprintf(w, "\nObjects:\n")
	fmt.Fprintf(w, "  Named: %d\n", info.Names)
	for k := heap.KindSortedMap; k <= heap.KindAggregate; k++ {
		fmt.Fprintf(w, "  %s: %d\n", k, info.Objects[k.String()])
	}
	return nil
}
