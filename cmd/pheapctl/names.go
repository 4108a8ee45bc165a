package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pheap/heap"
)

// errNotFound is returned by get and rm for unbound names.
var errNotFound = errors.New("name not found")

var (
	putLong  bool
	putBytes bool
)

func init() {
	put := newPutCmd()
	put.Flags().BoolVar(&putLong, "long", false, "Store the value as a 64-bit integer")
	put.Flags().BoolVar(&putBytes, "hex", false, "Store the value as raw bytes given in hex")
	rootCmd.AddCommand(put, newGetCmd(), newRmCmd(), newLsCmd())
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> <value>",
		Short: "Bind a name to a new string, integer or byte record",
		Long: `The put command stores value in a new record and binds name to it,
replacing (and releasing) any previous binding.

Example:
  pheapctl put greeting hello
  pheapctl put counter 42 --long
  pheapctl put blob deadbeef --hex`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(_ *config, h *heap.Heap) error {
				kind := heap.KindByteArray
				if putLong {
					kind = heap.KindLong
				}
				return runPut(h, args[0], args[1], kind, putBytes)
			})
		},
	}
}

// runPut creates the record for value and binds it under name.
func runPut(h *heap.Heap, name, value string, kind heap.Kind, raw bool) error {
	return h.Update(func(tx *heap.Tx) error {
		var ref heap.Ref
		switch {
		case kind == heap.KindLong:
			v, err := strconv.ParseInt(value, 0, 64)
			if err != nil {
				return fmt.Errorf("invalid integer %q: %w", value, err)
			}
			l, err := tx.NewLong("", v)
			if err != nil {
				return err
			}
			ref = l.Ref()
		case raw:
			b, err := hex.DecodeString(value)
			if err != nil {
				return fmt.Errorf("invalid hex %q: %w", value, err)
			}
			a, err := tx.NewByteArrayFrom("", b)
			if err != nil {
				return err
			}
			ref = a.Ref()
		default:
			s, err := tx.NewString(value)
			if err != nil {
				return err
			}
			ref = s.Ref()
		}
		defer tx.Release(ref)
		return tx.PutNamed(name, ref)
	})
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Print the record bound to a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(cfg *config, h *heap.Heap) error {
				return runGet(cmd.OutOrStdout(), cfg, h, args[0])
			})
		},
	}
}

func runGet(w io.Writer, cfg *config, h *heap.Heap, name string) error {
	return h.View(func(tx *heap.Tx) error {
		ref, ok, err := tx.GetNamed(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", name, errNotFound)
		}
		o := describe(tx, name, ref)
		if cfg.JSON {
			return printJSON(w, o)
		}
		_, err = fmt.Fprintln(w, o.Value)
		return err
	})
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Unbind a name, releasing its record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(_ *config, h *heap.Heap) error {
				return runRm(h, args[0])
			})
		},
	}
}

func runRm(h *heap.Heap, name string) error {
	found, err := h.RemoveNamed(name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", name, errNotFound)
	}
	return nil
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List named objects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHeap(func(cfg *config, h *heap.Heap) error {
				return runLs(cmd.OutOrStdout(), cfg, h)
			})
		},
	}
}

func runLs(w io.Writer, cfg *config, h *heap.Heap) error {
	return h.View(func(tx *heap.Tx) error {
		objects := []object{}
		if err := tx.Names(func(name string, ref heap.Ref) error {
			objects = append(objects, describe(tx, name, ref))
			return nil
		}); err != nil {
			return err
		}
		if cfg.JSON {
			return printJSON(w, objects)
		}
		for _, o := range objects {
			if _, err := fmt.Fprintln(w, o); err != nil {
				return err
			}
		}
		return nil
	})
}
