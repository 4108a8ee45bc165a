package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshuapare/pheap/heap"
	"github.com/joshuapare/pheap/internal/logger"
)

const defaultSize = "64MiB"

// config is the resolved global configuration of one invocation.
type config struct {
	Pool    string
	Size    int64
	Verbose bool
	JSON    bool
}

var rootCmd = &cobra.Command{
	Use:   "pheapctl",
	Short: "Inspect and edit persistent object heaps",
	Long: `pheapctl opens a persistent heap pool file and inspects or edits
its named objects, runs the cycle collector and reports statistics.

Settings come from flags, PHEAP_<FLAG> environment variables (for
example PHEAP_POOL=/var/lib/app/objects.pool), .env and .env.local files
in the working directory and an optional config file.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	key := "pool"
	rootCmd.PersistentFlags().String(key, "heap.pool", "Path of the pool file")

	key = "size"
	rootCmd.PersistentFlags().String(key, defaultSize, "Size of a newly created pool (e.g. 64MiB, 1GB)")

	key = "verbose"
	rootCmd.PersistentFlags().BoolP(key, "v", false, "Log heap activity to stderr")

	key = "json"
	rootCmd.PersistentFlags().Bool(key, false, "Output in JSON format")

	key = "config"
	rootCmd.PersistentFlags().String(key, "", "Config file (yaml, toml or json)")
}

func execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// Exit codes. exitFatal matches the heap's own fatal handler.
const (
	exitError = 1
	exitFatal = 2
)

// fatalSeen is set once the heap reports an unrecoverable error.
var fatalSeen atomic.Bool

func exitCode(err error) int {
	switch {
	case fatalSeen.Load():
		return exitFatal
	case err != nil:
		return exitError
	}
	return 0
}

// initConfig layers env files, environment, config file and flags into
// viper and sets up logging.
func initConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("pheap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if viper.GetBool("verbose") {
		return logger.Init(logger.Options{Enabled: true, Level: slog.LevelDebug})
	}
	return nil
}

// loadConfig reads the resolved settings out of viper.
func loadConfig() (*config, error) {
	size, err := humanize.ParseBytes(viper.GetString("size"))
	if err != nil {
		return nil, fmt.Errorf("invalid size %q: %w", viper.GetString("size"), err)
	}
	return &config{
		Pool:    viper.GetString("pool"),
		Size:    int64(size),
		Verbose: viper.GetBool("verbose"),
		JSON:    viper.GetBool("json"),
	}, nil
}

// openHeap opens the configured pool, creating it when the file does not
// exist yet. A fatal heap error aborts the running transaction, so the heap
// is closed cleanly and the pool file keeps its last committed state; the
// process still exits with exitFatal.
func openHeap(cfg *config, opts ...heap.Option) (*heap.Heap, error) {
	size := cfg.Size
	if _, err := os.Stat(cfg.Pool); err == nil {
		size = 0
	}
	opts = append([]heap.Option{heap.WithOnFatal(func(err error) {
		fatalSeen.Store(true)
		logger.Error("fatal heap error", "error", err)
	})}, opts...)
	h, err := heap.Open(cfg.Pool, size, opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Pool, err)
	}
	return h, nil
}

// withHeap runs fn against the configured heap and closes it afterwards.
func withHeap(fn func(cfg *config, h *heap.Heap) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := openHeap(cfg)
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(cfg, h)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
