package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pheap/heap"
	"github.com/joshuapare/pheap/pool"
	"github.com/joshuapare/pheap/pool/dirty"
)

// openTestHeap creates a heap in a temp directory.
func openTestHeap(t *testing.T) (*heap.Heap, *config) {
	t.Helper()
	cfg := &config{Pool: filepath.Join(t.TempDir(), "cli.pool"), Size: 1 << 20}
	h, err := heap.Open(cfg.Pool, cfg.Size, heap.WithPoolOptions(pool.WithFlushMode(dirty.FlushNone)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, cfg
}

// runCommand runs the root command with args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(viper.Reset)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// TestPutGet tests binding each value type and reading it back.
func TestPutGet(t *testing.T) {
	h, cfg := openTestHeap(t)

	tests := []struct {
		name  string
		value string
		kind  heap.Kind
		raw   bool
		want  string
	}{
		{name: "greeting", value: "hello", kind: heap.KindByteArray, want: `"hello"`},
		{name: "answer", value: "0x2a", kind: heap.KindLong, want: "42"},
		{name: "blob", value: "deadbeef", kind: heap.KindByteArray, raw: true, want: "deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, runPut(h, tt.name, tt.value, tt.kind, tt.raw))
			var out bytes.Buffer
			require.NoError(t, runGet(&out, cfg, h, tt.name))
			assert.Equal(t, tt.want+"\n", out.String())
		})
	}

	var out bytes.Buffer
	err := runGet(&out, cfg, h, "missing")
	assert.ErrorIs(t, err, errNotFound)

	assert.Error(t, runPut(h, "bad", "x1", heap.KindLong, false))
	assert.Error(t, runPut(h, "bad", "zz", heap.KindByteArray, true))
}

// TestLsAndRm tests listing and removing bindings.
func TestLsAndRm(t *testing.T) {
	h, cfg := openTestHeap(t)
	require.NoError(t, runPut(h, "b", "2", heap.KindLong, false))
	require.NoError(t, runPut(h, "a", "one", heap.KindByteArray, false))

	var out bytes.Buffer
	require.NoError(t, runLs(&out, cfg, h))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "a\tbyte-array\t\"one\"", lines[0])
	assert.Equal(t, "b\tlong\t2", lines[1])

	cfg.JSON = true
	out.Reset()
	require.NoError(t, runLs(&out, cfg, h))
	var objects []object
	require.NoError(t, json.Unmarshal(out.Bytes(), &objects))
	require.Len(t, objects, 2)
	assert.Equal(t, "string", objects[0].Class)
	assert.EqualValues(t, 1, objects[1].RefCount)

	require.NoError(t, runRm(h, "a"))
	assert.ErrorIs(t, runRm(h, "a"), errNotFound)
	out.Reset()
	require.NoError(t, runLs(&out, cfg, h))
	require.NoError(t, json.Unmarshal(out.Bytes(), &objects))
	assert.Len(t, objects, 1)
}

// TestCheckAndCollect tests that check passes on a healthy heap and that
// collect reports what it reclaimed.
func TestCheckAndCollect(t *testing.T) {
	h, cfg := openTestHeap(t)
	require.NoError(t, h.Update(func(tx *heap.Tx) error {
		a, err := tx.NewAggregate("", 1)
		if err != nil {
			return err
		}
		b, err := tx.NewAggregate("", 1)
		if err != nil {
			return err
		}
		if err := a.SetField(tx, 0, b.Ref()); err != nil {
			return err
		}
		if err := b.SetField(tx, 0, a.Ref()); err != nil {
			return err
		}
		tx.Release(a.Ref())
		tx.Release(b.Ref())
		return nil
	}))

	var out bytes.Buffer
	require.NoError(t, runCheck(&out, cfg, h))
	assert.Equal(t, "ok\n", out.String())

	out.Reset()
	require.NoError(t, runCollect(&out, cfg, h))
	assert.Equal(t, "examined 2 candidates, reclaimed 2 records\n", out.String())
}

// TestInfoAndStats tests the text and JSON reports.
func TestInfoAndStats(t *testing.T) {
	h, cfg := openTestHeap(t)
	require.NoError(t, runPut(h, "n", "7", heap.KindLong, false))

	var out bytes.Buffer
	require.NoError(t, runInfo(&out, cfg, h))
	assert.Contains(t, out.String(), "Size: 1.0 MiB")
	assert.Contains(t, out.String(), "Named: 1")
	assert.Contains(t, out.String(), "long: 1")

	out.Reset()
	require.NoError(t, runStats(&out, cfg, h))
	assert.Contains(t, out.String(), "Volatile handles: 0")

	cfg.JSON = true
	out.Reset()
	require.NoError(t, runStats(&out, cfg, h))
	var hs heapStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &hs))
	assert.Equal(t, 1, hs.Kinds["long"].Count)
	assert.Equal(t, 1, hs.Kinds["sorted-map"].Count)
	assert.Positive(t, hs.Allocated)
}

// TestOpenHeap_FatalExitCode tests that a fatal heap error rolls back the
// transaction and turns into the fatal exit code.
func TestOpenHeap_FatalExitCode(t *testing.T) {
	t.Cleanup(func() { fatalSeen.Store(false) })
	cfg := &config{Pool: filepath.Join(t.TempDir(), "fatal.pool"), Size: 1 << 20}
	h, err := openHeap(cfg, heap.WithPoolOptions(pool.WithFlushMode(dirty.FlushNone)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	require.NoError(t, runPut(h, "n", "7", heap.KindLong, false))
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errNotFound))

	err = h.Update(func(tx *heap.Tx) error {
		ref, ok, err := tx.GetNamed("n")
		require.NoError(t, err)
		require.True(t, ok)
		// Named objects hold no volatile handle to release.
		tx.Release(ref)
		return nil
	})
	require.ErrorIs(t, err, heap.ErrNoHandle)
	assert.Equal(t, 2, exitCode(err))

	var out bytes.Buffer
	require.NoError(t, runGet(&out, cfg, h, "n"))
	assert.Equal(t, "7\n", out.String())
}

// TestLoadConfig_Env tests that PHEAP_ variables reach the configuration.
func TestLoadConfig_Env(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("PHEAP_POOL", "/tmp/env.pool")
	t.Setenv("PHEAP_SIZE", "2MiB")
	viper.SetEnvPrefix("pheap")
	viper.AutomaticEnv()

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.pool", cfg.Pool)
	assert.EqualValues(t, 2<<20, cfg.Size)

	t.Setenv("PHEAP_SIZE", "lots")
	_, err = loadConfig()
	assert.ErrorContains(t, err, "invalid size")
}

// TestCommands tests the cobra wiring end to end against a new pool file.
func TestCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.pool")
	flags := []string{"--pool", path, "--size", "1MiB"}

	_, err := runCommand(t, append([]string{"put", "greeting", "hi"}, flags...)...)
	require.NoError(t, err)

	out, err := runCommand(t, append([]string{"get", "greeting"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "\"hi\"\n", out)

	out, err = runCommand(t, append([]string{"dump"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "sorted maps 1, hash maps 0, byte arrays 2")

	out, err = runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "pheapctl dev")
}
