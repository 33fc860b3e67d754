package device_test

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/cache"
	"github.com/frobware/go-shaperman/device"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set SHAPERD_TEST_LOG=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("SHAPERD_TEST_LOG") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDevice_CacheLifecycle(t *testing.T) {
	d := device.New(device.Config{Ifindex: 1, Name: "eth0", TxQueues: 8}, testLogger())

	assert.Nil(t, d.Cache(), "no cache before anything was staged")

	d.Lock()
	c := d.EnsureCache()
	require.NotNil(t, c)
	same := d.EnsureCache()
	d.Unlock()
	assert.Same(t, c, same, "cache pointer is stable for the device's life")
	assert.Same(t, c, d.Cache())
}

func TestDevice_FlushPoisonsCache(t *testing.T) {
	d := device.New(device.Config{Ifindex: 1, Name: "eth0"}, testLogger())

	d.Lock()
	c := d.EnsureCache()
	d.Unlock()

	h := shaperman.MakeHandle(shaperman.ScopeQueue, 0)
	tx := c.Begin()
	_, err := tx.PrepareInsert(h)
	require.NoError(t, err)
	tx.Commit(shaperman.Shaper{Handle: h})
	require.Equal(t, 1, c.Len())

	d.Flush()
	assert.Zero(t, c.Len())
	_, err = c.Begin().PrepareInsert(h)
	require.Error(t, err, "a flushed device fails transactions fast")
}

func TestRegistry_AddGetRemove(t *testing.T) {
	reg := device.NewRegistry(testLogger())

	d1 := device.New(device.Config{Ifindex: 1, Name: "eth0"}, testLogger())
	d2 := device.New(device.Config{Ifindex: 5, Name: "eth1"}, testLogger())
	require.NoError(t, reg.Add(d1))
	require.NoError(t, reg.Add(d2))

	err := reg.Add(device.New(device.Config{Ifindex: 1, Name: "dup"}, testLogger()))
	require.Error(t, err, "duplicate ifindex must be rejected")

	got, err := reg.Get(5)
	require.NoError(t, err)
	assert.Same(t, d2, got)

	_, err = reg.Get(9)
	require.Error(t, err)
	assert.Equal(t, shaperman.CodeInvalidRequest, shaperman.CodeOf(err))

	require.NoError(t, reg.Remove(1))
	_, err = reg.Get(1)
	require.Error(t, err)
	require.Error(t, reg.Remove(1), "removing twice reports not found")
}

func TestRegistry_ListSortsByIfindex(t *testing.T) {
	reg := device.NewRegistry(testLogger())
	for _, ifindex := range []int{7, 2, 4} {
		require.NoError(t, reg.Add(device.New(device.Config{Ifindex: ifindex}, testLogger())))
	}

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, 2, list[0].Ifindex())
	assert.Equal(t, 4, list[1].Ifindex())
	assert.Equal(t, 7, list[2].Ifindex())
}

func TestRegistry_RemoveFlushesShaperState(t *testing.T) {
	reg := device.NewRegistry(testLogger())
	d := device.New(device.Config{Ifindex: 1, Name: "eth0"}, testLogger())
	require.NoError(t, reg.Add(d))

	d.Lock()
	c := d.EnsureCache()
	d.Unlock()
	h := shaperman.MakeHandle(shaperman.ScopeNetdev, 0)
	tx := c.Begin()
	_, err := tx.PrepareInsert(h)
	require.NoError(t, err)
	tx.Commit(shaperman.Shaper{Handle: h})

	require.NoError(t, reg.Remove(1))
	assert.Zero(t, c.Len(), "removal tears down the device's shaper state")
}

func TestRegistry_CloseFlushesEverything(t *testing.T) {
	reg := device.NewRegistry(testLogger())
	caches := make([]*cache.Cache, 0, 2)
	for _, ifindex := range []int{1, 2} {
		d := device.New(device.Config{Ifindex: ifindex}, testLogger())
		require.NoError(t, reg.Add(d))
		d.Lock()
		c := d.EnsureCache()
		d.Unlock()
		h := shaperman.MakeHandle(shaperman.ScopeNetdev, 0)
		tx := c.Begin()
		_, err := tx.PrepareInsert(h)
		require.NoError(t, err)
		tx.Commit(shaperman.Shaper{Handle: h})
		caches = append(caches, c)
	}

	reg.Close()
	assert.Empty(t, reg.List())
	for i, c := range caches {
		assert.Zero(t, c.Len(), "cache %d should be flushed", i)
	}
}
