package ports

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/instantiate/internal/repository/memory"
)

type fakeProber struct {
	mu       sync.Mutex
	occupied map[int]bool
}

func (f *fakeProber) Free(port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.occupied[port]
}

func (f *fakeProber) occupy(port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.occupied == nil {
		f.occupied = map[int]bool{}
	}
	f.occupied[port] = true
}

type fakeRuntime struct {
	ports map[int]struct{}
	err   error
}

func (f fakeRuntime) PublishedPorts(context.Context) (map[int]struct{}, error) {
	return f.ports, f.err
}

func newAllocator(t *testing.T, cfg Config, runtime RuntimePorts, prober Prober) (*Allocator, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, runtime, prober, cfg, log), store
}

func TestAllocateUniqueWithinRange(t *testing.T) {
	alloc, _ := newAllocator(t, Config{Min: 20000, Max: 20010}, nil, &fakeProber{})
	ctx := context.Background()

	seen := map[int]bool{}
	keys := [][4]string{
		{"p1", "m1", "web", "WEB_PORT_1"},
		{"p1", "m1", "web", "WEB_PORT_2"},
		{"p1", "m2", "web", "WEB_PORT"},
		{"p2", "m1", "db", "DB_PORT"},
	}
	for _, k := range keys {
		port, err := alloc.Allocate(ctx, k[0], k[1], k[2], k[3])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, port, 20000)
		assert.LessOrEqual(t, port, 20010)
		assert.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}
}

func TestAllocateConcurrentUnique(t *testing.T) {
	alloc, _ := newAllocator(t, Config{Min: 21000, Max: 21100}, nil, &fakeProber{})
	ctx := context.Background()

	const n = 40
	results := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, err := alloc.Allocate(ctx, "p", "m", "svc", string(rune('A'+i)))
			assert.NoError(t, err)
			results[i] = port
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, port := range results {
		assert.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}
}

func TestAllocateIdempotent(t *testing.T) {
	alloc, store := newAllocator(t, Config{Min: 22000, Max: 22010}, nil, &fakeProber{})
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, "p", "m", "web", "WEB_PORT")
	require.NoError(t, err)
	second, err := alloc.Allocate(ctx, "p", "m", "web", "WEB_PORT")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	leases, err := store.LeasesFor(ctx, "p", "m")
	require.NoError(t, err)
	assert.Len(t, leases, 1)
}

func TestAllocateReallocatesOccupiedLease(t *testing.T) {
	prober := &fakeProber{}
	alloc, store := newAllocator(t, Config{Min: 23000, Max: 23010}, nil, prober)
	ctx := context.Background()

	first, err := alloc.Allocate(ctx, "p", "m", "web", "WEB_PORT")
	require.NoError(t, err)
	assert.Equal(t, 23000, first)

	prober.occupy(first)
	second, err := alloc.Allocate(ctx, "p", "m", "web", "WEB_PORT")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 23001, second)

	leases, err := store.LeasesFor(ctx, "p", "m")
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, second, leases[0].ExternalPort)
}

func TestAllocateSkipsRuntimeAndExcludedPorts(t *testing.T) {
	runtime := fakeRuntime{ports: map[int]struct{}{24000: {}}}
	cfg := Config{Min: 24000, Max: 24010, Exclude: map[int]struct{}{24001: {}}}
	alloc, _ := newAllocator(t, cfg, runtime, &fakeProber{})

	port, err := alloc.Allocate(context.Background(), "p", "m", "web", "WEB_PORT")
	require.NoError(t, err)
	assert.Equal(t, 24002, port)
}

func TestAllocateIgnoresRuntimeErrors(t *testing.T) {
	alloc, _ := newAllocator(t, Config{Min: 25000, Max: 25000}, fakeRuntime{err: errors.New("daemon down")}, &fakeProber{})
	port, err := alloc.Allocate(context.Background(), "p", "m", "web", "WEB_PORT")
	require.NoError(t, err)
	assert.Equal(t, 25000, port)
}

func TestAllocateExhaustion(t *testing.T) {
	prober := &fakeProber{}
	prober.occupy(26000)
	alloc, _ := newAllocator(t, Config{Min: 26000, Max: 26000}, nil, prober)

	_, err := alloc.Allocate(context.Background(), "p", "m", "web", "WEB_PORT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAvailablePort)
}

func TestReleaseAndPortsFor(t *testing.T) {
	alloc, _ := newAllocator(t, Config{Min: 27000, Max: 27010}, nil, &fakeProber{})
	ctx := context.Background()

	require.NoError(t, alloc.Release(ctx, "p", "none"))

	a, err := alloc.Allocate(ctx, "p", "m", "web", "WEB_PORT_1")
	require.NoError(t, err)
	b, err := alloc.Allocate(ctx, "p", "m", "web", "WEB_PORT_2")
	require.NoError(t, err)

	ports, err := alloc.PortsFor(ctx, "p", "m")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"WEB_PORT_1": a, "WEB_PORT_2": b}, ports)

	require.NoError(t, alloc.Release(ctx, "p", "m"))
	require.NoError(t, alloc.Release(ctx, "p", "m"))
	ports, err = alloc.PortsFor(ctx, "p", "m")
	require.NoError(t, err)
	assert.Empty(t, ports)
}

func TestHostProberDetectsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	assert.False(t, HostProber{}.Free(port))
}

func TestParseExclusions(t *testing.T) {
	set, err := ParseExclusions([]string{"10022", " 10100-10102 ", ""})
	require.NoError(t, err)
	assert.Equal(t, map[int]struct{}{10022: {}, 10100: {}, 10101: {}, 10102: {}}, set)

	_, err = ParseExclusions([]string{"abc"})
	assert.Error(t, err)
}
