package health

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/orchestrator"
	"github.com/splax/instantiate/internal/repository/memory"
	"github.com/splax/instantiate/internal/ws"
)

type fakeAdapter struct {
	mu      sync.Mutex
	status  map[string]domain.StackStatus
	checked []string
}

func (f *fakeAdapter) Up(context.Context, orchestrator.Target) error   { return nil }
func (f *fakeAdapter) Down(context.Context, orchestrator.Target) error { return nil }

func (f *fakeAdapter) CheckHealth(_ context.Context, name string) domain.StackStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, name)
	if s, ok := f.status[name]; ok {
		return s
	}
	return domain.StackError
}

type fakeBackends map[string]*fakeAdapter

func (b fakeBackends) Get(name string) orchestrator.Adapter {
	if a, ok := b[name]; ok {
		return a
	}
	return b["compose"]
}

type recorder struct {
	mu      sync.Mutex
	changes []ws.StatusChange
}

func (r *recorder) PublishStatus(c ws.StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, store *memory.Store, mrID, project, title, orch string, status domain.StackStatus) {
	t.Helper()
	require.NoError(t, store.SaveStack(context.Background(), domain.StackRecord{
		ProjectID: "1", MRID: mrID, ProjectName: project, MRName: title, Status: status, Orchestrator: orch,
	}))
}

func TestCheckWritesOnlyChanges(t *testing.T) {
	store := memory.New()
	seed(t, store, "1", "demo", "one", "compose", domain.StackRunning)
	seed(t, store, "2", "demo", "two", "compose", domain.StackRunning)
	seed(t, store, "3", "demo", "three", "swarm", domain.StackError)

	compose := &fakeAdapter{status: map[string]domain.StackStatus{"demo-one": domain.StackRunning, "demo-two": domain.StackStopped}}
	swarm := &fakeAdapter{status: map[string]domain.StackStatus{"demo-three": domain.StackRunning}}
	rec := &recorder{}
	p := New(store, fakeBackends{"compose": compose, "swarm": swarm}, rec, time.Minute, discard())

	assert.Equal(t, 2, p.Check(context.Background()))

	two, err := store.GetStack(context.Background(), "1", "2")
	require.NoError(t, err)
	assert.Equal(t, domain.StackStopped, two.Status)
	three, err := store.GetStack(context.Background(), "1", "3")
	require.NoError(t, err)
	assert.Equal(t, domain.StackRunning, three.Status)

	assert.ElementsMatch(t, []string{"demo-one", "demo-two"}, compose.checked)
	assert.Equal(t, []string{"demo-three"}, swarm.checked)
	require.Len(t, rec.changes, 2)

	assert.Equal(t, 0, p.Check(context.Background()))
	assert.Len(t, rec.changes, 2)
}

func TestCheckUnknownOrchestratorFallsBack(t *testing.T) {
	store := memory.New()
	seed(t, store, "1", "demo", "one", "", domain.StackError)
	compose := &fakeAdapter{status: map[string]domain.StackStatus{"demo-one": domain.StackRunning}}
	p := New(store, fakeBackends{"compose": compose}, nil, time.Minute, discard())

	assert.Equal(t, 1, p.Check(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	store := memory.New()
	p := New(store, fakeBackends{"compose": &fakeAdapter{}}, nil, 10*time.Millisecond, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
