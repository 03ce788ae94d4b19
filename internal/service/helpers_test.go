package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"obs-showctl/internal/data"
	"obs-showctl/internal/model"
	"obs-showctl/pkg/obsws/obswstest"
)

var errBoom = errors.New("boom")

func newTestStore(t *testing.T) *data.SQLiteRepo {
	t.Helper()
	repo, err := data.NewSQLiteRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newFakeOBS(t *testing.T, opts ...obswstest.Option) *obswstest.Server {
	t.Helper()
	srv := obswstest.NewServer(opts...)
	t.Cleanup(srv.Close)
	return srv
}

// deadURL returns an endpoint nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	srv := obswstest.NewServer()
	url := srv.URL()
	srv.Close()
	return url
}

// brokenStore fails the operations it is told to fail and delegates the
// rest to an embedded store.
type brokenStore struct {
	data.ConfigStore
	listErr      error
	getErr       map[string]error
	instancesErr error
}

func (b *brokenStore) ListShowNames(ctx context.Context) ([]string, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.ConfigStore.ListShowNames(ctx)
}

func (b *brokenStore) GetShow(ctx context.Context, name string) (*model.Show, error) {
	if err := b.getErr[name]; err != nil {
		return nil, err
	}
	return b.ConfigStore.GetShow(ctx, name)
}

func (b *brokenStore) ListInstances(ctx context.Context) ([]model.Instance, error) {
	if b.instancesErr != nil {
		return nil, b.instancesErr
	}
	return b.ConfigStore.ListInstances(ctx)
}

type recordedEvent struct {
	Event string
	Data  any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) SendEvent(event string, data any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Event: event, Data: data})
	return nil
}

func (n *recordingNotifier) runStates() []model.RunState {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.RunState
	for _, e := range n.events {
		if ev, ok := e.Data.(RunStateEvent); ok {
			out = append(out, ev.State)
		}
	}
	return out
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Event == event {
			c++
		}
	}
	return c
}
