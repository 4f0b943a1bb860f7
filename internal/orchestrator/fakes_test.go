package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/config"
	"github.com/mschirtzinger/dbsync/internal/history"
	"github.com/mschirtzinger/dbsync/internal/vcs"
)

const backupDir = "/repo/backups"

var epoch = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

// fakeRepo records calls; the Func fields override behavior.
type fakeRepo struct {
	PullFunc          func(ctx context.Context) error
	CommitAndPushFunc func(ctx context.Context, message string, paths ...string) error

	mu       sync.Mutex
	calls    []string
	messages []string
	paths    [][]string
}

func (f *fakeRepo) Name() vcs.Type { return vcs.TypeGit }

func (f *fakeRepo) Pull(ctx context.Context) error {
	f.mu.Lock()
	f.calls = append(f.calls, "pull")
	f.mu.Unlock()
	if f.PullFunc != nil {
		return f.PullFunc(ctx)
	}
	return nil
}

func (f *fakeRepo) CommitAndPush(ctx context.Context, message string, paths ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "push")
	f.messages = append(f.messages, message)
	f.paths = append(f.paths, paths)
	f.mu.Unlock()
	if f.CommitAndPushFunc != nil {
		return f.CommitAndPushFunc(ctx, message, paths...)
	}
	return nil
}

func (f *fakeRepo) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSnap dumps data. When gate is set, Dump blocks until it is closed.
type fakeSnap struct {
	mu       sync.Mutex
	data     string
	dumpErr  error
	gate     chan struct{}
	entered  chan struct{}
	restored []string
}

func (f *fakeSnap) Name() string { return "fake" }

func (f *fakeSnap) Dump(_ context.Context, w io.Writer) error {
	f.mu.Lock()
	data, err, gate, entered := f.data, f.dumpErr, f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if _, werr := io.WriteString(w, data); werr != nil {
		return werr
	}
	return err
}

func (f *fakeSnap) Restore(_ context.Context, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.restored = append(f.restored, string(b))
	f.mu.Unlock()
	return nil
}

func (f *fakeSnap) set(data string) {
	f.mu.Lock()
	f.data = data
	f.mu.Unlock()
}

// block makes the next dumps wait. It returns a channel signalled when a
// dump starts and a release function.
func (f *fakeSnap) block() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{}, 16)
	f.mu.Lock()
	f.gate, f.entered = gate, in
	f.mu.Unlock()

	var once sync.Once
	return in, func() {
		once.Do(func() {
			f.mu.Lock()
			f.gate, f.entered = nil, nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeSnap) Restored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restored...)
}

// fakeRecorder stores entries and notes whether the manager was still busy.
type fakeRecorder struct {
	m *Manager

	mu          sync.Mutex
	entries     []history.Entry
	busyOnWrite []bool
}

func (r *fakeRecorder) Record(_ context.Context, e history.Entry) error {
	busy := r.m != nil && r.m.IsSyncing()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	r.busyOnWrite = append(r.busyOnWrite, busy)
	return nil
}

// fakeLocker is an in-memory Locker.
type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	busy     bool // simulates another process holding the lock
	unlocked int
}

func (l *fakeLocker) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.unlocked++
	return nil
}

type testEnv struct {
	m     *Manager
	repo  *fakeRepo
	snap  *fakeSnap
	store *backup.Store
	fs    afero.Fs
	clock *clockwork.FakeClock
}

func testSyncConfig() config.Sync {
	cfg := config.DefaultSync()
	cfg.StepTimeout = 5 * time.Second
	return cfg
}

func newTestEnv(t *testing.T, cfg config.Sync, opts ...Option) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:  &fakeRepo{},
		snap:  &fakeSnap{data: "initial"},
		fs:    afero.NewMemMapFs(),
		clock: clockwork.NewFakeClockAt(epoch),
	}

	store, err := backup.NewStore(backupDir, env.snap, backup.WithFs(env.fs), backup.WithClock(env.clock))
	require.NoError(t, err)
	env.store = store

	opts = append([]Option{WithClock(env.clock)}, opts...)
	m, err := New(Deps{Repo: env.repo, Backups: store, Config: cfg}, opts...)
	require.NoError(t, err)
	env.m = m
	return env
}

// seedBackup writes a backup file with the given content and time.
func (e *testEnv) seedBackup(t *testing.T, at time.Time, content string) backup.Record {
	t.Helper()
	path := backupDir + "/" + backup.FileName(at)
	require.NoError(t, afero.WriteFile(e.fs, path, []byte(content), 0644))
	return backup.Record{Path: path, CreatedAt: at, Size: int64(len(content))}
}

func (e *testEnv) backupNames(t *testing.T) []string {
	t.Helper()
	records, err := e.store.List()
	require.NoError(t, err)
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Name())
	}
	return names
}

func waitOp(t *testing.T, h *Handle) Operation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	op, _ := h.Wait(ctx)
	require.NoError(t, ctx.Err(), "operation did not finish")
	return op
}

// waitOpAdvancing waits for h while moving the fake clock forward, so retry
// backoffs elapse.
func waitOpAdvancing(t *testing.T, clock *clockwork.FakeClock, h *Handle) Operation {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-h.Done():
			return waitOp(t, h)
		case <-deadline:
			t.Fatal("operation did not finish")
		default:
			clock.Advance(time.Minute)
			time.Sleep(time.Millisecond)
		}
	}
}
