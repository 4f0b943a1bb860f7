package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDir = "/repo/backups"

// fakeSnap dumps whatever is in data and records what was restored.
type fakeSnap struct {
	data     string
	dumpErr  error
	restored []string
	restErr  error
}

func (f *fakeSnap) Name() string { return "fake" }

func (f *fakeSnap) Dump(_ context.Context, w io.Writer) error {
	if _, err := io.WriteString(w, f.data); err != nil {
		return err
	}
	return f.dumpErr
}

func (f *fakeSnap) Restore(_ context.Context, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.restored = append(f.restored, string(b))
	return f.restErr
}

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestStore(t *testing.T, snap *fakeSnap) (*Store, afero.Fs, *clockwork.FakeClock) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := clockwork.NewFakeClockAt(epoch)
	s, err := NewStore(testDir, snap, WithFs(fs), WithClock(clock))
	require.NoError(t, err)
	return s, fs, clock
}

func dirNames(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, testDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFileName(t *testing.T) {
	local := time.FixedZone("UTC+2", 2*60*60)
	assert.Equal(t, "backup_2025-03-14_09-26-53.sql", FileName(epoch.In(local)))

	got, ok := ParseFileName("backup_2025-03-14_09-26-53.sql")
	require.True(t, ok)
	assert.True(t, got.Equal(epoch))

	for _, bad := range []string{"backup_2025-03-14.sql", "backup_2025-03-14_09-26-53.sql.tmp", "notes.txt", "backup_2025-13-40_99-99-99.sql"} {
		_, ok := ParseFileName(bad)
		assert.False(t, ok, bad)
	}
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore("", &fakeSnap{})
	assert.Error(t, err)

	_, err = NewStore(testDir, nil)
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	snap := &fakeSnap{data: "CREATE TABLE t(x);\n"}
	s, fs, _ := newTestStore(t, snap)

	rec, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(testDir, "backup_2025-03-14_09-26-53.sql"), rec.Path)
	assert.True(t, rec.CreatedAt.Equal(epoch))
	assert.Equal(t, int64(len(snap.data)), rec.Size)

	data, err := afero.ReadFile(fs, rec.Path)
	require.NoError(t, err)
	assert.Equal(t, snap.data, string(data))
	assert.Equal(t, []string{"backup_2025-03-14_09-26-53.sql"}, dirNames(t, fs))
}

func TestCreate_NothingToBackUp(t *testing.T) {
	snap := &fakeSnap{data: "same"}
	s, fs, clock := newTestStore(t, snap)

	_, err := s.Create(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = s.Create(context.Background())
	assert.True(t, errors.Is(err, ErrNothingToBackUp), "got %v", err)
	assert.Len(t, dirNames(t, fs), 1, "no temp file may be left behind")

	snap.data = "changed"
	rec, err := s.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "backup_2025-03-14_10-26-53.sql", rec.Name())
}

func TestCreate_SameSecondBumpsName(t *testing.T) {
	snap := &fakeSnap{data: "one"}
	s, _, _ := newTestStore(t, snap)

	first, err := s.Create(context.Background())
	require.NoError(t, err)

	snap.data = "two"
	second, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "backup_2025-03-14_09-26-53.sql", first.Name())
	assert.Equal(t, "backup_2025-03-14_09-26-54.sql", second.Name())

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, second.Path, latest.Path)
}

func TestCreate_DumpFailureRemovesPartialFile(t *testing.T) {
	snap := &fakeSnap{data: "half a dump", dumpErr: errors.New("exit status 1")}
	s, fs, _ := newTestStore(t, snap)

	_, err := s.Create(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDumpFailed), "got %v", err)
	assert.Empty(t, dirNames(t, fs))
}

func TestCreate_RemovesStaleTempFiles(t *testing.T) {
	s, fs, _ := newTestStore(t, &fakeSnap{data: "complete"})
	stale := filepath.Join(testDir, ".backup-4242.sql.tmp")
	require.NoError(t, afero.WriteFile(fs, stale, []byte("interrupted du"), 0644))

	rec, err := s.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{rec.Name()}, dirNames(t, fs))
}

func TestRemoveTemp(t *testing.T) {
	s, fs, _ := newTestStore(t, &fakeSnap{})
	for _, name := range []string{".backup-1.sql.tmp", ".backup-2.sql.tmp", "backup_2025-01-02_00-00-00.sql", "notes.tmp"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, name), []byte("x"), 0644))
	}

	n, err := s.RemoveTemp()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"backup_2025-01-02_00-00-00.sql", "notes.tmp"}, dirNames(t, fs))
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	s, fs, _ := newTestStore(t, &fakeSnap{})

	for _, name := range []string{
		"backup_2025-01-02_00-00-00.sql",
		"backup_2025-03-01_12-00-00.sql",
		"backup_2024-12-31_23-59-59.sql",
		"README.md",
		".backup-123.sql.tmp",
	} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, name), []byte(name), 0644))
	}
	require.NoError(t, fs.MkdirAll(filepath.Join(testDir, "backup_2025-09-09_00-00-00.sql"), 0755))

	records, err := s.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "backup_2025-03-01_12-00-00.sql", records[0].Name())
	assert.Equal(t, "backup_2025-01-02_00-00-00.sql", records[1].Name())
	assert.Equal(t, "backup_2024-12-31_23-59-59.sql", records[2].Name())
}

func TestLatest_Empty(t *testing.T) {
	s, _, _ := newTestStore(t, &fakeSnap{})

	latest, err := s.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRestore(t *testing.T) {
	snap := &fakeSnap{data: "v1"}
	s, _, _ := newTestStore(t, snap)

	rec, err := s.Create(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Restore(context.Background(), rec))
	assert.Equal(t, []string{"v1"}, snap.restored)

	snap.restErr = errors.New("syntax error")
	err = s.Restore(context.Background(), rec)
	assert.True(t, errors.Is(err, ErrRestoreFailed), "got %v", err)

	err = s.Restore(context.Background(), Record{Path: filepath.Join(testDir, "backup_2000-01-01_00-00-00.sql")})
	assert.True(t, errors.Is(err, ErrRestoreFailed), "got %v", err)
}

func TestFind(t *testing.T) {
	s, _, _ := newTestStore(t, &fakeSnap{data: "x"})
	rec, err := s.Create(context.Background())
	require.NoError(t, err)

	found, err := s.Find(rec.Name())
	require.NoError(t, err)
	assert.Equal(t, rec.Path, found.Path)

	_, err = s.Find("backup_1999-01-01_00-00-00.sql")
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	snap := &fakeSnap{}
	s, fs, clock := newTestStore(t, snap)

	// One backup per day for five days.
	for i := 0; i < 5; i++ {
		snap.data = string(rune('a' + i))
		_, err := s.Create(context.Background())
		require.NoError(t, err)
		clock.Advance(24 * time.Hour)
	}

	deleted, err := s.Prune(0)
	require.NoError(t, err)
	assert.Empty(t, deleted, "zero retention disables pruning")

	deleted, err = s.Prune(48 * time.Hour)
	require.NoError(t, err)
	assert.Len(t, deleted, 3)

	assert.Equal(t, []string{
		"backup_2025-03-17_09-26-53.sql",
		"backup_2025-03-18_09-26-53.sql",
	}, dirNames(t, fs))
}

func TestPrune_KeepsNewestWhateverItsAge(t *testing.T) {
	snap := &fakeSnap{}
	s, fs, clock := newTestStore(t, snap)

	for _, d := range []string{"old", "older"} {
		snap.data = d
		_, err := s.Create(context.Background())
		require.NoError(t, err)
		clock.Advance(time.Hour)
	}
	clock.Advance(365 * 24 * time.Hour)

	deleted, err := s.Prune(24 * time.Hour)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "backup_2025-03-14_09-26-53.sql", deleted[0].Name())
	assert.Equal(t, []string{"backup_2025-03-14_10-26-53.sql"}, dirNames(t, fs))
}

func TestTrackingWriter(t *testing.T) {
	var buf bytes.Buffer
	tw := &trackingWriter{w: &buf}
	_, _ = tw.Write([]byte("abc"))
	_, _ = tw.Write([]byte("de"))
	assert.Equal(t, int64(5), tw.n)
	assert.NoError(t, tw.err)
}
