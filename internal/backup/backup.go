// Package backup manages the directory of timestamped SQL snapshots that
// lives inside the synchronized repository.
//
// Files are named backup_YYYY-MM-DD_HH-MM-SS.sql (UTC) so that lexical order
// is chronological order. A file is written under a temporary name and only
// renamed into place once the dump succeeded; after that it is never
// modified. Only Prune deletes backups, and it never deletes the newest one.
package backup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/mschirtzinger/dbsync/internal/dbsnap"
	"github.com/mschirtzinger/dbsync/internal/logging"
)

// TimeLayout is the timestamp embedded in backup file names.
const TimeLayout = "2006-01-02_15-04-05"

var namePattern = regexp.MustCompile(`^backup_(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})\.sql$`)

var (
	// ErrDumpFailed is returned when the dump tool reported failure or its
	// output could not be written.
	ErrDumpFailed = errors.New("database dump failed")

	// ErrRestoreFailed is returned when the restore tool reported failure.
	ErrRestoreFailed = errors.New("database restore failed")

	// ErrDiskFull is returned when the backup directory ran out of space.
	// The partial file has been removed.
	ErrDiskFull = errors.New("disk full")

	// ErrNothingToBackUp is returned when the dump is identical to the
	// newest existing backup. It is a skip, not a failure.
	ErrNothingToBackUp = errors.New("nothing to back up")
)

// Record describes one backup file.
type Record struct {
	Path      string    `json:"path" yaml:"path"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Size      int64     `json:"size" yaml:"size"`
}

// Name returns the file name without directory.
func (r Record) Name() string {
	return filepath.Base(r.Path)
}

// FileName returns the backup file name for t.
func FileName(t time.Time) string {
	return "backup_" + t.UTC().Format(TimeLayout) + ".sql"
}

// ParseFileName extracts the creation time from a backup file name.
func ParseFileName(name string) (time.Time, bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimeLayout, m[1], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Store creates, lists, restores and prunes backups in one directory.
//
// Store itself does not serialize writers; callers run Create and Prune
// from at most one goroutine at a time.
type Store struct {
	fs     afero.Fs
	dir    string
	snap   dbsnap.Snapshotter
	clock  clockwork.Clock
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFs replaces the OS filesystem, e.g. with afero.NewMemMapFs in tests.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) { s.fs = fs }
}

// WithClock sets the clock used for file names and retention.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore returns a Store for dir, creating the directory if needed.
func NewStore(dir string, snap dbsnap.Snapshotter, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup dir cannot be empty")
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshotter cannot be nil")
	}

	s := &Store{
		fs:    afero.NewOsFs(),
		dir:   dir,
		snap:  snap,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)

	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup dir: %w", err)
	}
	return s, nil
}

// Dir returns the backup directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns all backups, newest first. Files not matching the naming
// scheme are ignored.
func (s *Store) List() ([]Record, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		created, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		records = append(records, Record{
			Path:      filepath.Join(s.dir, e.Name()),
			CreatedAt: created,
			Size:      e.Size(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Latest returns the newest backup, or nil when there is none.
func (s *Store) Latest() (*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// Find returns the backup with the given file name.
func (s *Store) Find(name string) (*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Name() == filepath.Base(name) {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("backup %s not found in %s", name, s.dir)
}
