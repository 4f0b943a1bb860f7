package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// trackingWriter remembers the first write error so it can be told apart
// from the tool's own exit status.
type trackingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.n += int64(n)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}

// tempPattern names in-progress dumps inside the backup directory.
const tempPattern = ".backup-*.sql.tmp"

// RemoveTemp deletes dump files left behind by an interrupted Create and
// returns how many it removed. It must not run concurrently with Create.
func (s *Store) RemoveTemp() (int, error) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.dir, tempPattern))
	if err != nil {
		return 0, err
	}

	var errs []error
	removed := 0
	for _, path := range matches {
		if err := s.fs.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed stale temp files", "dir", s.dir, "count", removed)
	}
	return removed, errors.Join(errs...)
}

// Create dumps the database into a new backup file.
//
// It returns ErrNothingToBackUp when the dump equals the newest backup,
// ErrDiskFull when the directory ran out of space and ErrDumpFailed for any
// other failure. No partial file is left behind in any of these cases.
func (s *Store) Create(ctx context.Context) (Record, error) {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return Record{}, fmt.Errorf("failed to create backup dir: %w", err)
	}

	if _, err := s.RemoveTemp(); err != nil {
		s.logger.Warn("failed to remove stale temp files", "dir", s.dir, "error", err)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, tempPattern)
	if err != nil {
		return Record{}, s.writeError(err)
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			_ = s.fs.Remove(tmpName)
		}
	}()

	sum := sha256.New()
	tw := &trackingWriter{w: io.MultiWriter(tmp, sum)}

	start := s.clock.Now()
	dumpErr := s.snap.Dump(ctx, tw)
	closeErr := tmp.Close()

	switch {
	case tw.err != nil:
		return Record{}, s.writeError(tw.err)
	case dumpErr != nil:
		if isDiskFull(dumpErr) {
			return Record{}, fmt.Errorf("%w: %w", ErrDiskFull, dumpErr)
		}
		return Record{}, fmt.Errorf("%w: %w", ErrDumpFailed, dumpErr)
	case closeErr != nil:
		return Record{}, s.writeError(closeErr)
	}

	latest, err := s.Latest()
	if err != nil {
		return Record{}, err
	}
	if latest != nil {
		same, err := s.hasDigest(latest.Path, sum.Sum(nil))
		if err != nil {
			return Record{}, err
		}
		if same {
			s.logger.Info("database unchanged since last backup", "latest", latest.Name())
			return Record{}, fmt.Errorf("%w: database unchanged since %s", ErrNothingToBackUp, latest.Name())
		}
	}

	created := s.clock.Now().UTC().Truncate(time.Second)
	if latest != nil && !created.After(latest.CreatedAt) {
		created = latest.CreatedAt.Add(time.Second)
	}
	final := filepath.Join(s.dir, FileName(created))
	for {
		if _, err := s.fs.Stat(final); err != nil {
			break
		}
		created = created.Add(time.Second)
		final = filepath.Join(s.dir, FileName(created))
	}

	if err := s.fs.Rename(tmpName, final); err != nil {
		return Record{}, s.writeError(err)
	}
	keep = true

	rec := Record{Path: final, CreatedAt: created, Size: tw.n}
	s.logger.Info("backup created", "file", rec.Name(), "bytes", rec.Size, "duration", s.clock.Since(start))
	return rec, nil
}

func (s *Store) writeError(err error) error {
	if isDiskFull(err) {
		return fmt.Errorf("%w: %w", ErrDiskFull, err)
	}
	return fmt.Errorf("%w: writing backup: %w", ErrDumpFailed, err)
}

// hasDigest reports whether the file at path hashes to want.
func (s *Store) hasDigest(path string, want []byte) (bool, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return bytes.Equal(h.Sum(nil), want), nil
}

// Restore feeds the given backup to the restore tool. This replaces the
// live database contents.
func (s *Store) Restore(ctx context.Context, rec Record) error {
	f, err := s.fs.Open(rec.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRestoreFailed, err)
	}
	defer f.Close()

	start := s.clock.Now()
	if err := s.snap.Restore(ctx, f); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRestoreFailed, rec.Name(), err)
	}

	s.logger.Info("backup restored", "file", rec.Name(), "duration", s.clock.Since(start))
	return nil
}

// Prune deletes backups older than retention and returns what it deleted.
// The newest backup is always kept, whatever its age. A retention of zero
// or less disables pruning.
func (s *Store) Prune(retention time.Duration) ([]Record, error) {
	if retention <= 0 {
		return nil, nil
	}

	records, err := s.List()
	if err != nil {
		return nil, err
	}

	cutoff := s.clock.Now().Add(-retention)
	var deleted []Record
	var errs []error
	for i, rec := range records {
		if i == 0 || !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.fs.Remove(rec.Path); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", rec.Name(), err))
			continue
		}
		deleted = append(deleted, rec)
	}

	if len(deleted) > 0 {
		s.logger.Info("pruned old backups", "deleted", len(deleted), "retention", retention)
	}
	return deleted, errors.Join(errs...)
}
