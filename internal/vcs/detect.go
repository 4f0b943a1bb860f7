package vcs

import (
	"os"
	"path/filepath"
)

// DetectionResult contains information about the detected VCS
type DetectionResult struct {
	// Type is the client that should drive the repository
	Type Type

	// RepoRoot is the repository root directory path
	RepoRoot string

	// Colocated indicates both .git and .jj are present
	Colocated bool
}

// Detect identifies the VCS type for a given directory by walking up until
// a .jj directory or a .git entry is found. jj wins in colocated repos since
// it owns the working copy there.
//
// Returns ErrNotInVCS if no VCS is found.
func Detect(path string) (*DetectionResult, error) {
	current, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	for {
		hasJJ := isDir(filepath.Join(current, ".jj"))
		_, gitErr := os.Stat(filepath.Join(current, ".git"))
		hasGit := gitErr == nil

		if hasJJ || hasGit {
			res := &DetectionResult{
				Type:      TypeGit,
				RepoRoot:  current,
				Colocated: hasJJ && hasGit,
			}
			if hasJJ {
				res.Type = TypeJJ
			}
			return res, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return nil, ErrNotInVCS
		}
		current = parent
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
