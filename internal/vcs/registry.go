package vcs

import (
	"fmt"
	"sync"
)

// Constructor creates a repository client for a given repo root.
// Implementations register themselves with the registry using Register().
type Constructor func(repoRoot string, opts Options) (RepositoryClient, error)

// registry maps VCS types to their constructors
var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a repository client constructor.
// This is called from init() functions in implementation packages (git, jj).
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, newClient)
//	}
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

func getConstructor(t Type) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// Open returns a client for the repository at path. kind is "git", "jj" or
// "auto"; auto prefers jj when a .jj directory is present.
func Open(path, kind string, opts Options) (RepositoryClient, error) {
	var t Type
	root := path

	switch kind {
	case "", "auto":
		res, err := Detect(path)
		if err != nil {
			return nil, err
		}
		t, root = res.Type, res.RepoRoot
	case string(TypeGit), string(TypeJJ):
		t = Type(kind)
	default:
		return nil, fmt.Errorf("unknown VCS type %q", kind)
	}

	constructor := getConstructor(t)
	if constructor == nil {
		return nil, fmt.Errorf("%w: no %s client registered", ErrToolUnavailable, t)
	}
	return constructor(root, opts)
}
