package resources

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	syncerrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/logger"
)

// Scope is one consumer's slice of the registry. TriggerCleanup releases
// everything the consumer registered; Close is consumer teardown and also
// sweeps the whole registry.
type Scope struct {
	registry *Registry

	mu      sync.Mutex
	handles []string
	seen    map[string]struct{}
}

// NewScope creates a scope backed by r
func (r *Registry) NewScope() *Scope {
	return &Scope{registry: r, seen: make(map[string]struct{})}
}

// Track registers release for handle in the scope and the registry
func (s *Scope) Track(handle string, release ReleaseFunc) bool {
	if !s.registry.Track(handle, release) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[handle]; !ok {
		s.seen[handle] = struct{}{}
		s.handles = append(s.handles, handle)
	}
	return true
}

// CreateAndRegister copies content into a local temp file and tracks it. The
// returned path is the handle; releasing it removes the file.
func (s *Scope) CreateAndRegister(name string, content io.Reader) (string, error) {
	if content == nil {
		return "", syncerrors.ValidationError("content", "must not be nil")
	}

	f, err := os.CreateTemp(s.registry.dir, "sidechain-*-"+sanitizeName(name))
	if err != nil {
		return "", syncerrors.New(syncerrors.ErrorTypeUnknown, "could not create local file", err)
	}
	path := f.Name()

	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = syncerrors.ValidationError("content", "must not be empty")
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}

	s.Track(path, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	logger.Debug("Local resource created", "handle", path, "bytes", n)
	return path, nil
}

// TriggerCleanup releases every handle the scope registered and leaves other
// scopes alone. Calling it again is a no-op until new handles are tracked.
func (s *Scope) TriggerCleanup() int {
	s.mu.Lock()
	handles := s.handles
	s.handles = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	released := 0
	for _, h := range handles {
		if s.registry.Release(h) {
			released++
		}
	}
	return released
}

// Close tears the consumer down: its own handles are released, then every
// handle still tracked by the registry. It returns the total released.
func (s *Scope) Close() int {
	released := s.TriggerCleanup()
	return released + s.registry.sweep(TriggerTeardown)
}

// Len returns the number of handles registered through this scope
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '*':
			return '_'
		}
		return r
	}, name)
	if name == "." || name == "" {
		return "resource"
	}
	return name
}
