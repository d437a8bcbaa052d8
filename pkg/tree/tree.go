// Package tree maintains the client's canonical copy of the remote project tree.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fruitsalade/projectsync/pkg/models"
	"go.uber.org/zap"
)

var (
	// ErrInvalidPath is returned for paths with no usable segments.
	ErrInvalidPath = errors.New("invalid path")
	// ErrPathConflict is returned when a path crosses an existing node of the
	// other type (e.g. a directory under a file).
	ErrPathConflict = errors.New("path conflicts with existing node")
)

// AppFolder is expanded whenever a snapshot contains it.
const AppFolder = "app"

// DefaultExpanded are the folders expanded before any snapshot arrives.
var DefaultExpanded = []string{"app", "components"}

// Synchronizer owns the file tree. Mutations come only from ApplySnapshot and
// ApplyIncrementalCreate; everything else hands out copies.
type Synchronizer struct {
	log *zap.Logger

	mu       sync.RWMutex
	roots    []*models.FileNode
	expanded map[string]struct{}
	version  uint64
	seeded   bool
}

// NewSynchronizer creates an empty tree.
func NewSynchronizer(log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Synchronizer{
		log:      log,
		expanded: make(map[string]struct{}),
	}
	for _, p := range DefaultExpanded {
		s.expanded[p] = struct{}{}
	}
	return s
}

// ApplySnapshot replaces the whole tree. Nodes are normalized: unnamed nodes
// are dropped, duplicate names within a directory are merged and children are
// sorted directories-first.
func (s *Synchronizer) ApplySnapshot(nodes []*models.FileNode) {
	roots := normalize(nodes, "", s.log)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots = roots
	s.seeded = false
	s.version++
	for _, n := range roots {
		if n.Name == AppFolder && n.IsDir() {
			s.expanded[n.Path] = struct{}{}
		}
	}
}

// Seed installs a tree recovered from local storage. It is replaced by the
// first real snapshot and never overrides one.
func (s *Synchronizer) Seed(nodes []*models.FileNode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version > 0 {
		return false
	}
	s.roots = normalize(nodes, "", s.log)
	s.seeded = true
	return true
}

// Seeded reports whether the current tree came from Seed rather than the backend.
func (s *Synchronizer) Seeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeded
}

// ApplyIncrementalCreate inserts path, creating missing intermediate
// directories. Inserting an existing path is a no-op. It reports whether the
// tree changed. All ancestors of path are expanded either way.
func (s *Synchronizer) ApplyIncrementalCreate(path string, isDir bool) (bool, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := insert(&s.roots, segments, isDir)
	if err != nil {
		return false, fmt.Errorf("create %q: %w", path, err)
	}
	for i := 1; i < len(segments); i++ {
		s.expanded[strings.Join(segments[:i], "/")] = struct{}{}
	}
	if changed {
		s.version++
	}
	return changed, nil
}

func insert(level *[]*models.FileNode, segments []string, isDir bool) (bool, error) {
	changed := false
	for i, name := range segments {
		last := i == len(segments)-1
		wantType := models.TypeFolder
		if last && !isDir {
			wantType = models.TypeFile
		}

		node := findChild(*level, name)
		if node == nil {
			node = &models.FileNode{
				Name: name,
				Path: strings.Join(segments[:i+1], "/"),
				Type: wantType,
			}
			*level = append(*level, node)
			sortNodes(*level)
			changed = true
		} else if node.Type != wantType {
			return false, ErrPathConflict
		}
		if last {
			return changed, nil
		}
		level = &node.Children
	}
	return changed, nil
}

func findChild(nodes []*models.FileNode, name string) *models.FileNode {
	for _, n := range nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// SplitPath splits a slash-delimited path into segments, ignoring empty and
// "." segments. Paths containing ".." or no segments are invalid.
func SplitPath(path string) ([]string, error) {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return segments, nil
}

// normalize rebuilds a snapshot so that paths are derived from names and the
// ordering and uniqueness rules hold.
func normalize(nodes []*models.FileNode, parent string, log *zap.Logger) []*models.FileNode {
	out := make([]*models.FileNode, 0, len(nodes))
	for _, n := range nodes {
		if n == nil || n.Name == "" || strings.Contains(n.Name, "/") {
			log.Warn("dropping malformed snapshot node", zap.String("parent", parent))
			continue
		}
		typ := n.Type
		if typ != models.TypeFolder {
			typ = models.TypeFile
		}
		path := JoinPath(parent, n.Name)
		if n.Path != "" && strings.Trim(n.Path, "/") != path {
			log.Debug("snapshot path disagrees with name",
				zap.String("path", n.Path), zap.String("derived", path))
		}

		if existing := findChild(out, n.Name); existing != nil {
			if existing.Type != typ {
				log.Warn("dropping conflicting snapshot node", zap.String("path", path))
				continue
			}
			if typ == models.TypeFolder {
				existing.Children = normalize(append(existing.Children, n.Children...), path, log)
			}
			continue
		}

		node := &models.FileNode{Name: n.Name, Path: path, Type: typ}
		if typ == models.TypeFolder {
			node.Children = normalize(n.Children, path, log)
		}
		out = append(out, node)
	}
	sortNodes(out)
	return out
}

func sortNodes(nodes []*models.FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return a.Name < b.Name
	})
}

// Roots returns a deep copy of the current tree.
func (s *Synchronizer) Roots() []*models.FileNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneAll(s.roots)
}

// Lookup returns a copy of the node at path.
func (s *Synchronizer) Lookup(path string) (*models.FileNode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n := Find(s.roots, strings.Trim(path, "/")); n != nil {
		return n.Clone(), true
	}
	return nil, false
}

// Len returns the number of nodes in the tree.
func (s *Synchronizer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Count(s.roots)
}

// Paths returns every path in the tree in depth-first display order.
func (s *Synchronizer) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	Walk(s.roots, func(n *models.FileNode, _ int) bool {
		paths = append(paths, n.Path)
		return true
	})
	return paths
}

// IsExpanded reports whether the folder at path is expanded.
func (s *Synchronizer) IsExpanded(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.expanded[path]
	return ok
}

// Toggle flips the expanded state of a folder and returns the new state.
func (s *Synchronizer) Toggle(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.expanded[path]; ok {
		delete(s.expanded, path)
		return false
	}
	s.expanded[path] = struct{}{}
	return true
}
