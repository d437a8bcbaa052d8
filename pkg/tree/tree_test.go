package tree

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/fruitsalade/projectsync/pkg/models"
)

func makeTree() []*models.FileNode {
	return []*models.FileNode{
		{Name: "package.json", Path: "package.json", Type: models.TypeFile},
		{
			Name: "app", Path: "app", Type: models.TypeFolder,
			Children: []*models.FileNode{
				{Name: "page.tsx", Path: "app/page.tsx", Type: models.TypeFile},
				{Name: "layout.tsx", Path: "app/layout.tsx", Type: models.TypeFile},
			},
		},
	}
}

func assertUniquePaths(t *testing.T, s *Synchronizer) {
	t.Helper()
	seen := make(map[string]bool)
	for _, p := range s.Paths() {
		if seen[p] {
			t.Fatalf("duplicate path %q in tree %v", p, s.Paths())
		}
		seen[p] = true
	}
}

func TestApplyIncrementalCreate_NestedOnEmptyTree(t *testing.T) {
	s := NewSynchronizer(nil)

	changed, err := s.ApplyIncrementalCreate("a/b/c.txt", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatal("expected tree to change")
	}

	want := map[string]models.NodeType{
		"a":         models.TypeFolder,
		"a/b":       models.TypeFolder,
		"a/b/c.txt": models.TypeFile,
	}
	for path, typ := range want {
		n, ok := s.Lookup(path)
		if !ok {
			t.Fatalf("missing %s", path)
		}
		if n.Type != typ {
			t.Errorf("%s: type %s, want %s", path, n.Type, typ)
		}
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 nodes, got %d", s.Len())
	}
	assertUniquePaths(t, s)

	if !s.IsExpanded("a") || !s.IsExpanded("a/b") {
		t.Error("ancestors not expanded")
	}
}

func TestApplyIncrementalCreate_Idempotent(t *testing.T) {
	s := NewSynchronizer(nil)
	s.ApplyIncrementalCreate("src/index.ts", false)
	before := s.Paths()

	changed, err := s.ApplyIncrementalCreate("src/index.ts", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("second insert should be a no-op")
	}
	if after := s.Paths(); len(after) != len(before) {
		t.Errorf("paths changed on no-op: %v -> %v", before, after)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 nodes, got %d", s.Len())
	}
}

func TestApplyIncrementalCreate_Ordering(t *testing.T) {
	s := NewSynchronizer(nil)
	for _, p := range []string{"b.txt", "z/1.txt", "a.txt", "c/2.txt"} {
		if _, err := s.ApplyIncrementalCreate(p, false); err != nil {
			t.Fatal(err)
		}
	}
	roots := s.Roots()
	var names []string
	for _, n := range roots {
		names = append(names, n.Name)
	}
	want := []string{"c", "z", "a.txt", "b.txt"}
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}
}

func TestApplyIncrementalCreate_InvalidPath(t *testing.T) {
	s := NewSynchronizer(nil)
	s.ApplySnapshot(makeTree())
	before := s.Paths()

	for _, p := range []string{"", "/", "//", "./", "a/../b"} {
		if _, err := s.ApplyIncrementalCreate(p, false); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("%q: expected ErrInvalidPath, got %v", p, err)
		}
	}

	after := s.Paths()
	if len(before) != len(after) {
		t.Errorf("tree changed after invalid creates: %v -> %v", before, after)
	}
}

func TestApplyIncrementalCreate_Conflict(t *testing.T) {
	s := NewSynchronizer(nil)
	s.ApplySnapshot(makeTree())

	if _, err := s.ApplyIncrementalCreate("package.json/inner.ts", false); !errors.Is(err, ErrPathConflict) {
		t.Errorf("expected ErrPathConflict, got %v", err)
	}
	if _, err := s.ApplyIncrementalCreate("app", false); !errors.Is(err, ErrPathConflict) {
		t.Errorf("expected ErrPathConflict, got %v", err)
	}
	if changed, err := s.ApplyIncrementalCreate("app", true); err != nil || changed {
		t.Errorf("existing dir create: changed=%v err=%v", changed, err)
	}
	assertUniquePaths(t, s)
}

func TestApplyIncrementalCreate_LeadingSlash(t *testing.T) {
	s := NewSynchronizer(nil)
	s.ApplySnapshot(makeTree())

	changed, err := s.ApplyIncrementalCreate("/app/page.tsx", false)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("leading slash path should match existing node")
	}
}

func TestApplySnapshot_ReplacesAndExpandsApp(t *testing.T) {
	s := NewSynchronizer(nil)
	s.ApplyIncrementalCreate("old/file.txt", false)
	s.Toggle("app")
	if s.IsExpanded("app") {
		t.Fatal("toggle should collapse app")
	}

	s.ApplySnapshot(makeTree())

	if _, ok := s.Lookup("old/file.txt"); ok {
		t.Error("snapshot should replace the tree")
	}
	if !s.IsExpanded("app") {
		t.Error("app folder should be auto-expanded")
	}
	roots := s.Roots()
	if roots[0].Name != "app" {
		t.Errorf("directories should sort first, got %s", roots[0].Name)
	}
	children := roots[0].Children
	if children[0].Name != "layout.tsx" || children[1].Name != "page.tsx" {
		t.Errorf("children not sorted: %s, %s", children[0].Name, children[1].Name)
	}
}

func TestApplySnapshot_Normalizes(t *testing.T) {
	s := NewSynchronizer(nil)
	s.ApplySnapshot([]*models.FileNode{
		{Name: "src", Path: "src", Type: models.TypeFolder, Children: []*models.FileNode{
			{Name: "a.ts", Type: models.TypeFile},
		}},
		{Name: "src", Path: "src", Type: models.TypeFolder, Children: []*models.FileNode{
			{Name: "b.ts", Type: models.TypeFile},
			{Name: "a.ts", Type: models.TypeFile},
		}},
		nil,
		{Name: "", Path: "ghost"},
		{Name: "bad/name", Path: "bad/name"},
	})

	if s.Len() != 3 {
		t.Errorf("expected 3 nodes, got %d: %v", s.Len(), s.Paths())
	}
	n, ok := s.Lookup("src/b.ts")
	if !ok || n.Path != "src/b.ts" {
		t.Errorf("expected derived path src/b.ts, got %+v", n)
	}
	assertUniquePaths(t, s)
}

func TestSnapshotInterleavingHasNoDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	creates := []string{
		"app/page.tsx", "app/layout.tsx", "app/api/route.ts",
		"components/ui/button.tsx", "components/ui/card.tsx", "package.json",
		"lib/utils.ts", "app/api/route.ts",
	}

	for round := 0; round < 50; round++ {
		s := NewSynchronizer(nil)
		perm := rng.Perm(len(creates))
		snapAt := rng.Intn(len(creates) + 1)
		for i, idx := range perm {
			if i == snapAt {
				s.ApplySnapshot(makeTree())
			}
			if _, err := s.ApplyIncrementalCreate(creates[idx], false); err != nil {
				t.Fatalf("round %d: %v", round, err)
			}
		}
		if snapAt == len(creates) {
			s.ApplySnapshot(makeTree())
		}
		assertUniquePaths(t, s)
	}
}

func TestSeed(t *testing.T) {
	s := NewSynchronizer(nil)
	if !s.Seed(makeTree()) {
		t.Fatal("seed should apply to an empty tree")
	}
	if !s.Seeded() {
		t.Error("expected seeded tree")
	}

	s.ApplySnapshot(nil)
	if s.Seeded() {
		t.Error("snapshot should clear seeded flag")
	}
	if s.Seed(makeTree()) {
		t.Error("seed must not override a real snapshot")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty tree, got %d nodes", s.Len())
	}
}

func TestRootsIsCopy(t *testing.T) {
	s := NewSynchronizer(nil)
	s.ApplySnapshot(makeTree())

	roots := s.Roots()
	roots[0].Children = nil
	roots[0].Name = "mutated"

	if _, ok := s.Lookup("app/page.tsx"); !ok {
		t.Error("mutating a copy changed the tree")
	}
}

func TestSplitPath(t *testing.T) {
	segs, err := SplitPath("/a//b/./c.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 || segs[0] != "a" || segs[2] != "c.txt" {
		t.Errorf("unexpected segments %v", segs)
	}
}

func TestWalkHelpers(t *testing.T) {
	roots := makeTree()
	if n := Count(roots); n != 4 {
		t.Errorf("expected 4 nodes, got %d", n)
	}
	if n := Find(roots, "app/layout.tsx"); n == nil || n.Name != "layout.tsx" {
		t.Errorf("Find returned %+v", n)
	}
	if n := Find(roots, "ap"); n != nil {
		t.Errorf("expected no match for a path prefix, got %+v", n)
	}

	var depths []int
	Walk(roots, func(n *models.FileNode, depth int) bool {
		depths = append(depths, depth)
		return n.Name != "app"
	})
	if len(depths) != 2 {
		t.Errorf("expected children of app to be skipped, visited %v", depths)
	}
}
