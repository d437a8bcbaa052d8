package tree

import "github.com/fruitsalade/projectsync/pkg/models"

// Walk visits a forest depth-first in display order. Returning false from fn
// skips the node's children.
func Walk(roots []*models.FileNode, fn func(n *models.FileNode, depth int) bool) {
	var visit func(nodes []*models.FileNode, depth int)
	visit = func(nodes []*models.FileNode, depth int) {
		for _, n := range nodes {
			if n != nil && fn(n, depth) {
				visit(n.Children, depth+1)
			}
		}
	}
	visit(roots, 0)
}

// JoinPath builds a child path; an empty parent is the root.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Count returns the number of nodes in a forest.
func Count(roots []*models.FileNode) int {
	n := 0
	Walk(roots, func(*models.FileNode, int) bool { n++; return true })
	return n
}

// Find returns the node at path, descending only into matching prefixes.
func Find(roots []*models.FileNode, path string) *models.FileNode {
	var found *models.FileNode
	Walk(roots, func(n *models.FileNode, _ int) bool {
		switch {
		case found != nil:
			return false
		case n.Path == path:
			found = n
			return false
		default:
			return n.IsDir() && len(path) > len(n.Path) && path[len(n.Path)] == '/' && path[:len(n.Path)] == n.Path
		}
	})
	return found
}
