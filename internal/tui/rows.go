package tui

import (
	"strings"

	"github.com/fruitsalade/projectsync/pkg/models"
)

// row is one visible line of the tree panel.
type row struct {
	Path     string
	Name     string
	Depth    int
	IsDir    bool
	Expanded bool
}

// visibleRows flattens the tree, descending only into expanded folders.
func visibleRows(nodes []*models.FileNode, expanded func(string) bool) []row {
	var rows []row
	var walk func([]*models.FileNode, int)
	walk = func(level []*models.FileNode, depth int) {
		for _, n := range level {
			r := row{Path: n.Path, Name: n.Name, Depth: depth, IsDir: n.IsDir()}
			if r.IsDir {
				r.Expanded = expanded(n.Path)
			}
			rows = append(rows, r)
			if r.Expanded {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(nodes, 0)
	return rows
}

func (r row) label() string {
	marker := "  "
	if r.IsDir {
		marker = "▸ "
		if r.Expanded {
			marker = "▾ "
		}
	}
	return strings.Repeat("  ", r.Depth) + marker + r.Name
}

// tail returns the last n lines of s.
func tail(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

// clip truncates s to width runes.
func clip(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}
