// Package models contains the data types shared by the sync engine packages.
package models

// NodeType distinguishes files from directories. The wire values match the
// backend's "file" and "folder" strings.
type NodeType string

const (
	TypeFile   NodeType = "file"
	TypeFolder NodeType = "folder"
)

// FileNode represents a file or directory in the remote project tree.
type FileNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     NodeType    `json:"type"`
	Children []*FileNode `json:"children,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *FileNode) IsDir() bool {
	return n.Type == TypeFolder
}

// Clone returns a deep copy of the node and its children.
func (n *FileNode) Clone() *FileNode {
	if n == nil {
		return nil
	}
	out := &FileNode{Name: n.Name, Path: n.Path, Type: n.Type}
	if n.Children != nil {
		out.Children = make([]*FileNode, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}

// CloneAll deep-copies a forest of nodes.
func CloneAll(nodes []*FileNode) []*FileNode {
	out := make([]*FileNode, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n.Clone())
		}
	}
	return out
}
