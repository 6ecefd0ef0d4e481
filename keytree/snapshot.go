package keytree

import "strings"

// Node is an immutable copy of one folder for display hand-off. Folders are
// sorted case-insensitively, matching ChildrenOf; Leaves hold full key names.
type Node struct {
	// Path is the delimiter-joined folder path, "" for the root.
	Path string
	// Name is the last path segment, "" for the root.
	Name     string
	Total    int
	Expanded bool
	Folders  []*Node
	Leaves   []string
}

// Snapshot copies the subtree at path into an immutable Node graph. It is
// safe to call from any goroutine; mutations continue against the live tree
// while consumers walk the copy. A nil Node means the path is unknown.
func (t *Tree) Snapshot(path string) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.lookup(path)
	if n == nil {
		return nil
	}
	name := ""
	if path != "" {
		segs := strings.Split(path, t.delimiter)
		name = segs[len(segs)-1]
	}
	return t.copyNode(n, path, name)
}

func (t *Tree) copyNode(n *node, path, name string) *Node {
	out := &Node{
		Path:     path,
		Name:     name,
		Total:    n.total,
		Expanded: t.expanded[path],
	}
	if len(n.folders) > 0 {
		segs := make([]string, 0, len(n.folders))
		for seg := range n.folders {
			segs = append(segs, seg)
		}
		sortFold(segs)
		out.Folders = make([]*Node, 0, len(segs))
		for _, seg := range segs {
			childPath := seg
			if path != "" {
				childPath = path + t.delimiter + seg
			}
			out.Folders = append(out.Folders, t.copyNode(n.folders[seg], childPath, seg))
		}
	}
	if len(n.leaves) > 0 {
		out.Leaves = make([]string, 0, len(n.leaves))
		for key := range n.leaves {
			out.Leaves = append(out.Leaves, key)
		}
		sortFold(out.Leaves)
	}
	return out
}
