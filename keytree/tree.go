// Package keytree maintains the hierarchical grouping of remote key names,
// split on a configurable delimiter, that backs the keyspace browser. Nodes
// carry memoized subtree counts kept consistent incrementally as scan pages
// merge in and as keys are added, removed, or renamed.
//
// Mutations are expected from a single goroutine (the request coordinator);
// reads from other goroutines go through Snapshot or the accessor methods,
// which take a coarse read lock since mutations are structural.
package keytree

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/SharedCode/kvbrowse"
)

// node is one folder level. A node can simultaneously own child folders and
// direct leaf keys; a key whose full name matches a folder path shows up as a
// leaf on the folder's parent while the folder itself stays browsable.
type node struct {
	folders map[string]*node
	// leaves holds full key names whose parent path is this node.
	leaves map[string]struct{}
	// total is the memoized count of leaf keys in this subtree.
	total int
}

func newNode() *node {
	return &node{}
}

func (n *node) empty() bool {
	return len(n.folders) == 0 && len(n.leaves) == 0
}

// Tree is the incremental key-tree cache.
type Tree struct {
	mu        sync.RWMutex
	delimiter string
	root      *node
	// keys is the lookup index of every observed key, the idempotence guard.
	keys map[string]struct{}
	// expanded tracks UI expansion by folder path; it survives Reset so a
	// reload lands the user back where they were.
	expanded map[string]bool
	// knownTotal is the server-side keyspace size, for partial-load display.
	knownTotal int64
}

// New creates an empty tree that groups keys on the given delimiter.
func New(delimiter string) *Tree {
	if delimiter == "" {
		delimiter = ":"
	}
	return &Tree{
		delimiter: delimiter,
		root:      newNode(),
		keys:      make(map[string]struct{}),
		expanded:  make(map[string]bool),
	}
}

// Delimiter returns the configured grouping delimiter.
func (t *Tree) Delimiter() string {
	return t.delimiter
}

// Observe merges one key name into the tree, creating any missing folder
// chain and bumping counts along it. It reports whether the key was new;
// observing a key twice is a no-op.
func (t *Tree) Observe(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observe(key)
}

func (t *Tree) observe(key string) bool {
	if key == "" {
		return false
	}
	if _, seen := t.keys[key]; seen {
		return false
	}
	t.keys[key] = struct{}{}

	parts := strings.Split(key, t.delimiter)
	n := t.root
	n.total++
	for _, seg := range parts[:len(parts)-1] {
		if n.folders == nil {
			n.folders = make(map[string]*node)
		}
		child, ok := n.folders[seg]
		if !ok {
			child = newNode()
			n.folders[seg] = child
		}
		child.total++
		n = child
	}
	if n.leaves == nil {
		n.leaves = make(map[string]struct{})
	}
	n.leaves[key] = struct{}{}
	return true
}

// Remove reverses Observe: counts decrement along the key's path and any
// folder chain left empty is pruned bottom-up. Removing an unknown key is a
// no-op. A count driven negative means the tree is corrupt; the error carries
// kvbrowse.CacheConsistency and the caller is expected to reset.
func (t *Tree) Remove(key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remove(key)
}

func (t *Tree) remove(key string) (bool, error) {
	if _, seen := t.keys[key]; !seen {
		return false, nil
	}
	delete(t.keys, key)

	parts := strings.Split(key, t.delimiter)
	chain := make([]*node, 0, len(parts))
	n := t.root
	chain = append(chain, n)
	for _, seg := range parts[:len(parts)-1] {
		child, ok := n.folders[seg]
		if !ok {
			return false, kvbrowse.NewError(kvbrowse.CacheConsistency,
				fmt.Errorf("folder chain missing for key %q at segment %q", key, seg))
		}
		chain = append(chain, child)
		n = child
	}
	if _, ok := n.leaves[key]; !ok {
		return false, kvbrowse.NewError(kvbrowse.CacheConsistency,
			fmt.Errorf("leaf missing for key %q", key))
	}
	delete(n.leaves, key)

	for _, c := range chain {
		c.total--
		if c.total < 0 {
			return false, kvbrowse.NewError(kvbrowse.CacheConsistency,
				fmt.Errorf("negative count under key %q", key))
		}
	}
	// Prune empty folders bottom-up. chain[i] is the parent of parts[i].
	for i := len(chain) - 1; i > 0; i-- {
		if !chain[i].empty() {
			break
		}
		delete(chain[i-1].folders, parts[i-1])
	}
	return true, nil
}

// Rename atomically replaces oldKey with newKey: no caller ever sees the
// intermediate state. Renaming onto an already-observed key merges (count
// shrinks by one), matching the remote store's overwrite semantics.
func (t *Tree) Rename(oldKey, newKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.remove(oldKey); err != nil {
		return err
	}
	t.observe(newKey)
	return nil
}

// Contains reports whether the key has been observed and not removed.
func (t *Tree) Contains(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.keys[key]
	return ok
}

// Len returns the number of distinct keys currently in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// CountUnder returns the memoized count of keys in the subtree at path
// ("" for the whole tree). Unknown paths count zero.
func (t *Tree) CountUnder(path string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.lookup(path)
	if n == nil {
		return 0
	}
	return n.total
}

// ChildrenOf returns the immediate child folder names and the immediate leaf
// key names at path, each sorted case-insensitively for stable display.
func (t *Tree) ChildrenOf(path string) (folders []string, leaves []string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := t.lookup(path)
	if n == nil {
		return nil, nil
	}
	folders = make([]string, 0, len(n.folders))
	for seg := range n.folders {
		folders = append(folders, seg)
	}
	leaves = make([]string, 0, len(n.leaves))
	for key := range n.leaves {
		leaves = append(leaves, key)
	}
	sortFold(folders)
	sortFold(leaves)
	return folders, leaves
}

// lookup walks to the node at path. Callers hold at least the read lock.
func (t *Tree) lookup(path string) *node {
	n := t.root
	if path == "" {
		return n
	}
	for _, seg := range strings.Split(path, t.delimiter) {
		child, ok := n.folders[seg]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// SetExpanded records the UI expansion state of a folder path.
func (t *Tree) SetExpanded(path string, open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if open {
		t.expanded[path] = true
	} else {
		delete(t.expanded, path)
	}
}

// Expanded reports the recorded expansion state of a folder path.
func (t *Tree) Expanded(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.expanded[path]
}

// SetKnownTotal records the server-side keyspace size for progress display.
func (t *Tree) SetKnownTotal(total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.knownTotal = total
}

// Counts returns how many keys are loaded versus the last known server-side
// total (0 when never reported).
func (t *Tree) Counts() (loaded int, knownTotal int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys), t.knownTotal
}

// Reset discards every node and key while preserving expansion state, per
// the reload lifecycle: reconnect, explicit refresh, or delimiter change all
// rebuild from scratch.
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = newNode()
	t.keys = make(map[string]struct{})
	t.knownTotal = 0
}

func sortFold(ss []string) {
	sort.Slice(ss, func(i, j int) bool {
		a, b := strings.ToLower(ss[i]), strings.ToLower(ss[j])
		if a == b {
			return ss[i] < ss[j]
		}
		return a < b
	})
}
