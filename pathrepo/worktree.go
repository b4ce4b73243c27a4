package pathrepo

import (
	"sort"
	"strings"

	"github.com/jgehring/svndumpgen/dumptypes"
)

// node is one entry in an in-memory working tree: a directory holding
// children, or a leaf file. Adapted from the teacher's node.Node
// (AddSubFile/DeleteSubFile/GetFiles), generalized from file-only leaves
// to path entries carrying a kind so the same tree represents both files
// and directories, as the path repository's live set requires.
type node struct {
	name     string
	kind     dumptypes.NodeKind
	children map[string]*node
}

func newDirNode(name string) *node {
	return &node{name: name, kind: dumptypes.KindDir, children: map[string]*node{}}
}

// worktree is the current live path set reconstructed or being staged.
type worktree struct {
	root *node
}

func newWorktree() *worktree {
	return &worktree{root: newDirNode("")}
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// add inserts path with the given kind, creating intermediate directory
// nodes as needed. Adding an already-live path overwrites its kind.
func (w *worktree) add(path string, kind dumptypes.NodeKind) {
	parts := splitPath(path)
	cur := w.root
	for i, part := range parts {
		last := i == len(parts)-1
		child, ok := cur.children[part]
		if !ok {
			if last {
				child = &node{name: part, kind: kind}
				if kind == dumptypes.KindDir {
					child.children = map[string]*node{}
				}
			} else {
				child = newDirNode(part)
			}
			cur.children[part] = child
		} else if last {
			child.kind = kind
			if kind == dumptypes.KindDir && child.children == nil {
				child.children = map[string]*node{}
			}
		}
		cur = child
	}
}

// delete removes path and every descendant. A no-op if path is not live.
func (w *worktree) delete(path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		w.root.children = map[string]*node{}
		return
	}
	cur := w.root
	for i := 0; i < len(parts)-1; i++ {
		next, ok := cur.children[parts[i]]
		if !ok {
			return
		}
		cur = next
	}
	delete(cur.children, parts[len(parts)-1])
}

// exists reports whether path is currently live.
func (w *worktree) exists(path string) bool {
	return w.find(path) != nil
}

func (w *worktree) find(path string) *node {
	parts := splitPath(path)
	cur := w.root
	for _, part := range parts {
		next, ok := cur.children[part]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// parentOf reports whether child is a live, immediate child of parent.
func (w *worktree) parentOf(parent, childBasename string) bool {
	p := w.find(parent)
	if p == nil || p.children == nil {
		return false
	}
	_, ok := p.children[childBasename]
	return ok
}

// childrenUnder returns the relative paths of every descendant of dir
// (files and directories), sorted.
func (w *worktree) childrenUnder(dir string) []string {
	n := w.find(dir)
	if n == nil {
		return nil
	}
	var out []string
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := n.children[name]
			rel := name
			if prefix != "" {
				rel = prefix + "/" + name
			}
			out = append(out, rel)
			if c.kind == dumptypes.KindDir {
				walk(c, rel)
			}
		}
	}
	walk(n, "")
	return out
}

// allPaths returns every live path in the tree, sorted, each tagged with
// its kind; used to encode a full snapshot.
func (w *worktree) allPaths() []pathEntry {
	var out []pathEntry
	var walk func(n *node, prefix string)
	walk = func(n *node, prefix string) {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c := n.children[name]
			p := name
			if prefix != "" {
				p = prefix + "/" + name
			}
			out = append(out, pathEntry{path: p, kind: c.kind})
			if c.kind == dumptypes.KindDir {
				walk(c, p)
			}
		}
	}
	walk(w.root, "")
	return out
}

func (w *worktree) clone() *worktree {
	out := newWorktree()
	var walk func(dst, src *node)
	walk = func(dst, src *node) {
		for name, c := range src.children {
			cp := &node{name: c.name, kind: c.kind}
			if c.kind == dumptypes.KindDir {
				cp.children = map[string]*node{}
			}
			dst.children[name] = cp
			if c.kind == dumptypes.KindDir {
				walk(cp, c)
			}
		}
	}
	walk(out.root, w.root)
	return out
}

type pathEntry struct {
	path string
	kind dumptypes.NodeKind
}
