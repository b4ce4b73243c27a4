package transport

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/pkg/errors"
)

// fakeNode is one live path in a Fake repository's tree at some revision.
type fakeNode struct {
	kind    dumptypes.NodeKind
	props   dumptypes.PropertySet
	content []byte
}

type fakeRevision struct {
	rev          dumptypes.RemoteRev
	tree         map[string]*fakeNode
	changedPaths map[string]dumptypes.ChangedPath
	author       string
	date         string
	message      string
}

// Change describes one path mutation to apply when committing a new
// revision to a Fake repository.
type Change struct {
	Path         string
	Action       dumptypes.ChangedPathAction
	CopyFromPath string
	CopyFromRev  dumptypes.RemoteRev
	Kind         dumptypes.NodeKind
	Content      []byte
	Props        dumptypes.PropertySet
}

// Fake is an in-memory RemoteSession used by tests to drive the dump
// engine without a live server. It is not part of the dump engine's
// specified surface; the real network transport is an external
// collaborator per spec §1.
type Fake struct {
	uuid      string
	revisions []*fakeRevision
}

// NewFake returns a Fake repository containing only revision 0 (empty root).
func NewFake() *Fake {
	return &Fake{
		uuid: uuid.NewString(),
		revisions: []*fakeRevision{
			{rev: 0, tree: map[string]*fakeNode{}, changedPaths: map[string]dumptypes.ChangedPath{}},
		},
	}
}

// Commit applies changes to the tree at the current HEAD and returns the
// new revision number. Add/Replace insert or overwrite nodes; when
// CopyFromPath or CopyFromRev is set, the source path and its subtree
// are copied and Kind/Content/Props are ignored. Delete removes the path
// and every descendant;
// Modify updates content/props in place.
func (f *Fake) Commit(author, message string, changes []Change) dumptypes.RemoteRev {
	prev := f.revisions[len(f.revisions)-1]
	tree := make(map[string]*fakeNode, len(prev.tree))
	for k, v := range prev.tree {
		cp := *v
		tree[k] = &cp
	}
	changed := make(map[string]dumptypes.ChangedPath, len(changes))
	newRev := dumptypes.RemoteRev(len(f.revisions))

	for _, c := range changes {
		switch c.Action {
		case dumptypes.ActionDelete:
			deleteSubtree(tree, c.Path)
		case dumptypes.ActionAdd, dumptypes.ActionReplace:
			if c.Action == dumptypes.ActionReplace {
				deleteSubtree(tree, c.Path)
			}
			if c.CopyFromPath != "" || c.CopyFromRev != 0 {
				srcTree := f.treeAt(c.CopyFromRev)
				copySubtree(tree, srcTree, c.CopyFromPath, c.Path)
			} else {
				tree[c.Path] = &fakeNode{kind: c.Kind, props: c.Props.Clone(), content: append([]byte(nil), c.Content...)}
			}
		case dumptypes.ActionModify:
			n, ok := tree[c.Path]
			if !ok {
				n = &fakeNode{kind: c.Kind}
				tree[c.Path] = n
			}
			if c.Content != nil {
				n.content = append([]byte(nil), c.Content...)
			}
			if c.Props != nil {
				n.props = c.Props.Clone()
			}
		}
		changed[c.Path] = dumptypes.ChangedPath{
			Path: c.Path, Action: c.Action,
			CopyFromPath: c.CopyFromPath, CopyFromRev: c.CopyFromRev,
		}
	}

	f.revisions = append(f.revisions, &fakeRevision{
		rev: newRev, tree: tree, changedPaths: changed,
		author: author, message: message, date: "2020-01-01T00:00:00.000000Z",
	})
	return newRev
}

func deleteSubtree(tree map[string]*fakeNode, path string) {
	prefix := path + "/"
	delete(tree, path)
	for k := range tree {
		if strings.HasPrefix(k, prefix) {
			delete(tree, k)
		}
	}
}

func copySubtree(dst, src map[string]*fakeNode, srcPath, dstPath string) {
	if n, ok := src[srcPath]; ok {
		cp := *n
		dst[dstPath] = &cp
	}
	prefix := srcPath + "/"
	for k, n := range src {
		if strings.HasPrefix(k, prefix) {
			suffix := k[len(prefix):]
			cp := *n
			dst[dstPath+"/"+suffix] = &cp
		}
	}
}

func (f *Fake) treeAt(rev dumptypes.RemoteRev) map[string]*fakeNode {
	for _, r := range f.revisions {
		if r.rev == rev {
			return r.tree
		}
	}
	return map[string]*fakeNode{}
}

func (f *Fake) revision(rev dumptypes.RemoteRev) (*fakeRevision, bool) {
	if rev < 0 || int(rev) >= len(f.revisions) {
		return nil, false
	}
	return f.revisions[rev], true
}

// HeadRev returns the most recently committed revision number.
func (f *Fake) HeadRev() dumptypes.RemoteRev {
	return f.revisions[len(f.revisions)-1].rev
}

func (f *Fake) GetLog(ctx context.Context, paths []string, start, end dumptypes.RemoteRev, limit int, discoverChangedPaths bool, fn LogReceiver) error {
	if start == dumptypes.HeadRev {
		start = f.HeadRev()
	}
	if end == dumptypes.HeadRev {
		end = f.HeadRev()
	}
	lo, hi, reverse := int(start), int(end), false
	if lo > hi {
		lo, hi, reverse = hi, lo, true
	}
	var revs []int
	for r := lo; r <= hi && int(r) < len(f.revisions); r++ {
		revs = append(revs, r)
	}
	if reverse {
		for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
			revs[i], revs[j] = revs[j], revs[i]
		}
	}
	if limit > 0 && len(revs) > limit {
		revs = revs[:limit]
	}
	for _, r := range revs {
		fr := f.revisions[r]
		entry := dumptypes.LogEntry{
			RemoteRev: fr.rev, Author: fr.author, Date: fr.date, Message: fr.message,
			HasAuthor: fr.author != "", HasDate: fr.date != "", HasMessage: fr.message != "",
		}
		if discoverChangedPaths {
			entry.ChangedPaths = fr.changedPaths
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) Stat(ctx context.Context, path string, rev dumptypes.RemoteRev) (*dumptypes.Dirent, error) {
	fr, ok := f.revision(rev)
	if !ok {
		return nil, errors.Errorf("no such revision %d", rev)
	}
	if path == "" {
		return &dumptypes.Dirent{Kind: dumptypes.KindDir}, nil
	}
	n, ok := fr.tree[path]
	if !ok {
		return nil, nil
	}
	return &dumptypes.Dirent{Kind: n.kind, Size: int64(len(n.content)), HasProps: len(n.props) > 0}, nil
}

func (f *Fake) CheckPath(ctx context.Context, path string, rev dumptypes.RemoteRev) (dumptypes.NodeKind, error) {
	d, err := f.Stat(ctx, path, rev)
	if err != nil {
		return 0, err
	}
	if d == nil {
		return 0, errors.Errorf("path not found: %s@%d", path, rev)
	}
	return d.Kind, nil
}

func (f *Fake) GetUUID(ctx context.Context) (string, error) {
	return f.uuid, nil
}

func (f *Fake) GetDir(ctx context.Context, path string, rev dumptypes.RemoteRev) (map[string]*dumptypes.Dirent, error) {
	fr, ok := f.revision(rev)
	if !ok {
		return nil, errors.Errorf("no such revision %d", rev)
	}
	out := map[string]*dumptypes.Dirent{}
	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	for k, n := range fr.tree {
		if !strings.HasPrefix(k, prefix) || k == path {
			continue
		}
		rest := k[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		out[rest] = &dumptypes.Dirent{Kind: n.kind, Size: int64(len(n.content)), HasProps: len(n.props) > 0}
	}
	return out, nil
}

// DoDiff replays the changed-paths recorded when targetRev was committed
// against the editor, opening ancestor directories as needed. reporter's
// SetPath call supplies the source revision to diff from.
func (f *Fake) DoDiff(ctx context.Context, targetRev dumptypes.RemoteRev, recurse, textDeltas bool, reporter Reporter, editor Editor) error {
	cr, ok := reporter.(*capturingReporter)
	if !ok {
		return errors.New("fake transport requires a reporter created by transport.NewReporter")
	}
	srcRev := cr.rev

	target, ok := f.revision(targetRev)
	if !ok {
		return errors.Errorf("no such revision %d", targetRev)
	}
	srcTree := f.treeAt(srcRev)

	if err := editor.SetTargetRevision(targetRev); err != nil {
		return err
	}
	root, err := editor.OpenRoot(srcRev)
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(target.changedPaths))
	for p := range target.changedPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	handles := map[string]NodeHandle{"": root}
	var ensureDir func(dir string) (NodeHandle, error)
	ensureDir = func(dir string) (NodeHandle, error) {
		if h, ok := handles[dir]; ok {
			return h, nil
		}
		parentPath := parentOf(dir)
		parent, err := ensureDir(parentPath)
		if err != nil {
			return nil, err
		}
		h, err := editor.OpenDirectory(dir, parent, srcRev)
		if err != nil {
			return nil, err
		}
		handles[dir] = h
		return h, nil
	}

	opened := map[string]NodeHandle{}
	for _, p := range paths {
		cp := target.changedPaths[p]
		parentPath := parentOf(p)
		parent, err := ensureDir(parentPath)
		if err != nil {
			return err
		}

		switch cp.Action {
		case dumptypes.ActionDelete:
			if err := editor.DeleteEntry(p, srcRev, parent); err != nil {
				return err
			}
			continue
		case dumptypes.ActionAdd, dumptypes.ActionReplace:
			n := target.tree[p]
			if n == nil {
				continue
			}
			if n.kind == dumptypes.KindDir {
				h, err := editor.AddDirectory(p, parent, cp.CopyFromPath, cp.CopyFromRev)
				if err != nil {
					return err
				}
				opened[p] = h
				handles[p] = h
				if err := emitProps(editor, h, nil, n.props, false); err != nil {
					return err
				}
			} else {
				h, err := editor.AddFile(p, parent, cp.CopyFromPath, cp.CopyFromRev)
				if err != nil {
					return err
				}
				opened[p] = h
				if err := emitProps(editor, h, nil, n.props, true); err != nil {
					return err
				}
				if cp.CopyFromPath == "" {
					if err := applyWhole(editor, h, n.content); err != nil {
						return err
					}
				}
			}
		case dumptypes.ActionModify:
			n := target.tree[p]
			old := srcTree[p]
			if n == nil {
				continue
			}
			if n.kind == dumptypes.KindDir {
				h, err := editor.OpenDirectory(p, parent, srcRev)
				if err != nil {
					return err
				}
				opened[p] = h
				handles[p] = h
				var oldProps dumptypes.PropertySet
				if old != nil {
					oldProps = old.props
				}
				if err := emitProps(editor, h, oldProps, n.props, false); err != nil {
					return err
				}
			} else {
				h, err := editor.OpenFile(p, parent, srcRev)
				if err != nil {
					return err
				}
				opened[p] = h
				var oldProps dumptypes.PropertySet
				var oldContent []byte
				if old != nil {
					oldProps, oldContent = old.props, old.content
				}
				if err := emitProps(editor, h, oldProps, n.props, true); err != nil {
					return err
				}
				if string(oldContent) != string(n.content) {
					if err := applyWhole(editor, h, n.content); err != nil {
						return err
					}
				}
			}
		}
	}

	// Close files opened this edit, then directories deepest-first.
	for p, h := range opened {
		n := target.tree[p]
		if n != nil && n.kind == dumptypes.KindFile {
			if err := editor.CloseFile(h, ""); err != nil {
				return err
			}
		}
	}
	dirs := make([]string, 0, len(handles))
	for p := range handles {
		dirs = append(dirs, p)
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, p := range dirs {
		if err := editor.CloseDirectory(handles[p]); err != nil {
			return err
		}
	}
	return editor.CloseEdit()
}

func applyWhole(editor Editor, h NodeHandle, content []byte) error {
	consume, err := editor.ApplyTextDelta(h, "")
	if err != nil {
		return err
	}
	if consume == nil {
		return nil
	}
	if err := consume(&TextDeltaWindow{Ops: []DeltaOp{{Kind: CopyNew, Length: int64(len(content))}}, NewData: content}); err != nil {
		return err
	}
	return consume(nil)
}

func emitProps(editor Editor, h NodeHandle, old, cur dumptypes.PropertySet, isFile bool) error {
	for name, val := range cur {
		if old != nil {
			if ov, ok := old[name]; ok && string(ov) == string(val) {
				continue
			}
		}
		if isFile {
			if err := editor.ChangeFileProp(h, name, val, false); err != nil {
				return err
			}
		} else if err := editor.ChangeDirProp(h, name, val, false); err != nil {
			return err
		}
	}
	for name := range old {
		if _, ok := cur[name]; !ok {
			if isFile {
				if err := editor.ChangeFileProp(h, name, nil, true); err != nil {
					return err
				}
			} else if err := editor.ChangeDirProp(h, name, nil, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// capturingReporter is a minimal Reporter: it records the source revision
// the caller requests via SetPath so DoDiff can replay the correct diff.
type capturingReporter struct {
	rev dumptypes.RemoteRev
}

// NewReporter returns a Reporter compatible with Fake.DoDiff.
func NewReporter() Reporter { return &capturingReporter{} }

func (r *capturingReporter) SetPath(path string, rev dumptypes.RemoteRev, startEmpty bool) error {
	r.rev = rev
	return nil
}

func (r *capturingReporter) FinishReport() error { return nil }
