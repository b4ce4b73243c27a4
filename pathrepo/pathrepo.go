// Package pathrepo implements the versioned path repository (spec
// component C1): a set of all live paths supporting add/delete, commit at
// a revision, and existence/parent-of queries at any past committed
// revision, persisted as snapshot+delta blobs grounded on
// original_source/src/path_repo.c.
package pathrepo

import (
	"context"
	"sort"
	"strings"

	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/transport"
)

// SnapshotInterval is the fixed power-of-two revision interval at which a
// full tree snapshot is stored instead of a delta (spec §4.1 reference
// value).
const SnapshotInterval = 1024

// CacheSize is the FIFO reconstruction cache's capacity (spec §4.1
// reference value).
const CacheSize = 4

// Repo is the path repository. Not safe for concurrent use: it is driven
// exclusively by the single dump-engine goroutine (spec §5).
type Repo struct {
	store  *Store
	prefix string

	head    int64
	working *worktree
	staged  []stagedOp

	cache []cacheEntry
}

type cacheEntry struct {
	rev  int64
	tree *worktree
}

// Open opens the persistent store at dbPath and returns a Repo positioned
// at the empty tree with head -1 (no revision committed yet).
func Open(dbPath, sessionPrefix string) (*Repo, error) {
	store, err := OpenStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Repo{store: store, prefix: sessionPrefix, head: -1, working: newWorktree()}, nil
}

// Close releases the underlying storage handle.
func (r *Repo) Close() error {
	return r.store.Close()
}

// Head returns the last committed local revision, or -1 if none has been
// committed yet.
func (r *Repo) Head() int64 {
	return r.head
}

// Add marks path as live with the given kind.
func (r *Repo) Add(path string, kind dumptypes.NodeKind) {
	r.working.add(path, kind)
	r.staged = append(r.staged, stagedOp{kind: opAdd, path: path, pk: kind})
}

// Delete removes path and every descendant from the live tree.
func (r *Repo) Delete(path string) {
	r.working.delete(path)
	r.staged = append(r.staged, stagedOp{kind: opDelete, path: path})
}

// Exists reports whether path was live at committed revision rev.
func (r *Repo) Exists(ctx context.Context, path string, rev int64) (bool, error) {
	t, err := r.tree(ctx, rev)
	if err != nil {
		return false, err
	}
	return t.exists(path), nil
}

// ParentOf reports whether childBasename was a live, immediate child of
// parent at committed revision rev.
func (r *Repo) ParentOf(ctx context.Context, parent, childBasename string, rev int64) (bool, error) {
	t, err := r.tree(ctx, rev)
	if err != nil {
		return false, err
	}
	return t.parentOf(parent, childBasename), nil
}

// Commit persists the staged operations (or a full snapshot, on a
// snapshot revision) under localRevnum and advances head. Revisions with
// no staged changes and no pending snapshot write nothing, but head still
// advances (spec §4.1).
func (r *Repo) Commit(localRevnum int64) error {
	isSnapshot := localRevnum > 0 && localRevnum%SnapshotInterval == 0
	if len(r.staged) > 0 || isSnapshot {
		var blob []byte
		if isSnapshot {
			blob = encodeSnapshot(r.working)
		} else {
			blob = encodeDelta(r.staged)
		}
		if err := r.store.put(localRevnum, blob); err != nil {
			return err
		}
	}
	r.head = localRevnum
	r.staged = nil
	r.pushCache(localRevnum, r.working.clone())
	return nil
}

// Discard clears staged operations and rolls the working tree back to
// the last committed state.
func (r *Repo) Discard(ctx context.Context) error {
	r.staged = nil
	if r.head < 0 {
		r.working = newWorktree()
		return nil
	}
	t, err := r.reconstruct(r.head)
	if err != nil {
		return err
	}
	r.working = t
	return nil
}

// CommitLog replays a log entry's changed-paths (spec §4.1 commit_log)
// against the working tree and commits under localRevnum. sess is used
// only for materialising copies whose source lies outside the dumped
// prefix; revmap resolves a copy source's remote revision to the local
// revision whose tree should be consulted.
// KindOf resolves the node kind of a changed path, backed by the delta
// driver's node-baton tree, which classifies every touched path's kind
// while walking the edit (spec §2: "After emission C7 commits the new
// tree state to C1 and C2").
type KindOf func(path string) dumptypes.NodeKind

func (r *Repo) CommitLog(ctx context.Context, sess transport.RemoteSession, entry dumptypes.LogEntry, localRevnum int64, revmap *dumptypes.RevMap, kindOf KindOf) error {
	paths := make([]string, 0, len(entry.ChangedPaths))
	for p := range entry.ChangedPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		cp := entry.ChangedPaths[p]
		if cp.Action == dumptypes.ActionDelete || cp.Action == dumptypes.ActionReplace {
			r.Delete(p)
		}
	}
	for _, p := range paths {
		cp := entry.ChangedPaths[p]
		if cp.Action != dumptypes.ActionAdd && cp.Action != dumptypes.ActionReplace {
			continue
		}
		if !cp.HasCopyFrom() {
			r.Add(p, kindOf(p))
			continue
		}
		if !r.sourceInsidePrefix(cp.CopyFromPath) {
			// Fetched at the log's own revision, not the copy source's
			// revision: original_source/src/path_repo.c's pr_fetch_paths
			// and delta.c's outside-copy materialisation both walk
			// session->ra at the revision under replay, consistently, so a
			// source modified between its copyfrom revision and the
			// revision being dumped shows up with its newer content here.
			entries, err := transport.FetchSubtree(ctx, sess, cp.CopyFromPath, entry.RemoteRev)
			if err != nil {
				return dumperr.Wrapf(dumperr.Transport, err, "fetching subtree %s@%d for copy materialisation", cp.CopyFromPath, entry.RemoteRev)
			}
			for _, e := range entries {
				suffix := strings.TrimPrefix(e.Path, cp.CopyFromPath)
				r.Add(p+suffix, e.Kind)
			}
			continue
		}
		localSrc, ok := revmap.GreatestLocalAtOrBefore(cp.CopyFromRev)
		if !ok {
			return dumperr.Newf(dumperr.Protocol, "no local revision known for copy source %s@%d", cp.CopyFromPath, cp.CopyFromRev)
		}
		srcTree, err := r.tree(ctx, int64(localSrc.Local))
		if err != nil {
			return err
		}
		relPrefix := r.relative(cp.CopyFromPath)
		srcNode := srcTree.find(relPrefix)
		if srcNode == nil {
			r.Add(p, kindOf(p))
			continue
		}
		r.Add(p, srcNode.kind)
		for _, child := range srcTree.childrenUnder(relPrefix) {
			// childrenUnder returns relative paths only; look up each
			// child's own kind via a fresh find relative to srcTree.
			full := relPrefix
			if full != "" {
				full += "/"
			}
			full += child
			cn := srcTree.find(full)
			if cn == nil {
				continue
			}
			r.Add(p+"/"+child, cn.kind)
		}
	}

	return r.Commit(localRevnum)
}

func (r *Repo) sourceInsidePrefix(copyFromPath string) bool {
	if r.prefix == "" {
		return true
	}
	if copyFromPath == r.prefix {
		return true
	}
	return strings.HasPrefix(copyFromPath, r.prefix+"/")
}

func (r *Repo) relative(copyFromPath string) string {
	if r.prefix == "" {
		return copyFromPath
	}
	if copyFromPath == r.prefix {
		return ""
	}
	return strings.TrimPrefix(copyFromPath, r.prefix+"/")
}

// PathEntry is an exported live-path/kind pair, used by the verification
// tool to compare the repository's reported state against ground truth.
type PathEntry struct {
	Path string
	Kind dumptypes.NodeKind
}

// Snapshot returns every live path at committed revision rev, sorted,
// via the repository's normal cached/snapshot-shortcut lookup.
func (r *Repo) Snapshot(ctx context.Context, rev int64) ([]PathEntry, error) {
	t, err := r.tree(ctx, rev)
	if err != nil {
		return nil, err
	}
	return exportPaths(t), nil
}

// ReconstructNoShortcut rebuilds the tree at rev by replaying every
// committed blob from revision 0 forward in order, never consulting the
// nearest-snapshot shortcut reconstruct uses. A snapshot blob replays as
// an ordinary sequence of add operations, so the result is identical to
// reconstruct's whether or not rev lands on a snapshot revision; this is
// the ground truth reconstruct's shortcut is checked against.
func (r *Repo) ReconstructNoShortcut(rev int64) ([]PathEntry, error) {
	t := newWorktree()
	for rr := int64(0); rr <= rev; rr++ {
		blob, ok, err := r.store.get(rr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		raw, err := decompress(blob)
		if err != nil {
			return nil, dumperr.Wrap(dumperr.Storage, err, "decompressing path-repo blob")
		}
		ops, err := decodeOps(raw)
		if err != nil {
			return nil, err
		}
		applyOps(t, ops)
	}
	return exportPaths(t), nil
}

func exportPaths(t *worktree) []PathEntry {
	raw := t.allPaths()
	out := make([]PathEntry, len(raw))
	for i, p := range raw {
		out[i] = PathEntry{Path: p.path, Kind: p.kind}
	}
	return out
}

func (r *Repo) pushCache(rev int64, t *worktree) {
	if len(r.cache) >= CacheSize {
		r.cache = r.cache[1:]
	}
	r.cache = append(r.cache, cacheEntry{rev: rev, tree: t})
}

// tree returns the live tree at committed revision rev, consulting the
// FIFO cache before reconstructing from storage.
func (r *Repo) tree(ctx context.Context, rev int64) (*worktree, error) {
	if rev == r.head && len(r.staged) == 0 {
		return r.working, nil
	}
	for _, c := range r.cache {
		if c.rev == rev {
			return c.tree, nil
		}
	}
	t, err := r.reconstruct(rev)
	if err != nil {
		return nil, err
	}
	r.pushCache(rev, t)
	return t, nil
}

// reconstruct rebuilds the tree at rev from the nearest snapshot at or
// before rev, applying every committed delta up to rev in order (spec
// §4.1). A negative rev returns an empty tree; any other revision for
// which no blob has ever been written is a programmer error.
func (r *Repo) reconstruct(rev int64) (*worktree, error) {
	if rev < 0 {
		return newWorktree(), nil
	}
	snap := (rev / SnapshotInterval) * SnapshotInterval
	t := newWorktree()
	if blob, ok, err := r.store.get(snap); err != nil {
		return nil, err
	} else if ok {
		raw, err := decompress(blob)
		if err != nil {
			return nil, dumperr.Wrap(dumperr.Storage, err, "decompressing path-repo snapshot")
		}
		ops, err := decodeOps(raw)
		if err != nil {
			return nil, err
		}
		applyOps(t, ops)
	}
	for rr := snap + 1; rr <= rev; rr++ {
		blob, ok, err := r.store.get(rr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		raw, err := decompress(blob)
		if err != nil {
			return nil, dumperr.Wrap(dumperr.Storage, err, "decompressing path-repo delta")
		}
		ops, err := decodeOps(raw)
		if err != nil {
			return nil, err
		}
		applyOps(t, ops)
	}
	return t, nil
}
