package delta

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/jgehring/svndumpgen/contentcache"
	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/pathrepo"
	"github.com/jgehring/svndumpgen/propstore"
	"github.com/jgehring/svndumpgen/transport"
)

// mimeTypeProp is the standard property auto-detection fills in for a
// touched file that does not already declare one (spec §4.3 supplement).
const mimeTypeProp = "svn:mime-type"

// NodeRecord is one fully resolved node the driver hands to an Emitter
// at the end of a revision's edit, in wire-emission order (spec §4.5
// step 8 / §6.1).
type NodeRecord struct {
	Path   string
	Kind   dumptypes.NodeKind
	Action dumptypes.ChangedPathAction

	HasCopyFrom  bool
	CopyFromRev  dumptypes.LocalRev
	CopyFromPath string

	PropsChanged bool
	Props        dumptypes.PropertySet

	TextChanged   bool
	ContentPath   string
	ContentLength int64
	MD5           string
}

// Emitter receives the resolved nodes of one revision's edit, already
// ordered by path. Implemented by *dump.Writer.
type Emitter interface {
	EmitNode(rec NodeRecord) error
}

// Driver implements transport.Editor (spec component C5): it builds a
// node baton tree from the callback stream, classifies copies via a
// CopyResolver, resolves each touched node's final property set and
// content against the property store and content cache, and hands the
// ordered result to an Emitter. One Driver instance is reused across
// revisions via Begin. Grounded in full on original_source/src/delta.c.
type Driver struct {
	Repo     *pathrepo.Repo
	Props    *propstore.Store
	Cache    *contentcache.Cache
	Resolver *CopyResolver
	Sink     Emitter
	Logger   *logrus.Logger

	// Pool, if set, runs the per-revision MIME-sniffing prepass across
	// touched files concurrently; each file's content is independent of
	// every other's, so this is safe ambient parallelism around the
	// otherwise strictly sequential callback-driven core. A nil Pool runs
	// the same work inline.
	Pool *pond.WorkerPool

	ctx       context.Context
	localRev  dumptypes.LocalRev
	targetRev dumptypes.RemoteRev

	deleted    map[string]bool
	touched    []*nodeBaton
	kinds      map[string]dumptypes.NodeKind
	mimeHints  map[string]string
	logActions map[string]dumptypes.ChangedPathAction
}

// Begin resets the driver for a new revision's edit. logActions is the
// log entry's changed-path action map (nil when driving a synthetic
// diff with no associated log entry, e.g. the priming dry run), used by
// initAdd to tell an Add from a Replace the way the callback table
// requires (spec §4.5: "if log records action Replace, switch").
func (d *Driver) Begin(ctx context.Context, localRev dumptypes.LocalRev, logActions map[string]dumptypes.ChangedPathAction) {
	d.ctx = ctx
	d.localRev = localRev
	d.deleted = map[string]bool{}
	d.touched = nil
	d.kinds = map[string]dumptypes.NodeKind{}
	d.mimeHints = map[string]string{}
	d.logActions = logActions
}

// KindOf implements pathrepo.KindOf, backed by the kinds observed while
// driving this revision's edit.
func (d *Driver) KindOf(path string) dumptypes.NodeKind {
	if k, ok := d.kinds[path]; ok {
		return k
	}
	return dumptypes.KindFile
}

func (d *Driver) SetTargetRevision(rev dumptypes.RemoteRev) error {
	d.targetRev = rev
	return nil
}

func (d *Driver) OpenRoot(baseRev dumptypes.RemoteRev) (transport.NodeHandle, error) {
	return newNodeBaton("", dumptypes.KindDir, nil), nil
}

func (d *Driver) DeleteEntry(path string, baseRev dumptypes.RemoteRev, parent transport.NodeHandle) error {
	d.deleted[path] = true
	return nil
}

func (d *Driver) AddDirectory(path string, parent transport.NodeHandle, copyFromPath string, copyFromRev dumptypes.RemoteRev) (transport.NodeHandle, error) {
	p := parent.(*nodeBaton)
	n := newNodeBaton(path, dumptypes.KindDir, p)
	if err := d.initAdd(n, path, copyFromPath, copyFromRev); err != nil {
		return nil, err
	}
	d.kinds[path] = dumptypes.KindDir
	return n, nil
}

func (d *Driver) AddFile(path string, parent transport.NodeHandle, copyFromPath string, copyFromRev dumptypes.RemoteRev) (transport.NodeHandle, error) {
	p := parent.(*nodeBaton)
	n := newNodeBaton(path, dumptypes.KindFile, p)
	if err := d.initAdd(n, path, copyFromPath, copyFromRev); err != nil {
		return nil, err
	}
	d.kinds[path] = dumptypes.KindFile
	return n, nil
}

// initAdd resolves the Add/Replace action and, for a copy, its
// classification (spec §4.6). The action itself follows the log's own
// changed-path record for path, not local bookkeeping of delete_entry
// calls: a copied ancestor can make a path appear to the remote as
// already occupied without the driver ever seeing a delete_entry for
// it. Full replace-validation (does the path genuinely predate this
// revision, or is the apparent predecessor an artifact of an ancestor
// copy) runs later, in validateReplace, once the node tree is complete.
func (d *Driver) initAdd(n *nodeBaton, path, copyFromPath string, copyFromRev dumptypes.RemoteRev) error {
	delete(d.deleted, path)
	if d.logActions[path] == dumptypes.ActionReplace {
		n.action = dumptypes.ActionReplace
	} else {
		n.action = dumptypes.ActionAdd
	}
	if copyFromPath != "" || copyFromRev != 0 {
		n.hasCopy = true
		n.copyFromPath = copyFromPath
		n.copyFromRev = copyFromRev
		res := d.Resolver.Resolve(copyFromPath, copyFromRev)
		n.class = res.Class
		n.copyLocal = res.Local
		n.copyRepoPath = res.RepoPath
	}
	return nil
}

func (d *Driver) OpenDirectory(path string, parent transport.NodeHandle, baseRev dumptypes.RemoteRev) (transport.NodeHandle, error) {
	p := parent.(*nodeBaton)
	n := newNodeBaton(path, dumptypes.KindDir, p)
	n.action = dumptypes.ActionModify
	if err := d.inheritCopy(n, p, path); err != nil {
		return nil, err
	}
	d.kinds[path] = dumptypes.KindDir
	return n, nil
}

func (d *Driver) OpenFile(path string, parent transport.NodeHandle, baseRev dumptypes.RemoteRev) (transport.NodeHandle, error) {
	p := parent.(*nodeBaton)
	n := newNodeBaton(path, dumptypes.KindFile, p)
	n.action = dumptypes.ActionModify
	if err := d.inheritCopy(n, p, path); err != nil {
		return nil, err
	}
	d.kinds[path] = dumptypes.KindFile
	return n, nil
}

func (d *Driver) inheritCopy(n, parent *nodeBaton, path string) error {
	if parent.class == ClassNone {
		return nil
	}
	res, err := Propagate(d.ctx, d.Repo, Resolution{Class: parent.class, Local: parent.copyLocal, RepoPath: parent.copyRepoPath}, basename(path))
	if err != nil {
		return err
	}
	n.class = res.Class
	n.copyLocal = res.Local
	n.copyRepoPath = res.RepoPath
	return nil
}

func (d *Driver) ChangeDirProp(dir transport.NodeHandle, name string, value []byte, isDelete bool) error {
	return d.changeProp(dir.(*nodeBaton), name, value, isDelete)
}

func (d *Driver) ChangeFileProp(file transport.NodeHandle, name string, value []byte, isDelete bool) error {
	return d.changeProp(file.(*nodeBaton), name, value, isDelete)
}

func (d *Driver) changeProp(n *nodeBaton, name string, value []byte, isDelete bool) error {
	n.propsTouched = true
	if isDelete {
		n.deletedProps = append(n.deletedProps, name)
		return nil
	}
	if n.props == nil {
		n.props = dumptypes.PropertySet{}
	}
	n.props[name] = value
	return nil
}

func (d *Driver) ApplyTextDelta(file transport.NodeHandle, baseChecksum string) (transport.WindowConsumer, error) {
	n := file.(*nodeBaton)
	sink, err := d.Cache.NewFullTextSink(n.path)
	if err != nil {
		return nil, err
	}
	n.sink = sink
	n.textTouched = true
	return func(win *transport.TextDeltaWindow) error {
		if win == nil {
			digest, err := sink.Close()
			if err != nil {
				return err
			}
			n.md5 = digest
			return nil
		}
		return applyWindow(sink, win)
	}, nil
}

func (d *Driver) CloseFile(file transport.NodeHandle, textChecksum string) error {
	n := file.(*nodeBaton)
	d.touched = append(d.touched, n)
	return nil
}

func (d *Driver) CloseDirectory(dir transport.NodeHandle) error {
	n := dir.(*nodeBaton)
	if n.path != "" {
		d.touched = append(d.touched, n)
	}
	return nil
}

func (d *Driver) AbsentDirectory(path string, parent transport.NodeHandle) error {
	if d.Logger != nil {
		d.Logger.Warnf("delta: %s reported absent (authorization-restricted); skipping", path)
	}
	return nil
}

func (d *Driver) AbsentFile(path string, parent transport.NodeHandle) error {
	if d.Logger != nil {
		d.Logger.Warnf("delta: %s reported absent (authorization-restricted); skipping", path)
	}
	return nil
}

func (d *Driver) AbortEdit() error {
	d.deleted = nil
	d.touched = nil
	return nil
}

// dumpedInfo records, per path actually dumped this revision, enough to
// replicate delta_dump_node_recursive's ancestor checks when
// reconciling standalone deletes below.
type dumpedInfo struct {
	del   bool
	class CopyClass
}

// CloseEdit resolves every touched node's final properties and content,
// reconciles standalone deletes the callback stream never visited,
// sorts the result by path (deletes bottom-up), and hands each record
// to Sink in order (spec §4.5 step 8).
func (d *Driver) CloseEdit() error {
	d.detectMIMEHints()

	type entry struct {
		path string
		del  bool
		n    *nodeBaton
		rec  NodeRecord
	}
	all := make([]entry, 0, len(d.deleted)+len(d.touched))
	for p := range d.deleted {
		all = append(all, entry{path: p, del: true})
	}
	for _, n := range d.touched {
		all = append(all, entry{path: n.path, n: n})
	}

	dumped := make(map[string]dumpedInfo, len(all))
	kept := all[:0]
	for _, e := range all {
		if e.del {
			dumped[e.path] = dumpedInfo{del: true}
			kept = append(kept, e)
			continue
		}
		rec, err := d.buildRecord(e.n)
		if err != nil {
			return err
		}
		if rec.Kind == dumptypes.KindDir && rec.Action == dumptypes.ActionModify && !rec.PropsChanged {
			// spec §4.5 step 1: an opened-but-untouched directory, visited
			// only because a descendant changed, carries nothing worth
			// dumping, and is never registered as dumped either.
			continue
		}
		e.rec = rec
		dumped[e.path] = dumpedInfo{class: e.n.class}
		kept = append(kept, e)
	}
	all = kept

	// A log-declared delete that never showed up via delete_entry means
	// its parent was materialised wholesale by a copy, so the remote
	// never visited it (spec §4.5's post-traversal reconciliation;
	// original_source/src/delta.c's de_close_edit walks
	// log_revision->changed_paths the same way). Skip it if it was
	// already dumped under some other guise, or if an ancestor was
	// already dumped as a delete (its subtree is already gone) or is
	// part of a failed copy (emitting path would contradict how that
	// ancestor itself was materialised).
	for path, action := range d.logActions {
		if action != dumptypes.ActionDelete {
			continue
		}
		if _, ok := dumped[path]; ok {
			continue
		}
		if ancestorSuppressesDelete(path, dumped) {
			continue
		}
		all = append(all, entry{path: path, del: true})
		dumped[path] = dumpedInfo{del: true}
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.del && b.del {
			if strings.HasPrefix(b.path, a.path+"/") {
				return false
			}
			if strings.HasPrefix(a.path, b.path+"/") {
				return true
			}
		}
		return a.path < b.path
	})

	for _, e := range all {
		if e.del {
			if err := d.Sink.EmitNode(NodeRecord{Path: e.path, Kind: dumptypes.KindFile, Action: dumptypes.ActionDelete}); err != nil {
				return err
			}
			continue
		}
		if err := d.Sink.EmitNode(e.rec); err != nil {
			return err
		}
	}
	return nil
}

// ancestorSuppressesDelete walks path's directory chain looking for an
// ancestor already dumped this revision as a delete or as part of a
// failed copy.
func ancestorSuppressesDelete(path string, dumped map[string]dumpedInfo) bool {
	for parent := dirname(path); parent != ""; parent = dirname(parent) {
		info, ok := dumped[parent]
		if !ok {
			continue
		}
		if info.del || info.class.isFailed() {
			return true
		}
	}
	return false
}

func dirname(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// detectMIMEHints sniffs every touched file's staged content for a known
// binary signature, fanned out across d.Pool when set. Results feed
// resolveProps so a file that does not already declare svn:mime-type
// (neither from its copy source nor from this revision's own ChangeProp
// calls) gets one inferred from its content, grounded on the teacher's
// setCompressionDetails head-sniff.
func (d *Driver) detectMIMEHints() {
	var mu sync.Mutex
	var wg sync.WaitGroup
	detect := func(n *nodeBaton) {
		defer wg.Done()
		if n.kind != dumptypes.KindFile || !n.textTouched {
			return
		}
		mime, err := d.Cache.DetectMIME(n.path)
		if err != nil || mime == "" {
			return
		}
		mu.Lock()
		d.mimeHints[n.path] = mime
		mu.Unlock()
	}
	for _, n := range d.touched {
		wg.Add(1)
		n := n
		if d.Pool != nil {
			d.Pool.Submit(func() { detect(n) })
		} else {
			detect(n)
		}
	}
	wg.Wait()
}

func (d *Driver) buildRecord(n *nodeBaton) (NodeRecord, error) {
	if n.action == dumptypes.ActionReplace {
		action, err := d.validateReplace(n)
		if err != nil {
			return NodeRecord{}, err
		}
		n.action = action
	}
	props, propsChanged, err := d.resolveProps(n)
	if err != nil {
		return NodeRecord{}, err
	}
	contentPath, length, md5, textChanged, err := d.resolveContent(n)
	if err != nil {
		return NodeRecord{}, err
	}
	rec := NodeRecord{
		Path: n.path, Kind: n.kind, Action: n.action,
		PropsChanged: propsChanged, Props: props,
		TextChanged: textChanged, ContentPath: contentPath, ContentLength: length, MD5: md5,
	}
	if n.hasCopy && n.class == ClassCopy {
		rec.HasCopyFrom = true
		rec.CopyFromRev = n.copyLocal
		rec.CopyFromPath = n.copyRepoPath
	}
	return rec, nil
}

// validateReplace decides whether an apparent Replace is genuine (spec
// §4.5 "Replace validation"). With no copied ancestor it reduces to a
// plain existence check against the path repository's pre-revision
// state. Under a copied ancestor, a Replace is only genuine if the
// corresponding child already existed under the copy source at the
// revision the copy resolved to; if every copied ancestor's source
// lacks that child, the apparent predecessor is an artifact of the
// copy itself and the node is in fact a pure Add. A failed-copy
// ancestor falls back to the equivalent check one local revision back,
// since its source tree cannot be walked.
func (d *Driver) validateReplace(n *nodeBaton) (dumptypes.ChangedPathAction, error) {
	var ancestors []*nodeBaton
	for a := n.parent; a != nil; a = a.parent {
		if a.hasCopy && a.class != ClassNone {
			ancestors = append(ancestors, a)
		}
	}
	if len(ancestors) == 0 {
		ok, err := d.Repo.Exists(d.ctx, n.path, d.Repo.Head())
		if err != nil {
			return 0, err
		}
		if ok {
			return dumptypes.ActionReplace, nil
		}
		return dumptypes.ActionAdd, nil
	}
	for _, a := range ancestors {
		rel := strings.TrimPrefix(strings.TrimPrefix(n.path, a.path), "/")
		if a.class == ClassCopy {
			child := rel
			if a.copyRepoPath != "" {
				child = a.copyRepoPath + "/" + rel
			}
			ok, err := d.Repo.Exists(d.ctx, child, int64(a.copyLocal))
			if err != nil {
				return 0, err
			}
			if ok {
				return dumptypes.ActionReplace, nil
			}
			continue
		}
		if d.localRev == 0 {
			continue
		}
		ok, err := d.Repo.Exists(d.ctx, n.path, int64(d.localRev)-1)
		if err != nil {
			return 0, err
		}
		if ok {
			return dumptypes.ActionReplace, nil
		}
	}
	return dumptypes.ActionAdd, nil
}

// resolveProps computes the node's final property set, starting from the
// copy source's (for a fresh, unmodified copy target) or the node's own
// prior set (for a Modify), merges any ChangeProp calls on top, and
// stores the result back under the node's path. When nothing changed
// the result is changed=false: an unmodified copy still registers its
// source's property set under the new path, and any other node stores
// nothing, so a revision that only touches content does not rewrite or
// re-count the path's property set.
func (d *Driver) resolveProps(n *nodeBaton) (dumptypes.PropertySet, bool, error) {
	var baseline dumptypes.PropertySet
	var baselineFound bool
	var err error
	switch {
	case n.hasCopy && n.class == ClassCopy:
		baseline, baselineFound, err = d.Props.Peek(n.copyRepoPath)
	case n.action == dumptypes.ActionModify:
		baseline, baselineFound, err = d.Props.Peek(n.path)
	}
	if err != nil {
		return nil, false, err
	}

	hint, hasHint := d.mimeHints[n.path]
	if hasHint {
		if _, already := baseline[mimeTypeProp]; already {
			hasHint = false
		}
		if _, already := n.props[mimeTypeProp]; already {
			hasHint = false
		}
	}

	if !n.propsTouched && !hasHint {
		if n.hasCopy && n.class == ClassCopy && baselineFound {
			if err := d.Props.Store(n.path, baseline); err != nil {
				return nil, false, err
			}
		}
		return nil, false, nil
	}

	merged := baseline.Clone()
	if merged == nil {
		merged = dumptypes.PropertySet{}
	}
	for _, name := range n.deletedProps {
		delete(merged, name)
	}
	for k, v := range n.props {
		merged[k] = v
	}
	if hasHint {
		merged[mimeTypeProp] = []byte(hint)
	}
	if err := d.Props.Store(n.path, merged); err != nil {
		return nil, false, err
	}
	return merged, true, nil
}

// resolveContent determines the node's content for emission: newly
// applied text is read back from its content-cache temp file; an
// unmodified copy registers an alias under the new path without being
// re-emitted; anything else carries no content.
func (d *Driver) resolveContent(n *nodeBaton) (path string, length int64, md5 string, changed bool, err error) {
	if n.kind != dumptypes.KindFile {
		return "", 0, "", false, nil
	}
	if n.textTouched {
		p := d.Cache.SourcePath(n.path)
		fi, statErr := os.Stat(p)
		if statErr != nil {
			return "", 0, "", false, dumperr.Wrapf(dumperr.Storage, statErr, "stating cached content for %s", n.path)
		}
		return p, fi.Size(), d.Cache.Digest(n.path), true, nil
	}
	if n.hasCopy && n.class == ClassCopy {
		d.Cache.Alias(n.copyRepoPath, n.path)
	}
	return "", 0, "", false, nil
}
