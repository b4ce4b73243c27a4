// Package transport defines the read-only remote operations the dump
// engine consumes (spec §6.3) and the streaming tree-editor callback
// protocol the remote drives against the engine (spec §4.5). The actual
// network client is an external collaborator and is not implemented here;
// Fake (in fake.go) is an in-memory stand-in used by tests.
package transport

import (
	"context"

	"github.com/jgehring/svndumpgen/dumptypes"
)

// LogReceiver is invoked once per revision while streaming a log range.
type LogReceiver func(entry dumptypes.LogEntry) error

// RemoteSession is the read-only network API the dump engine is built
// against. Every operation is a single synchronous round-trip; batching
// (GetLog with a range) is the only operation that streams multiple
// results through a callback.
type RemoteSession interface {
	// GetLog streams log entries for revisions start through end, both
	// inclusive (descending if start > end), restricted to paths. limit
	// bounds the number of entries; 0 means unbounded.
	GetLog(ctx context.Context, paths []string, start, end dumptypes.RemoteRev, limit int, discoverChangedPaths bool, fn LogReceiver) error

	// Stat returns the directory entry for path at rev, or nil if it does
	// not exist.
	Stat(ctx context.Context, path string, rev dumptypes.RemoteRev) (*dumptypes.Dirent, error)

	// CheckPath returns the kind of path at rev.
	CheckPath(ctx context.Context, path string, rev dumptypes.RemoteRev) (dumptypes.NodeKind, error)

	// GetUUID returns the repository's UUID.
	GetUUID(ctx context.Context) (string, error)

	// GetDir lists the immediate children of path at rev.
	GetDir(ctx context.Context, path string, rev dumptypes.RemoteRev) (map[string]*dumptypes.Dirent, error)

	// DoDiff drives editor through the tree-edit callbacks describing the
	// change from the session's current reported revision to targetRev,
	// after reporter.SetPath/FinishReport establish the comparison base.
	// All callbacks are invoked synchronously on the calling goroutine.
	DoDiff(ctx context.Context, targetRev dumptypes.RemoteRev, recurse, textDeltas bool, reporter Reporter, editor Editor) error
}

// Reporter paths the working-copy state the diff is computed against.
type Reporter interface {
	SetPath(path string, rev dumptypes.RemoteRev, startEmpty bool) error
	FinishReport() error
}

// NodeHandle is an opaque per-node token threaded through the editor
// callbacks, analogous to SVN's void* node batons.
type NodeHandle interface{}

// DeltaOpKind classifies a single instruction within a text-delta window.
type DeltaOpKind byte

const (
	// CopySource copies Length bytes from the source stream starting at Offset.
	CopySource DeltaOpKind = iota
	// CopyTarget copies Length bytes from the target-so-far starting at Offset.
	CopyTarget
	// CopyNew copies the next Length bytes from the window's new-data stream.
	CopyNew
)

// DeltaOp is one instruction of a text-delta window.
type DeltaOp struct {
	Kind   DeltaOpKind
	Offset int64
	Length int64
}

// TextDeltaWindow is one window of a streamed text delta. Windows are
// applied in the order received; NewData is consumed sequentially by
// CopyNew ops within the window.
type TextDeltaWindow struct {
	Ops     []DeltaOp
	NewData []byte
}

// WindowConsumer receives the windows of a single text-delta stream, in
// order, and is called with a nil window exactly once at the end of the
// stream to signal completion.
type WindowConsumer func(window *TextDeltaWindow) error

// Editor is the streaming tree-editor callback protocol the remote drives
// (spec §4.5). Implemented by *delta.Driver.
type Editor interface {
	SetTargetRevision(rev dumptypes.RemoteRev) error

	OpenRoot(baseRev dumptypes.RemoteRev) (NodeHandle, error)

	DeleteEntry(path string, baseRev dumptypes.RemoteRev, parent NodeHandle) error

	AddDirectory(path string, parent NodeHandle, copyFromPath string, copyFromRev dumptypes.RemoteRev) (NodeHandle, error)
	OpenDirectory(path string, parent NodeHandle, baseRev dumptypes.RemoteRev) (NodeHandle, error)
	ChangeDirProp(dir NodeHandle, name string, value []byte, isDelete bool) error
	CloseDirectory(dir NodeHandle) error
	AbsentDirectory(path string, parent NodeHandle) error

	AddFile(path string, parent NodeHandle, copyFromPath string, copyFromRev dumptypes.RemoteRev) (NodeHandle, error)
	OpenFile(path string, parent NodeHandle, baseRev dumptypes.RemoteRev) (NodeHandle, error)
	ApplyTextDelta(file NodeHandle, baseChecksum string) (WindowConsumer, error)
	ChangeFileProp(file NodeHandle, name string, value []byte, isDelete bool) error
	CloseFile(file NodeHandle, textChecksum string) error
	AbsentFile(path string, parent NodeHandle) error

	CloseEdit() error
	AbortEdit() error
}
