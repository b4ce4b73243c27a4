// Package dumptypes holds the data model shared by every component of the
// dump engine: revision numbers on both numbering planes, changed-path
// entries as reported by the log service, node kinds, and property sets.
package dumptypes

// RemoteRev is a revision number as reported by the remote server.
type RemoteRev int64

// LocalRev is a revision number as emitted in the dumpstream. The two
// planes coincide only in specific, narrow circumstances (see the copy
// resolver's resolution rules); keeping them as distinct types prevents
// accidentally comparing or assigning one for the other.
type LocalRev int64

// HeadRev is the sentinel remote revision meaning "the server's current
// HEAD", resolved by the dump writer before the revision loop starts.
const HeadRev RemoteRev = -1

// ChangedPathAction classifies how a path was affected in a revision.
type ChangedPathAction byte

const (
	ActionAdd     ChangedPathAction = 'A'
	ActionDelete  ChangedPathAction = 'D'
	ActionReplace ChangedPathAction = 'R'
	ActionModify  ChangedPathAction = 'M'
)

func (a ChangedPathAction) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionDelete:
		return "delete"
	case ActionReplace:
		return "replace"
	case ActionModify:
		return "change"
	default:
		return "unknown"
	}
}

// ChangedPath is a single entry in a log entry's changed-paths map.
type ChangedPath struct {
	Path         string
	Action       ChangedPathAction
	CopyFromPath string
	CopyFromRev  RemoteRev
}

// HasCopyFrom reports whether this entry carries copy-source information.
func (c ChangedPath) HasCopyFrom() bool {
	return c.CopyFromPath != "" || c.CopyFromRev != 0
}

// NodeKind distinguishes files from directories.
type NodeKind byte

const (
	KindFile NodeKind = iota
	KindDir
)

func (k NodeKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// PropertySet is an unordered mapping from property name to property
// value. Values are raw bytes: properties are not guaranteed to be UTF-8.
type PropertySet map[string][]byte

// Clone returns a deep copy of the property set.
func (p PropertySet) Clone() PropertySet {
	if p == nil {
		return nil
	}
	out := make(PropertySet, len(p))
	for k, v := range p {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// LogEntry is the per-revision metadata produced by the log service.
type LogEntry struct {
	RemoteRev    RemoteRev
	Author       string
	Date         string
	Message      string
	HasAuthor    bool
	HasDate      bool
	HasMessage   bool
	ChangedPaths map[string]ChangedPath
}

// RevMapEntry binds one emitted local revision to the remote revision it
// was produced from.
type RevMapEntry struct {
	Local  LocalRev
	Remote RemoteRev
}

// RevMap is the ordered, append-only sequence indexed by local revision
// that is the authoritative translation table between the local and
// remote numbering planes (spec §3).
type RevMap struct {
	entries []RevMapEntry
}

// Append records that localRev was produced from remoteRev. Local
// revisions must be appended in increasing order.
func (m *RevMap) Append(local LocalRev, remote RemoteRev) {
	m.entries = append(m.entries, RevMapEntry{Local: local, Remote: remote})
}

// RemoteFor returns the remote revision local was produced from.
func (m *RevMap) RemoteFor(local LocalRev) (RemoteRev, bool) {
	for _, e := range m.entries {
		if e.Local == local {
			return e.Remote, true
		}
	}
	return 0, false
}

// GreatestLocalAtOrBefore returns the entry with the greatest local
// revision whose remote revision is <= remote, used by the copy resolver
// to find the "latest known" local copy source for a remote revision.
func (m *RevMap) GreatestLocalAtOrBefore(remote RemoteRev) (RevMapEntry, bool) {
	best := RevMapEntry{}
	found := false
	for _, e := range m.entries {
		if e.Remote <= remote && (!found || e.Local > best.Local) {
			best, found = e, true
		}
	}
	return best, found
}

// Last returns the most recently appended entry.
func (m *RevMap) Last() (RevMapEntry, bool) {
	if len(m.entries) == 0 {
		return RevMapEntry{}, false
	}
	return m.entries[len(m.entries)-1], true
}

// Dirent describes a single remote directory entry returned by Stat/GetDir.
type Dirent struct {
	Kind         NodeKind
	CreatedRev   RemoteRev
	Size         int64
	HasProps     bool
}
