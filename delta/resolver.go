// Package delta implements the delta editor driver (spec component C5)
// and copy resolver (spec component C6), grounded in full on
// original_source/src/delta.c.
package delta

import (
	"context"
	"strings"

	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/pathrepo"
)

// CopyClass is the copy resolver's classification of a copy operation.
type CopyClass int

const (
	ClassNone CopyClass = iota
	ClassCopy
	ClassFailed
	ClassFailedOutside
)

// isFailed reports whether the class is Failed or FailedOutside; per
// spec §4.6 propagation, both inherit unchanged down a subtree.
func (c CopyClass) isFailed() bool {
	return c == ClassFailed || c == ClassFailedOutside
}

// Resolution is the outcome of classifying a copy source.
type Resolution struct {
	Class    CopyClass
	Local    dumptypes.LocalRev
	RepoPath string // local path the copy resolves to, when Class == ClassCopy
}

// CopyResolver maps a remote copy source to a local resolution, using the
// path repository and revision map (spec §4.6).
type CopyResolver struct {
	Prefix         string
	Start          dumptypes.RemoteRev
	End            dumptypes.RemoteRev
	Incremental    bool
	KeepRevnums    bool
	RevMap         *dumptypes.RevMap
}

// Resolve classifies a copy from (remotePath, remoteRev).
//
// Rule 1: if Prefix is empty and (Start == 0 or Incremental), the local
// and remote numbering planes coincide.
//
// Rule 2: else if the revision range covers the source and Prefix is a
// prefix of remotePath, the greatest local revision whose remote revision
// is <= remoteRev is the resolved source; if KeepRevnums, local == remote
// instead. No match is Failed.
//
// Rule 3: else FailedOutside.
func (r *CopyResolver) Resolve(remotePath string, remoteRev dumptypes.RemoteRev) Resolution {
	if r.Prefix == "" && (r.Start == 0 || r.Incremental) {
		return Resolution{Class: ClassCopy, Local: dumptypes.LocalRev(remoteRev), RepoPath: remotePath}
	}
	if r.withinRange(remoteRev) && r.insidePrefix(remotePath) {
		rel := r.relative(remotePath)
		if r.KeepRevnums {
			return Resolution{Class: ClassCopy, Local: dumptypes.LocalRev(remoteRev), RepoPath: rel}
		}
		entry, ok := r.RevMap.GreatestLocalAtOrBefore(remoteRev)
		if !ok {
			return Resolution{Class: ClassFailed}
		}
		return Resolution{Class: ClassCopy, Local: entry.Local, RepoPath: rel}
	}
	return Resolution{Class: ClassFailedOutside}
}

func (r *CopyResolver) withinRange(remoteRev dumptypes.RemoteRev) bool {
	lo, hi := r.Start, r.End
	if lo > hi {
		lo, hi = hi, lo
	}
	return remoteRev >= lo && remoteRev <= hi
}

func (r *CopyResolver) insidePrefix(path string) bool {
	if r.Prefix == "" {
		return true
	}
	return path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/")
}

func (r *CopyResolver) relative(path string) string {
	if r.Prefix == "" {
		return path
	}
	if path == r.Prefix {
		return ""
	}
	return strings.TrimPrefix(path, r.Prefix+"/")
}

// Propagate decides the copy classification a child inherits from its
// parent (spec §4.6). The driver calls it from OpenDirectory/OpenFile,
// for children that carry no copy info of their own; a child added with
// its own copy info is classified by Resolve instead. Failed
// classifications always inherit unchanged.
func Propagate(ctx context.Context, repo *pathrepo.Repo, parent Resolution, childBasename string) (Resolution, error) {
	if parent.Class.isFailed() {
		return parent, nil
	}
	if parent.Class != ClassCopy {
		return Resolution{Class: ClassNone}, nil
	}
	ok, err := repo.ParentOf(ctx, parent.RepoPath, childBasename, int64(parent.Local))
	if err != nil {
		return Resolution{}, err
	}
	if !ok {
		return Resolution{Class: ClassNone}, nil
	}
	childRel := childBasename
	if parent.RepoPath != "" {
		childRel = parent.RepoPath + "/" + childBasename
	}
	return Resolution{Class: ClassCopy, Local: parent.Local, RepoPath: childRel}, nil
}
