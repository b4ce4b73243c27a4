package delta

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/pathrepo"
)

func TestResolveRule1WholeRepoNumberingCoincides(t *testing.T) {
	r := &CopyResolver{}
	res := r.Resolve("trunk/a.txt", dumptypes.RemoteRev(7))
	assert.Equal(t, ClassCopy, res.Class)
	assert.Equal(t, dumptypes.LocalRev(7), res.Local)
	assert.Equal(t, "trunk/a.txt", res.RepoPath)
}

func TestResolveIncrementalWithPrefixFallsThroughToRule2(t *testing.T) {
	// Rule 1 only fires when Prefix == "", so a non-empty prefix falls
	// through to rule 2/3 regardless of Incremental.
	revMap := &dumptypes.RevMap{}
	revMap.Append(dumptypes.LocalRev(6), dumptypes.RemoteRev(6))
	r := &CopyResolver{Prefix: "project", Incremental: true, Start: 5, End: 10, RevMap: revMap}
	res := r.Resolve("project/trunk/a.txt", dumptypes.RemoteRev(7))
	assert.Equal(t, ClassCopy, res.Class)
	assert.Equal(t, dumptypes.LocalRev(6), res.Local, "rule 2's rev-map lookup, not rule 1's local == remote")
}

func TestResolveRule2KeepRevnumsUsesRemoteAsLocal(t *testing.T) {
	r := &CopyResolver{
		Prefix:      "project",
		Start:       0,
		End:         10,
		KeepRevnums: true,
		RevMap:      &dumptypes.RevMap{},
	}
	res := r.Resolve("project/trunk/a.txt", dumptypes.RemoteRev(4))
	assert.Equal(t, ClassCopy, res.Class)
	assert.Equal(t, dumptypes.LocalRev(4), res.Local)
	assert.Equal(t, "trunk/a.txt", res.RepoPath)
}

func TestResolveRule2UsesRevMapWhenNotKeepingRevnums(t *testing.T) {
	revMap := &dumptypes.RevMap{}
	revMap.Append(dumptypes.LocalRev(1), dumptypes.RemoteRev(3))
	revMap.Append(dumptypes.LocalRev(2), dumptypes.RemoteRev(6))
	r := &CopyResolver{
		Prefix: "project",
		Start:  0,
		End:    10,
		RevMap: revMap,
	}
	res := r.Resolve("project/trunk/a.txt", dumptypes.RemoteRev(5))
	assert.Equal(t, ClassCopy, res.Class)
	assert.Equal(t, dumptypes.LocalRev(1), res.Local, "greatest local at or before remote rev 5 is local rev 1 (remote 3)")
	assert.Equal(t, "trunk/a.txt", res.RepoPath)
}

func TestResolveRule2FailedWhenNoRevMapEntryPrecedesSource(t *testing.T) {
	revMap := &dumptypes.RevMap{}
	revMap.Append(dumptypes.LocalRev(1), dumptypes.RemoteRev(9))
	r := &CopyResolver{
		Prefix: "project",
		Start:  0,
		End:    10,
		RevMap: revMap,
	}
	res := r.Resolve("project/trunk/a.txt", dumptypes.RemoteRev(5))
	assert.Equal(t, ClassFailed, res.Class)
}

func TestResolveRule2RootOfPrefixResolvesToEmptyRelativePath(t *testing.T) {
	r := &CopyResolver{
		Prefix:      "project",
		Start:       0,
		End:         10,
		KeepRevnums: true,
		RevMap:      &dumptypes.RevMap{},
	}
	res := r.Resolve("project", dumptypes.RemoteRev(1))
	assert.Equal(t, ClassCopy, res.Class)
	assert.Equal(t, "", res.RepoPath)
}

func TestResolveRule3FailedOutsideWhenPathOutsidePrefix(t *testing.T) {
	r := &CopyResolver{
		Prefix:      "project",
		Start:       0,
		End:         10,
		KeepRevnums: true,
		RevMap:      &dumptypes.RevMap{},
	}
	res := r.Resolve("vendor/readme", dumptypes.RemoteRev(5))
	assert.Equal(t, ClassFailedOutside, res.Class)
}

func TestResolveRule3FailedOutsideWhenRevisionOutsideRange(t *testing.T) {
	r := &CopyResolver{
		Prefix:      "project",
		Start:       5,
		End:         10,
		KeepRevnums: true,
		RevMap:      &dumptypes.RevMap{},
	}
	res := r.Resolve("project/trunk/a.txt", dumptypes.RemoteRev(2))
	assert.Equal(t, ClassFailedOutside, res.Class)
}

func TestResolveRejectsLookalikeSiblingPrefix(t *testing.T) {
	// "project-old" must not be treated as inside "project".
	r := &CopyResolver{
		Prefix:      "project",
		Start:       0,
		End:         10,
		KeepRevnums: true,
		RevMap:      &dumptypes.RevMap{},
	}
	res := r.Resolve("project-old/trunk", dumptypes.RemoteRev(1))
	assert.Equal(t, ClassFailedOutside, res.Class)
}

func TestPropagateFailedClassesInheritUnchanged(t *testing.T) {
	for _, class := range []CopyClass{ClassFailed, ClassFailedOutside} {
		parent := Resolution{Class: class}
		got, err := Propagate(context.Background(), nil, parent, "child.txt")
		if err != nil {
			t.Fatalf("Propagate: %v", err)
		}
		assert.Equal(t, class, got.Class)
	}
}

func TestPropagateNoneStaysNone(t *testing.T) {
	got, err := Propagate(context.Background(), nil, Resolution{Class: ClassNone}, "child.txt")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	assert.Equal(t, ClassNone, got.Class)
}

func TestPropagateCopyDescendsWhenChildExistedInSource(t *testing.T) {
	r, err := pathrepo.Open(filepath.Join(t.TempDir(), "paths.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	r.Add("trunk", dumptypes.KindDir)
	r.Add("trunk/a.txt", dumptypes.KindFile)
	if err := r.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	parent := Resolution{Class: ClassCopy, Local: dumptypes.LocalRev(1), RepoPath: "trunk"}
	got, err := Propagate(context.Background(), r, parent, "a.txt")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	assert.Equal(t, ClassCopy, got.Class)
	assert.Equal(t, dumptypes.LocalRev(1), got.Local)
	assert.Equal(t, "trunk/a.txt", got.RepoPath)
}

func TestPropagateCopyBecomesNoneWhenChildAbsentFromSource(t *testing.T) {
	r, err := pathrepo.Open(filepath.Join(t.TempDir(), "paths.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	r.Add("trunk", dumptypes.KindDir)
	if err := r.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	parent := Resolution{Class: ClassCopy, Local: dumptypes.LocalRev(1), RepoPath: "trunk"}
	got, err := Propagate(context.Background(), r, parent, "nonexistent.txt")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	assert.Equal(t, ClassNone, got.Class, "a path added this revision with no counterpart in the copy source starts fresh")
}

func TestPropagateRootCopyRepoPathEmpty(t *testing.T) {
	r, err := pathrepo.Open(filepath.Join(t.TempDir(), "paths.db"), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	r.Add("trunk", dumptypes.KindDir)
	if err := r.Commit(1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	parent := Resolution{Class: ClassCopy, Local: dumptypes.LocalRev(1), RepoPath: ""}
	got, err := Propagate(context.Background(), r, parent, "trunk")
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	assert.Equal(t, ClassCopy, got.Class)
	assert.Equal(t, "trunk", got.RepoPath)
}
