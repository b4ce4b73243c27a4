// Command svndumpverify is a debug tool that exercises the path
// repository's two core invariants against a live remote session,
// without writing a dumpstream:
//
//  1. at every committed revision, the set of paths path_repo reports
//     live matches a fresh recursive walk of the remote tree at the
//     corresponding remote revision;
//  2. reconstructing a revision via the nearest-snapshot shortcut
//     produces exactly the same set of paths as replaying every
//     committed delta from revision 0 with no shortcut taken.
//
// Grounded on original_source's path_repo_test_all and path_hash_test,
// which walk a real repository and assert both properties revision by
// revision rather than against canned fixtures.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/pathrepo"
	"github.com/jgehring/svndumpgen/svnlog"
	"github.com/jgehring/svndumpgen/transport"
)

var (
	app     = kingpin.New("svndumpverify", "Verify path-repository invariants against a live remote session.")
	url     = app.Arg("url", "Repository URL, optionally including a subdirectory.").Required().String()
	prefix  = app.Flag("prefix", "Subdirectory within the repository to restrict the walk to.").String()
	start   = app.Flag("start", "First remote revision to verify.").Default("0").Int64()
	end     = app.Flag("end", "Last remote revision to verify (-1 for HEAD).").Default("-1").Int64()
	tempDir = app.Flag("temp-dir", "Scratch directory for the path-repository database.").Default(os.TempDir()).String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	logger := logrus.StandardLogger()

	sess, err := newRemoteSession(*url)
	if err != nil {
		logger.Fatal(err)
	}

	dir, err := os.MkdirTemp(*tempDir, "svndumpverify-")
	if err != nil {
		logger.Fatalf("creating scratch directory: %v", err)
	}
	defer os.RemoveAll(dir)

	repo, err := pathrepo.Open(filepath.Join(dir, "paths.db"), *prefix)
	if err != nil {
		logger.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	logSvc := svnlog.Service{Sess: sess, Prefix: *prefix, Logger: logger}

	endRev := dumptypes.RemoteRev(*end)
	if endRev == dumptypes.HeadRev {
		_, head, rerr := logSvc.RangeOf(ctx)
		if rerr != nil {
			logger.Fatal(rerr)
		}
		endRev = head
	}
	startRev := dumptypes.RemoteRev(*start)

	entries, err := logSvc.FetchAll(ctx, startRev, endRev, nil)
	if err != nil {
		logger.Fatal(err)
	}

	revmap := &dumptypes.RevMap{}
	failures := 0
	local := dumptypes.LocalRev(0)
	for _, entry := range entries {
		kindOf := func(path string) dumptypes.NodeKind {
			kind, cerr := sess.CheckPath(ctx, path, entry.RemoteRev)
			if cerr != nil {
				logger.Warnf("CheckPath(%s@%d) failed during verification, assuming file: %v", path, entry.RemoteRev, cerr)
				return dumptypes.KindFile
			}
			return kind
		}
		if err := repo.CommitLog(ctx, sess, entry, int64(local), revmap, kindOf); err != nil {
			logger.Fatalf("replaying revision %d: %v", entry.RemoteRev, err)
		}
		revmap.Append(local, entry.RemoteRev)

		if !checkGroundTruth(ctx, repo, sess, int64(local), entry.RemoteRev, *prefix, logger) {
			failures++
		}
		if !checkNoShortcut(repo, int64(local), logger) {
			failures++
		}
		local++
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "svndumpverify: %d invariant failure(s)\n", failures)
		os.Exit(1)
	}
	fmt.Printf("svndumpverify: %d revisions verified, no invariant failures\n", len(entries))
}

// checkGroundTruth verifies invariant 1: exists(p, r) for every p agrees
// with a fresh recursive walk of the remote tree at remoteRev.
func checkGroundTruth(ctx context.Context, repo *pathrepo.Repo, sess transport.RemoteSession, local int64, remoteRev dumptypes.RemoteRev, prefix string, logger *logrus.Logger) bool {
	want, err := transport.FetchSubtree(ctx, sess, prefix, remoteRev)
	if err != nil {
		logger.Errorf("fetching ground truth at remote revision %d: %v", remoteRev, err)
		return false
	}
	got, err := repo.Snapshot(ctx, local)
	if err != nil {
		logger.Errorf("reading path-repo snapshot at local revision %d: %v", local, err)
		return false
	}
	return compareSets(fmt.Sprintf("local %d / remote %d", local, remoteRev), relativeEntries(want, prefix), got, logger)
}

// checkNoShortcut verifies invariant 7: reconstructing local via the
// snapshot shortcut matches a from-scratch replay of every delta.
func checkNoShortcut(repo *pathrepo.Repo, local int64, logger *logrus.Logger) bool {
	want, err := repo.ReconstructNoShortcut(local)
	if err != nil {
		logger.Errorf("reconstructing local revision %d without shortcut: %v", local, err)
		return false
	}
	got, err := repo.Snapshot(context.Background(), local)
	if err != nil {
		logger.Errorf("reading path-repo snapshot at local revision %d: %v", local, err)
		return false
	}
	return compareSets(fmt.Sprintf("local %d shortcut vs no-shortcut", local), want, got, logger)
}

func relativeEntries(entries []transport.SubtreeEntry, prefix string) []pathrepo.PathEntry {
	out := make([]pathrepo.PathEntry, 0, len(entries))
	for _, e := range entries {
		p := e.Path
		if p == prefix {
			continue
		}
		if prefix != "" {
			p = p[len(prefix)+1:]
		}
		out = append(out, pathrepo.PathEntry{Path: p, Kind: e.Kind})
	}
	return out
}

func compareSets(label string, want, got []pathrepo.PathEntry, logger *logrus.Logger) bool {
	sort.Slice(want, func(i, j int) bool { return want[i].Path < want[j].Path })
	sort.Slice(got, func(i, j int) bool { return got[i].Path < got[j].Path })
	if len(want) != len(got) {
		logger.Errorf("%s: path count mismatch: want %d, got %d", label, len(want), len(got))
		return false
	}
	ok := true
	for i := range want {
		if want[i] != got[i] {
			logger.Errorf("%s: mismatch at index %d: want %+v, got %+v", label, i, want[i], got[i])
			ok = false
		}
	}
	return ok
}

// newRemoteSession is the same network seam as cmd/svndumpgen; left
// unwired here too since the transport is an external collaborator.
func newRemoteSession(url string) (transport.RemoteSession, error) {
	return nil, fmt.Errorf("no network transport wired for %q: provide a transport.RemoteSession implementation", url)
}
