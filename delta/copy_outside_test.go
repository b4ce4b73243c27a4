package delta

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/pathrepo"
	"github.com/jgehring/svndumpgen/transport"
)

// TestCommitLogMaterialisesOutsideCopyAtLogRevision exercises the decision
// recorded for the spec's Open Question on outside-prefix copy
// materialisation: the copy source's tree is walked at the log's remote
// revision, not at the copy's own CopyFromRev. vendor/sub is copied from
// its state at revision 1, but the log entry performing the copy is
// recorded at revision 2, by which point the source gained a second file.
// The materialised copy must include that later addition.
func TestCommitLogMaterialisesOutsideCopyAtLogRevision(t *testing.T) {
	f := transport.NewFake()
	f.Commit("jre", "create vendor/sub/a.txt", []transport.Change{
		{Path: "vendor", Action: dumptypes.ActionAdd, Kind: dumptypes.KindDir},
		{Path: "vendor/sub", Action: dumptypes.ActionAdd, Kind: dumptypes.KindDir},
		{Path: "vendor/sub/a.txt", Action: dumptypes.ActionAdd, Kind: dumptypes.KindFile, Content: []byte("a")},
	})
	f.Commit("jre", "add vendor/sub/b.txt", []transport.Change{
		{Path: "vendor/sub/b.txt", Action: dumptypes.ActionAdd, Kind: dumptypes.KindFile, Content: []byte("b")},
	})

	r, err := pathrepo.Open(filepath.Join(t.TempDir(), "paths.db"), "project")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	entry := dumptypes.LogEntry{
		RemoteRev: 2,
		ChangedPaths: map[string]dumptypes.ChangedPath{
			"project": {
				Path: "project", Action: dumptypes.ActionAdd,
				CopyFromPath: "vendor/sub", CopyFromRev: 1,
			},
		},
	}
	kindOf := func(string) dumptypes.NodeKind { return dumptypes.KindFile }
	if err := r.CommitLog(context.Background(), f, entry, 1, &dumptypes.RevMap{}, kindOf); err != nil {
		t.Fatalf("CommitLog: %v", err)
	}

	ctx := context.Background()
	ok, err := r.Exists(ctx, "project/a.txt", 1)
	if err != nil {
		t.Fatalf("Exists a.txt: %v", err)
	}
	assert.True(t, ok, "the copy source's original file must be present")

	ok, err = r.Exists(ctx, "project/b.txt", 1)
	if err != nil {
		t.Fatalf("Exists b.txt: %v", err)
	}
	assert.True(t, ok, "materialisation must reflect the source as of the log's revision (2), not CopyFromRev (1)")
}
