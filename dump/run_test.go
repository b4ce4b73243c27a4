package dump

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jgehring/svndumpgen/dumpconfig"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/transport"
)

func newTestEngine(t *testing.T, f *transport.Fake, cfg dumpconfig.Config) (*Engine, *bytes.Buffer) {
	t.Helper()
	cfg.TempDir = t.TempDir()
	if cfg.DumpFormat == 0 {
		cfg.DumpFormat = 2
	}
	var buf bytes.Buffer
	w := NewWriter(&buf, cfg.EffectiveFormat())
	return &Engine{Cfg: cfg, Sess: f, Out: w}, &buf
}

func TestRunEmptyRepoWritesOnlyHeaderAndRevisionZero(t *testing.T) {
	f := transport.NewFake()
	e, buf := newTestEngine(t, f, dumpconfig.Config{
		URL: "fake://repo", End: dumptypes.HeadRev, FetchUUID: false,
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "SVN-fs-dump-format-version: 2\n\n"))
	assert.Contains(t, out, "Revision-number: 0\n")
	assert.NotContains(t, out, "UUID:")
}

func TestRunFullDumpEmitsAddedTreeAtRevisionOne(t *testing.T) {
	f := transport.NewFake()
	f.Commit("jre", "add trunk", []transport.Change{
		{Path: "trunk", Action: dumptypes.ActionAdd, Kind: dumptypes.KindDir},
		{Path: "trunk/a.txt", Action: dumptypes.ActionAdd, Kind: dumptypes.KindFile, Content: []byte("hello world")},
	})
	e, buf := newTestEngine(t, f, dumpconfig.Config{
		URL: "fake://repo", End: dumptypes.HeadRev, FetchUUID: false,
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	assert.Contains(t, out, "Revision-number: 0\n")
	assert.Contains(t, out, "Revision-number: 1\n")
	assert.Contains(t, out, "Node-path: trunk\n")
	assert.Contains(t, out, "Node-path: trunk/a.txt\n")
	assert.Contains(t, out, "Text-content-md5: 5eb63bbbe01eeed093cb22bb8f5acdc3\n")
	assert.Contains(t, out, "add trunk")
}

func TestRunFetchesUUIDWhenConfigured(t *testing.T) {
	f := transport.NewFake()
	e, buf := newTestEngine(t, f, dumpconfig.Config{
		URL: "fake://repo", End: dumptypes.HeadRev, FetchUUID: true,
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assert.Contains(t, buf.String(), "UUID:")
}

// TestWritePrefixDirsEmitsEachIntermediateSegmentOnce exercises user-prefix
// synthesis directly against a Writer (Fake models one flat, unscoped
// repository tree and cannot stand in for a real session opened against a
// prefixed URL, so the path-relativisation this depends on is not
// reproducible by driving the full Engine against it; see DESIGN.md).
func TestWritePrefixDirsEmitsEachIntermediateSegmentOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	e := &Engine{Out: w}
	segments := splitPrefix("import/project")
	assert.Equal(t, []string{"import", "project"}, segments)
	if err := e.writePrefixDirs(segments); err != nil {
		t.Fatalf("writePrefixDirs: %v", err)
	}
	w.Flush()
	out := buf.String()
	assert.Contains(t, out, "Node-path: import\n")
	assert.Contains(t, out, "Node-path: import/project\n")
	assert.Less(t, strings.Index(out, "Node-path: import\n"), strings.Index(out, "Node-path: import/project\n"), "the parent segment is written before its child")
}

func TestRunKeepRevnumsPadsSkippedRevisions(t *testing.T) {
	f := transport.NewFake()
	f.Commit("jre", "touch a", []transport.Change{
		{Path: "a", Action: dumptypes.ActionAdd, Kind: dumptypes.KindDir},
	})
	f.Commit("jre", "touch b", []transport.Change{
		{Path: "b", Action: dumptypes.ActionAdd, Kind: dumptypes.KindDir},
	})
	e, buf := newTestEngine(t, f, dumpconfig.Config{
		URL: "fake://repo", Start: 2, KeepRevnums: true, End: dumptypes.HeadRev, FetchUUID: false,
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "This is an empty revision for padding."), "local revisions 0 and 1 are skipped and padded")
	assert.Contains(t, out, "Revision-number: 2\n")
	assert.Contains(t, out, "Node-path: b\n")
	assert.NotContains(t, out, "Node-path: a\n")
}

func TestRunDryRunSuppressesOutputButStillWalksRevisions(t *testing.T) {
	f := transport.NewFake()
	f.Commit("jre", "add trunk", []transport.Change{
		{Path: "trunk", Action: dumptypes.ActionAdd, Kind: dumptypes.KindDir},
		{Path: "trunk/a.txt", Action: dumptypes.ActionAdd, Kind: dumptypes.KindFile, Content: []byte("hi")},
	})
	e, buf := newTestEngine(t, f, dumpconfig.Config{
		URL: "fake://repo", End: dumptypes.HeadRev, FetchUUID: false, DryRun: true,
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assert.Empty(t, buf.String())
}

func TestRunCleansUpTempDirOnSuccess(t *testing.T) {
	f := transport.NewFake()
	e, _ := newTestEngine(t, f, dumpconfig.Config{
		URL: "fake://repo", End: dumptypes.HeadRev, FetchUUID: false,
	})
	tempDir := e.Cfg.TempDir
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, statErr := filepath.Glob(filepath.Join(tempDir, "*"))
	if statErr != nil {
		t.Fatalf("Glob: %v", statErr)
	}
	matches, _ := filepath.Glob(filepath.Join(tempDir, "*"))
	assert.Empty(t, matches, "a successful run removes its temp state")
}
