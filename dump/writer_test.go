package dump

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jgehring/svndumpgen/delta"
	"github.com/jgehring/svndumpgen/dumptypes"
)

func writeStagedContent(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "staged")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestWriteHeaderWithAndWithoutUUID(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 3)
	if err := w.WriteHeader("abc-123"); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	w.Flush()
	assert.Equal(t, "SVN-fs-dump-format-version: 3\n\nUUID: abc-123\n\n", buf.String())

	buf.Reset()
	w2 := NewWriter(&buf, 2)
	if err := w2.WriteHeader(""); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	w2.Flush()
	assert.Equal(t, "SVN-fs-dump-format-version: 2\n\n", buf.String())
}

func TestWritePaddingUsesFixedLogMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	if err := w.WritePadding(dumptypes.LocalRev(4)); err != nil {
		t.Fatalf("WritePadding: %v", err)
	}
	w.Flush()
	assert.Contains(t, buf.String(), "Revision-number: 4\n")
	assert.Contains(t, buf.String(), "This is an empty revision for padding.")
}

func TestWriteRevisionForHonoursHasFlagsIndependently(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	entry := dumptypes.LogEntry{
		RemoteRev: 5, Author: "jre", HasAuthor: true, HasMessage: true, Message: "did a thing",
	}
	if err := w.WriteRevisionFor(dumptypes.LocalRev(5), entry); err != nil {
		t.Fatalf("WriteRevisionFor: %v", err)
	}
	w.Flush()
	out := buf.String()
	assert.Contains(t, out, "svn:author")
	assert.Contains(t, out, "svn:log")
	assert.NotContains(t, out, "svn:date", "HasDate is false so no svn:date property is emitted")
}

func TestEmitNodeDeleteOmitsKindAndBody(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	if err := w.EmitNode(delta.NodeRecord{Path: "trunk/a.txt", Action: dumptypes.ActionDelete}); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	assert.Equal(t, "Node-path: trunk/a.txt\nNode-action: delete\n\n\n", buf.String())
}

func TestEmitNodeNonDeleteEndsWithTwoNewlines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	rec := delta.NodeRecord{Path: "trunk", Kind: dumptypes.KindDir, Action: dumptypes.ActionAdd}
	if err := w.EmitNode(rec); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	want := "Node-path: trunk\nNode-kind: dir\nNode-action: add\n" +
		"Prop-content-length: 10\nContent-length: 10\n\n" +
		"PROPS-END\n" + "\n\n"
	assert.Equal(t, want, buf.String(), "the content block is followed by two newlines")
}

func TestEmitNodeNonCopyAlwaysIncludesPropsBlock(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	rec := delta.NodeRecord{Path: "trunk", Kind: dumptypes.KindDir, Action: dumptypes.ActionAdd}
	if err := w.EmitNode(rec); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	out := buf.String()
	assert.Contains(t, out, "Prop-content-length: 10\n", "an empty property set still costs the 10-byte PROPS-END sentinel")
	assert.Contains(t, out, "Content-length: 10\n")
}

func TestEmitNodeUnmodifiedCopySuppressesPropsAndBody(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	rec := delta.NodeRecord{
		Path: "branches/b1/a.txt", Kind: dumptypes.KindFile, Action: dumptypes.ActionAdd,
		HasCopyFrom: true, CopyFromRev: 3, CopyFromPath: "trunk/a.txt",
	}
	if err := w.EmitNode(rec); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	out := buf.String()
	assert.NotContains(t, out, "Prop-content-length")
	assert.Contains(t, out, "Content-length: 0\n")
	assert.Contains(t, out, "Node-copyfrom-rev: 3\n")
	assert.Contains(t, out, "Node-copyfrom-path: trunk/a.txt\n")
}

func TestEmitNodeCopyWithPropChangeIncludesPropsBlock(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	rec := delta.NodeRecord{
		Path: "branches/b1/a.txt", Kind: dumptypes.KindFile, Action: dumptypes.ActionAdd,
		HasCopyFrom: true, CopyFromRev: 3, CopyFromPath: "trunk/a.txt",
		PropsChanged: true, Props: dumptypes.PropertySet{"svn:eol-style": []byte("native")},
	}
	if err := w.EmitNode(rec); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	assert.Contains(t, buf.String(), "Prop-content-length")
}

func TestEmitNodeWritesTextAndMD5Header(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	content := writeStagedContent(t, []byte("hello world"))
	rec := delta.NodeRecord{
		Path: "trunk/a.txt", Kind: dumptypes.KindFile, Action: dumptypes.ActionAdd,
		TextChanged: true, ContentPath: content, ContentLength: 11, MD5: "5eb63bbbe01eeed093cb22bb8f5acdc3",
	}
	if err := w.EmitNode(rec); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	out := buf.String()
	assert.Contains(t, out, "Text-content-length: 11\n")
	assert.Contains(t, out, "Text-content-md5: 5eb63bbbe01eeed093cb22bb8f5acdc3\n")
	assert.Contains(t, out, "hello world")
}

func TestEmitNodeAppliesUserPrefixToPathAndCopyFrom(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	w.Prefix = "import"
	rec := delta.NodeRecord{
		Path: "trunk/a.txt", Kind: dumptypes.KindFile, Action: dumptypes.ActionAdd,
		HasCopyFrom: true, CopyFromRev: 1, CopyFromPath: "trunk/old.txt",
	}
	if err := w.EmitNode(rec); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	out := buf.String()
	assert.Contains(t, out, "Node-path: import/trunk/a.txt\n")
	assert.Contains(t, out, "Node-copyfrom-path: import/trunk/old.txt\n")
}

func TestWriteSyntheticDirAddDoesNotApplyUserPrefix(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	w.Prefix = "import"
	if err := w.WriteSyntheticDirAdd("import"); err != nil {
		t.Fatalf("WriteSyntheticDirAdd: %v", err)
	}
	w.Flush()
	out := buf.String()
	assert.Contains(t, out, "Node-path: import\n")
	assert.NotContains(t, out, "import/import")
}

func TestDryRunSuppressesAllOutput(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 2)
	w.DryRun = true
	if err := w.WriteHeader("uuid"); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := w.WriteRevisionFor(dumptypes.LocalRev(1), dumptypes.LogEntry{}); err != nil {
		t.Fatalf("WriteRevisionFor: %v", err)
	}
	if err := w.EmitNode(delta.NodeRecord{Path: "trunk", Kind: dumptypes.KindDir, Action: dumptypes.ActionAdd}); err != nil {
		t.Fatalf("EmitNode: %v", err)
	}
	w.Flush()
	assert.Empty(t, buf.String())
}
