// Package dump implements the top-level dump writer and revision loop
// (spec component C7): dumpstream header/UUID emission, the revision
// loop driving the remote's diff through the delta editor, padding
// revisions, and user-prefix synthesis. Writer is adapted from the
// teacher's journal.Journal (a struct wrapping an io.Writer with one
// method per record kind and a fixed preamble writer).
package dump

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/jgehring/svndumpgen/delta"
	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/obfuscate"
)

const paddingMessage = "This is an empty revision for padding."

// Writer renders the dumpstream wire format (spec §6.1) to an
// underlying io.Writer. It satisfies delta.Emitter so a *delta.Driver can
// hand it resolved node records directly.
type Writer struct {
	out    *bufio.Writer
	Format int    // 2 or 3
	Prefix string // user path prefix, joined onto every emitted path

	// DryRun suppresses all byte output while still being called through
	// the normal revision loop and editor drive, so C1/C2/C3 are primed
	// exactly as a real revision would leave them (spec §4.7 step 4).
	DryRun bool

	// Filter rewrites author/log/property values before emission.
	// Defaults to obfuscate.None{} (no rewriting) when left nil.
	Filter obfuscate.Filter
}

// NewWriter wraps w. format must be 2 or 3.
func NewWriter(w io.Writer, format int) *Writer {
	return &Writer{out: bufio.NewWriter(w), Format: format, Filter: obfuscate.None{}}
}

func (w *Writer) filter() obfuscate.Filter {
	if w.Filter == nil {
		return obfuscate.None{}
	}
	return w.Filter
}

// WriteHeader emits the dumpstream magic line and, if uuid is non-empty,
// the UUID line.
func (w *Writer) WriteHeader(uuid string) error {
	if w.DryRun {
		return nil
	}
	if _, err := fmt.Fprintf(w.out, "SVN-fs-dump-format-version: %d\n\n", w.Format); err != nil {
		return dumperr.Wrap(dumperr.Storage, err, "writing dumpstream header")
	}
	if uuid != "" {
		if _, err := fmt.Fprintf(w.out, "UUID: %s\n\n", uuid); err != nil {
			return dumperr.Wrap(dumperr.Storage, err, "writing UUID line")
		}
	}
	return nil
}

// WriteRevisionHeader writes the Revision-number/Prop-content-length/
// Content-length lines and the properties block for one revision.
func (w *Writer) WriteRevisionHeader(rev dumptypes.LocalRev, props dumptypes.PropertySet) error {
	if w.DryRun {
		return nil
	}
	blob := encodeProps(props, nil, w.Format)
	if _, err := fmt.Fprintf(w.out, "Revision-number: %d\nProp-content-length: %d\nContent-length: %d\n\n", rev, len(blob), len(blob)); err != nil {
		return dumperr.Wrap(dumperr.Storage, err, "writing revision header")
	}
	if err := w.WritePropsBlock(blob); err != nil {
		return err
	}
	_, err := w.out.WriteString("\n")
	return err
}

// WritePropsBlock writes an already-encoded properties block verbatim.
func (w *Writer) WritePropsBlock(blob []byte) error {
	if w.DryRun {
		return nil
	}
	_, err := w.out.Write(blob)
	return err
}

// WritePadding emits a synthetic empty revision with the fixed padding
// log message and no changed paths (spec §4.7 "Padding revisions").
func (w *Writer) WritePadding(rev dumptypes.LocalRev) error {
	props := dumptypes.PropertySet{"svn:log": []byte(paddingMessage)}
	return w.WriteRevisionHeader(rev, props)
}

// revisionProps builds the standard svn:author/svn:date/svn:log triple
// from a log entry, honouring each Has* flag independently and passing
// author/message through the configured obfuscation filter.
func (w *Writer) revisionProps(entry dumptypes.LogEntry) dumptypes.PropertySet {
	props := dumptypes.PropertySet{}
	if entry.HasAuthor {
		props["svn:author"] = []byte(w.filter().Author(entry.Author))
	}
	if entry.HasDate {
		props["svn:date"] = []byte(entry.Date)
	}
	if entry.HasMessage {
		props["svn:log"] = []byte(w.filter().Log(entry.Message))
	}
	return props
}

// WriteRevisionFor is a convenience wrapper deriving the revision
// properties from a fetched log entry.
func (w *Writer) WriteRevisionFor(rev dumptypes.LocalRev, entry dumptypes.LogEntry) error {
	return w.WriteRevisionHeader(rev, w.revisionProps(entry))
}

func (w *Writer) path(p string) string {
	if w.Prefix == "" || p == "" {
		if w.Prefix == "" {
			return p
		}
		return w.Prefix
	}
	return w.Prefix + "/" + p
}

// WriteSyntheticDirAdd emits a bare, propertyless directory-add record at
// path taken verbatim (no user-prefix join: path is itself one of the
// prefix's own intermediate segments), used once per intermediate
// segment of the user prefix at local revision 1 (spec §4.7 "User
// prefix").
func (w *Writer) WriteSyntheticDirAdd(path string) error {
	return w.emitNode(delta.NodeRecord{Path: path, Kind: dumptypes.KindDir, Action: dumptypes.ActionAdd}, path)
}

// EmitNode implements delta.Emitter: it renders one fully resolved node
// record per spec §6.1's node-record format and §4.5 step 7's emission
// rule (a record with no own property or text change, reached only via
// an unmodified copy, carries Content-length: 0 and no payload at all).
func (w *Writer) EmitNode(rec delta.NodeRecord) error {
	return w.emitNode(rec, w.path(rec.Path))
}

func (w *Writer) emitNode(rec delta.NodeRecord, path string) error {
	if w.DryRun {
		return nil
	}
	var header []byte
	header = append(header, []byte(fmt.Sprintf("Node-path: %s\n", path))...)
	if rec.Action != dumptypes.ActionDelete {
		header = append(header, []byte(fmt.Sprintf("Node-kind: %s\n", kindWord(rec.Kind)))...)
	}
	header = append(header, []byte(fmt.Sprintf("Node-action: %s\n", rec.Action.String()))...)
	if rec.HasCopyFrom {
		header = append(header, []byte(fmt.Sprintf("Node-copyfrom-rev: %d\n", rec.CopyFromRev))...)
		header = append(header, []byte(fmt.Sprintf("Node-copyfrom-path: %s\n", w.path(rec.CopyFromPath)))...)
	}

	if rec.Action == dumptypes.ActionDelete {
		header = append(header, '\n', '\n')
		_, err := w.out.Write(header)
		return err
	}

	includeProps := !(rec.HasCopyFrom && !rec.PropsChanged && !rec.TextChanged)
	var propsBlob []byte
	if includeProps {
		propsBlob = encodeProps(w.filter().Props(rec.Path, rec.Props), nil, w.Format)
		header = append(header, []byte(fmt.Sprintf("Prop-content-length: %d\n", len(propsBlob)))...)
	}

	var textBlob []byte
	if rec.TextChanged {
		data, err := os.ReadFile(rec.ContentPath)
		if err != nil {
			return dumperr.Wrapf(dumperr.Storage, err, "reading staged content for %s", rec.Path)
		}
		textBlob = data
		header = append(header, []byte(fmt.Sprintf("Text-content-length: %d\n", len(textBlob)))...)
		header = append(header, []byte(fmt.Sprintf("Text-content-md5: %s\n", rec.MD5))...)
	}

	header = append(header, []byte(fmt.Sprintf("Content-length: %d\n\n", len(propsBlob)+len(textBlob)))...)
	if _, err := w.out.Write(header); err != nil {
		return dumperr.Wrap(dumperr.Storage, err, "writing node header")
	}
	if err := w.WritePropsBlock(propsBlob); err != nil {
		return err
	}
	if _, err := w.out.Write(textBlob); err != nil {
		return dumperr.Wrap(dumperr.Storage, err, "writing node content")
	}
	_, err := w.out.WriteString("\n\n")
	return err
}

func kindWord(k dumptypes.NodeKind) string {
	if k == dumptypes.KindDir {
		return "dir"
	}
	return "file"
}

// Flush flushes any buffered output to the underlying writer.
func (w *Writer) Flush() error {
	return w.out.Flush()
}
