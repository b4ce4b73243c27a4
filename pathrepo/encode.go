package pathrepo

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/pkg/errors"
)

// opKind distinguishes a staged add from a staged delete in a delta blob.
type opKind byte

const (
	opAdd    opKind = '+'
	opDelete opKind = '-'
)

type stagedOp struct {
	kind opKind
	path string
	pk   dumptypes.NodeKind
}

// encodeSnapshot serialises the full set of live paths as a sequence of
// add operations. encodeDelta serialises the staged operations as
// recorded. Both use explicit little-endian u32 length prefixes per the
// byte-order recommendation in the spec's design notes, so the blob
// format is portable across platforms; snappy-compressed when it shrinks
// the result.
func encodeSnapshot(w *worktree) []byte {
	entries := w.allPaths()
	ops := make([]stagedOp, len(entries))
	for i, e := range entries {
		ops[i] = stagedOp{kind: opAdd, path: e.path, pk: e.kind}
	}
	return compress(encodeOps(ops))
}

func encodeDelta(ops []stagedOp) []byte {
	return compress(encodeOps(ops))
}

func encodeOps(ops []stagedOp) []byte {
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, op := range ops {
		buf.WriteByte(byte(op.kind))
		buf.WriteByte(byte(op.pk))
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(op.path)))
		buf.Write(lenBuf[:])
		buf.WriteString(op.path)
	}
	return buf.Bytes()
}

func decodeOps(data []byte) ([]stagedOp, error) {
	var out []stagedOp
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var hdr [6]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, errors.Wrap(err, "truncated path-repo blob")
		}
		plen := binary.LittleEndian.Uint32(hdr[2:6])
		pathBytes := make([]byte, plen)
		if _, err := io.ReadFull(r, pathBytes); err != nil {
			return nil, errors.Wrap(err, "truncated path-repo blob path")
		}
		out = append(out, stagedOp{kind: opKind(hdr[0]), pk: dumptypes.NodeKind(hdr[1]), path: string(pathBytes)})
	}
	return out, nil
}

const compressedMarker = 0x01
const rawMarker = 0x00

func compress(data []byte) []byte {
	enc := snappy.Encode(nil, data)
	if len(enc)+1 < len(data) {
		return append([]byte{compressedMarker}, enc...)
	}
	return append([]byte{rawMarker}, data...)
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	marker, body := data[0], data[1:]
	switch marker {
	case compressedMarker:
		return snappy.Decode(nil, body)
	case rawMarker:
		return body, nil
	default:
		return nil, errors.Errorf("unknown path-repo blob marker %#x", marker)
	}
}

// applyOps mutates w in place according to ops, in order.
func applyOps(w *worktree, ops []stagedOp) {
	for _, op := range ops {
		switch op.kind {
		case opAdd:
			w.add(op.path, op.pk)
		case opDelete:
			w.delete(op.path)
		}
	}
}
