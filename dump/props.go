package dump

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/jgehring/svndumpgen/dumptypes"
)

// encodeProps renders a property set in the dumpstream's own text format
// (spec §6.1), distinct from propstore's internal binary encoding. format
// controls whether deletion (D) records are emitted; they are only legal
// in format version 3.
func encodeProps(props dumptypes.PropertySet, deleted []string, format int) []byte {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, k := range names {
		v := props[k]
		fmt.Fprintf(&buf, "K %d\n%s\n", len(k), k)
		fmt.Fprintf(&buf, "V %d\n%s\n", len(v), v)
	}
	if format >= 3 {
		for _, k := range deleted {
			fmt.Fprintf(&buf, "D %d\n%s\n", len(k), k)
		}
	}
	buf.WriteString("PROPS-END\n")
	return buf.Bytes()
}
