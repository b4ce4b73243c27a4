// Package obfuscate defines the external collaborator that may rewrite
// author names, log messages, and property values before they reach the
// dumpstream (spec §1's "obfuscation filter" is out of the core's
// scope; this is the seam the dump writer calls through).
package obfuscate

import "github.com/jgehring/svndumpgen/dumptypes"

// Filter transforms revision metadata and path properties before
// emission. Implementations must be safe to call repeatedly with the
// same input (no per-call state) since a prime-phase dry run and the
// real run may both touch the same revision.
type Filter interface {
	Author(name string) string
	Log(message string) string
	Props(path string, props dumptypes.PropertySet) dumptypes.PropertySet
}

// None is the default no-op Filter.
type None struct{}

func (None) Author(name string) string { return name }
func (None) Log(message string) string { return message }
func (None) Props(path string, props dumptypes.PropertySet) dumptypes.PropertySet {
	return props
}
