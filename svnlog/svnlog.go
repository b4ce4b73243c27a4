// Package svnlog implements the log service (spec component C4): fetching
// revision metadata from the remote, one-by-one or as a batch, with
// session-prefix filtering of changed paths. Grounded on
// original_source/src/log.c.
package svnlog

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/transport"
)

// Service fetches revision logs from a remote session, filtering and
// rewriting changed-path keys to be relative to Prefix.
type Service struct {
	Sess   transport.RemoteSession
	Prefix string
	Logger *logrus.Logger
}

// FetchSingle fetches a single revision's log, synchronously.
func (s *Service) FetchSingle(ctx context.Context, rev, upperBound dumptypes.RemoteRev) (dumptypes.LogEntry, error) {
	var out dumptypes.LogEntry
	found := false
	err := s.Sess.GetLog(ctx, []string{""}, rev, upperBound, 1, true, func(entry dumptypes.LogEntry) error {
		out = s.filter(entry)
		found = true
		return nil
	})
	if err != nil {
		return dumptypes.LogEntry{}, dumperr.Wrapf(dumperr.Transport, err, "fetching log for revision %d", rev)
	}
	if !found {
		return dumptypes.LogEntry{}, dumperr.Newf(dumperr.Transport, "no log entry returned for revision %d", rev)
	}
	return out, nil
}

// FetchAll fetches every log entry in [start, end] (in descending order
// if start > end), both bounds inclusive, appending each filtered entry to the returned slice. If
// progress is non-nil, it is invoked after each entry is received.
func (s *Service) FetchAll(ctx context.Context, start, end dumptypes.RemoteRev, progress func(dumptypes.RemoteRev)) ([]dumptypes.LogEntry, error) {
	var out []dumptypes.LogEntry
	err := s.Sess.GetLog(ctx, []string{""}, start, end, 0, true, func(entry dumptypes.LogEntry) error {
		out = append(out, s.filter(entry))
		if progress != nil {
			progress(entry.RemoteRev)
		}
		if s.Logger != nil {
			s.Logger.Debugf("svnlog: fetched revision %d", entry.RemoteRev)
		}
		return nil
	})
	if err != nil {
		return nil, dumperr.Wrapf(dumperr.Transport, err, "fetching logs %d..%d", start, end)
	}
	return out, nil
}

// RangeOf locates the first and last revisions that touched the session
// root, used when dumping a subdirectory.
func (s *Service) RangeOf(ctx context.Context) (first, last dumptypes.RemoteRev, err error) {
	var firstRev, lastRev dumptypes.RemoteRev = -1, -1
	getOne := func(lo, hi dumptypes.RemoteRev) (dumptypes.RemoteRev, error) {
		var rev dumptypes.RemoteRev
		found := false
		e := s.Sess.GetLog(ctx, []string{""}, lo, hi, 1, false, func(entry dumptypes.LogEntry) error {
			rev = entry.RemoteRev
			found = true
			return nil
		})
		if e != nil {
			return 0, e
		}
		if !found {
			return 0, dumperr.New(dumperr.Transport, "log range query returned no entries")
		}
		return rev, nil
	}
	firstRev, err = getOne(0, dumptypes.HeadRev)
	if err != nil {
		return 0, 0, dumperr.Wrap(dumperr.Transport, err, "determining start revision")
	}
	lastRev, err = getOne(dumptypes.HeadRev, firstRev)
	if err != nil {
		return 0, 0, dumperr.Wrap(dumperr.Transport, err, "determining end revision")
	}
	return firstRev, lastRev, nil
}

// filter applies the session-prefix filtering rule (spec §4.4): changed
// path keys not starting with Prefix (plus a separating slash, or end of
// string) are dropped; surviving keys have the prefix stripped exactly
// once. CopyFromPath is left untouched — it must remain relative to the
// repository root so the copy resolver can test it against Prefix.
func (s *Service) filter(entry dumptypes.LogEntry) dumptypes.LogEntry {
	if s.Prefix == "" || entry.ChangedPaths == nil {
		return entry
	}
	out := entry
	out.ChangedPaths = make(map[string]dumptypes.ChangedPath, len(entry.ChangedPaths))
	prefixLen := len(s.Prefix)
	for key, cp := range entry.ChangedPaths {
		if len(key) < 1 {
			continue
		}
		if len(key) < prefixLen || key[:prefixLen] != s.Prefix {
			continue
		}
		if len(key) > prefixLen && key[prefixLen] != '/' {
			continue
		}
		rel := key[prefixLen:]
		if len(rel) > 0 && rel[0] == '/' {
			rel = rel[1:]
		}
		cp.Path = rel
		out.ChangedPaths[rel] = cp
	}
	return out
}
