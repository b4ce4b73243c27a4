package dump

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/jgehring/svndumpgen/contentcache"
	"github.com/jgehring/svndumpgen/delta"
	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumpconfig"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/obfuscate"
	"github.com/jgehring/svndumpgen/pathrepo"
	"github.com/jgehring/svndumpgen/propstore"
	"github.com/jgehring/svndumpgen/svnlog"
	"github.com/jgehring/svndumpgen/transport"
)

// Engine owns the per-run instances of C1-C7 and drives the revision
// loop. Constructed once per invocation of cmd/svndumpgen.
type Engine struct {
	Cfg    dumpconfig.Config
	Sess   transport.RemoteSession
	Out    *Writer
	Logger *logrus.Logger
	Filter obfuscate.Filter

	repo  *pathrepo.Repo
	props *propstore.Store
	cache *contentcache.Cache
}

// Run executes the full dump (spec §4.7's top-level loop) against ctx,
// writing the dumpstream to e.Out. It owns and cleans up every temp file
// on success; on failure the temp directory is left in place and its
// path is logged at error level through e.Logger.
func (e *Engine) Run(ctx context.Context) (err error) {
	if e.Logger == nil {
		e.Logger = logrus.StandardLogger()
	}
	if e.Filter == nil {
		e.Filter = obfuscate.None{}
	}
	e.Out.Filter = e.Filter
	e.Out.DryRun = e.Cfg.DryRun

	if err := os.MkdirAll(e.Cfg.TempDir, 0o755); err != nil {
		return dumperr.Wrapf(dumperr.Storage, err, "creating temp dir %s", e.Cfg.TempDir)
	}
	e.repo, err = pathrepo.Open(filepath.Join(e.Cfg.TempDir, "paths.db"), e.Cfg.Prefix)
	if err != nil {
		return err
	}
	e.props, err = propstore.Open(filepath.Join(e.Cfg.TempDir, "props.db"))
	if err != nil {
		return err
	}
	e.cache, err = contentcache.Open(e.Cfg.TempDir)
	if err != nil {
		return err
	}

	defer func() {
		e.props.Close()
		e.repo.Close()
		if err == nil {
			e.cache.Close()
			os.RemoveAll(e.Cfg.TempDir)
		} else {
			e.Logger.Errorf("dump aborted; leaving temp state at %s", e.Cfg.TempDir)
		}
	}()

	end := e.Cfg.End
	if end == dumptypes.HeadRev {
		_, head, rerr := (&svnlog.Service{Sess: e.Sess}).RangeOf(ctx)
		if rerr != nil {
			return rerr
		}
		end = head
	}

	start := e.Cfg.Start
	if e.Cfg.Prefix != "" && start == 0 {
		log := svnlog.Service{Sess: e.Sess, Prefix: e.Cfg.Prefix}
		first, _, rerr := log.RangeOf(ctx)
		if rerr != nil {
			return rerr
		}
		start = first
	}

	if kind, serr := e.Sess.CheckPath(ctx, e.Cfg.Prefix, start); serr != nil {
		return dumperr.Wrapf(dumperr.Transport, serr, "verifying session root at revision %d", start)
	} else if kind != dumptypes.KindDir && e.Cfg.Prefix != "" {
		return dumperr.Newf(dumperr.Validation, "session root %s is not a directory at revision %d", e.Cfg.Prefix, start)
	}

	revmap := &dumptypes.RevMap{}
	logSvc := svnlog.Service{Sess: e.Sess, Prefix: e.Cfg.Prefix, Logger: e.Logger}

	resolver := &delta.CopyResolver{
		Prefix: e.Cfg.Prefix, Start: start, End: end,
		Incremental: e.Cfg.Incremental, KeepRevnums: e.Cfg.KeepRevnums, RevMap: revmap,
	}
	pondSize := runtime.NumCPU()
	pool := pond.New(pondSize, 0, pond.MinWorkers(2))
	defer pool.StopAndWait()

	driver := &delta.Driver{Repo: e.repo, Props: e.props, Cache: e.cache, Resolver: resolver, Sink: e.Out, Logger: e.Logger, Pool: pool}

	if start > 0 && e.Cfg.Incremental {
		if err := e.primePhase(ctx, &logSvc, driver, resolver, start); err != nil {
			return err
		}
	}

	format := e.Cfg.EffectiveFormat()
	e.Out.Format = format
	e.Out.Prefix = e.Cfg.Prefix

	if e.Cfg.EmitHeader() {
		uuid := ""
		if e.Cfg.EmitUUID() {
			uuid, err = e.Sess.GetUUID(ctx)
			if err != nil {
				return dumperr.Wrap(dumperr.Transport, err, "fetching repository UUID")
			}
		}
		if err := e.Out.WriteHeader(uuid); err != nil {
			return err
		}
	}

	// In incremental mode the local and remote numbering planes coincide
	// (copy resolver rule 1); a plain full dump always starts its own
	// local numbering at 0, padded up to start when keep_revnums is set.
	localRev := dumptypes.LocalRev(0)
	if e.Cfg.Incremental {
		localRev = dumptypes.LocalRev(start)
	}
	prefixSegments := splitPrefix(e.Cfg.Prefix)
	prefixWritten := false

	for remoteRev := start; remoteRev <= end; remoteRev++ {
		entry, lerr := logSvc.FetchSingle(ctx, remoteRev, end)
		if lerr != nil {
			return lerr
		}

		if e.Cfg.KeepRevnums {
			for int64(localRev) < int64(remoteRev) {
				if err := e.Out.WritePadding(localRev); err != nil {
					return err
				}
				localRev++
			}
		}

		if err := e.Out.WriteRevisionFor(localRev, entry); err != nil {
			return err
		}

		if localRev == 1 && !prefixWritten && len(prefixSegments) > 0 {
			if err := e.writePrefixDirs(prefixSegments); err != nil {
				return err
			}
			prefixWritten = true
		}

		driver.Begin(ctx, localRev, actionsOf(entry))
		reporter := transport.NewReporter()
		if err := reporter.SetPath("", remoteRev-1, false); err != nil {
			return dumperr.Wrap(dumperr.Transport, err, "setting diff base path")
		}
		if err := e.Sess.DoDiff(ctx, remoteRev, true, !e.Cfg.DryRun, reporter, driver); err != nil {
			return dumperr.Wrapf(dumperr.Transport, err, "diffing revision %d", remoteRev)
		}

		if err := e.repo.CommitLog(ctx, e.Sess, entry, int64(localRev), revmap, driver.KindOf); err != nil {
			return err
		}
		revmap.Append(localRev, remoteRev)
		localRev++
	}

	return e.Out.Flush()
}

// primePhase replays logs 0..start into C1 without emitting output, then
// runs one dry-run revision against the server to pre-fill C3 with the
// base text of every existing file (spec §4.7 step 4).
func (e *Engine) primePhase(ctx context.Context, logSvc *svnlog.Service, driver *delta.Driver, resolver *delta.CopyResolver, start dumptypes.RemoteRev) error {
	entries, err := logSvc.FetchAll(ctx, 0, start, nil)
	if err != nil {
		return err
	}
	local := dumptypes.LocalRev(0)
	primeRevMap := &dumptypes.RevMap{}
	for _, entry := range entries {
		if err := e.repo.CommitLog(ctx, e.Sess, entry, int64(local), primeRevMap, func(string) dumptypes.NodeKind { return dumptypes.KindFile }); err != nil {
			return err
		}
		primeRevMap.Append(local, entry.RemoteRev)
		local++
	}

	prevDryRun := e.Out.DryRun
	e.Out.DryRun = true
	defer func() { e.Out.DryRun = prevDryRun }()

	driver.Begin(ctx, local, nil)
	reporter := transport.NewReporter()
	if err := reporter.SetPath("", 0, false); err != nil {
		return dumperr.Wrap(dumperr.Transport, err, "setting dry-run diff base path")
	}
	return e.Sess.DoDiff(ctx, start, true, true, reporter, driver)
}

// actionsOf extracts a log entry's per-path action classification, the
// signal initAdd needs to tell an Add from a Replace (spec §4.5).
func actionsOf(entry dumptypes.LogEntry) map[string]dumptypes.ChangedPathAction {
	actions := make(map[string]dumptypes.ChangedPathAction, len(entry.ChangedPaths))
	for p, cp := range entry.ChangedPaths {
		actions[p] = cp.Action
	}
	return actions
}

func splitPrefix(prefix string) []string {
	if prefix == "" {
		return nil
	}
	return strings.Split(prefix, "/")
}

// writePrefixDirs emits one synthetic directory-add record per
// intermediate segment of the user prefix, in order, exactly once.
func (e *Engine) writePrefixDirs(segments []string) error {
	built := ""
	for _, seg := range segments {
		if built == "" {
			built = seg
		} else {
			built = built + "/" + seg
		}
		if err := e.Out.WriteSyntheticDirAdd(built); err != nil {
			return err
		}
	}
	return nil
}
