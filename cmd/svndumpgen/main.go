// Command svndumpgen dumps a remote Subversion repository into the
// canonical dumpstream format using only the read-only network API
// described in transport.RemoteSession. Mirrors the teacher's main()
// shape: kingpin flag definitions feed a Config, which then drives the
// engine.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jgehring/svndumpgen/dump"
	"github.com/jgehring/svndumpgen/dumpconfig"
	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumptypes"
	"github.com/jgehring/svndumpgen/transport"
)

var (
	app = kingpin.New("svndumpgen", "Dump a remote Subversion repository into the canonical dumpstream format.")

	url                 = app.Arg("url", "Repository URL, optionally including a subdirectory.").Required().String()
	start               = app.Flag("start", "First remote revision to dump.").Default("0").Int64()
	end                 = app.Flag("end", "Last remote revision to dump (-1 for HEAD).").Default("-1").Int64()
	incremental         = app.Flag("incremental", "Emit only the selected range, numbered by remote revision.").Bool()
	keepRevnums         = app.Flag("keep-revnums", "Pad output so local revision numbers equal remote ones.").Bool()
	useDeltas           = app.Flag("deltas", "Select delta mode (requires --format 3); text content is still written as full text, no svndiff is generated.").Bool()
	dryRun              = app.Flag("dry-run", "Walk the tree but skip content emission.").Bool()
	noIncrementalHeader = app.Flag("no-incremental-header", "Suppress the dumpstream header on an incremental append.").Bool()
	fetchUUID           = app.Flag("fetch-uuid", "Emit the repository UUID header.").Default("true").Bool()
	prefix              = app.Flag("prefix", "User path prefix prepended to every emitted path.").String()
	tempDir             = app.Flag("temp-dir", "Working directory for persisted state and temp files.").Default(os.TempDir()).String()
	dumpFormat          = app.Flag("format", "Dump format version (2 or 3).").Default("2").Int()
	configFile          = app.Flag("config", "YAML config file; CLI flags override its values.").String()
	quiet               = app.Flag("quiet", "Suppress all but error-level logging.").Short('q').Bool()
	verbose             = app.Flag("verbose", "Increase logging verbosity (repeatable).").Short('v').Counter()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg := dumpconfig.Default()
	if *configFile != "" {
		var err error
		cfg, err = dumpconfig.LoadConfigFile(*configFile)
		if err != nil {
			kingpin.Fatalf("%v", err)
		}
	}
	cfg.URL = *url
	cfg.Start = dumptypes.RemoteRev(*start)
	cfg.End = dumptypes.RemoteRev(*end)
	cfg.Incremental = *incremental
	cfg.KeepRevnums = *keepRevnums
	cfg.UseDeltas = *useDeltas
	cfg.DryRun = *dryRun
	cfg.NoIncrementalHeader = *noIncrementalHeader
	cfg.FetchUUID = *fetchUUID
	cfg.Prefix = *prefix
	cfg.TempDir = *tempDir
	cfg.DumpFormat = *dumpFormat
	cfg.Quiet = *quiet
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		kingpin.Fatalf("%v", err)
	}

	logger := logrus.New()
	switch {
	case cfg.Quiet:
		logger.SetLevel(logrus.ErrorLevel)
	case cfg.Verbose >= 2:
		logger.SetLevel(logrus.TraceLevel)
	case cfg.Verbose == 1:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	sess, err := newRemoteSession(cfg.URL)
	if err != nil {
		logger.Fatal(err)
	}

	writer := dump.NewWriter(os.Stdout, cfg.EffectiveFormat())
	engine := &dump.Engine{Cfg: cfg, Sess: sess, Out: writer, Logger: logger}

	if err := engine.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRemoteSession is the seam where a real svn:// / http(s):// / file://
// RA client would be constructed. The network transport is an external
// collaborator outside this repository's scope; transport.Fake exists
// solely to exercise the engine in tests.
func newRemoteSession(url string) (transport.RemoteSession, error) {
	return nil, dumperr.Newf(dumperr.UserInput, "no network transport wired for %q: provide a transport.RemoteSession implementation", url)
}
