// Package dumpconfig holds the dump engine's configuration, modeled
// directly on the teacher's config.Config: a YAML-tagged struct plus a
// validate() method that cross-checks fields the CLI alone cannot.
package dumpconfig

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/jgehring/svndumpgen/dumperr"
	"github.com/jgehring/svndumpgen/dumptypes"
)

// Config is the full set of options accepted by the dump engine (spec
// §6.2, supplemented from original_source/main.c and dump.c).
type Config struct {
	URL string `yaml:"url"`

	Start dumptypes.RemoteRev `yaml:"start"`
	End   dumptypes.RemoteRev `yaml:"end"`

	Incremental         bool `yaml:"incremental"`
	KeepRevnums         bool `yaml:"keep_revnums"`
	UseDeltas           bool `yaml:"use_deltas"`
	DryRun              bool `yaml:"dry_run"`
	NoIncrementalHeader bool `yaml:"no_incremental_header"`

	Prefix  string `yaml:"prefix"`
	TempDir string `yaml:"temp_dir"`

	DumpFormat int `yaml:"dump_format"`

	FetchUUID bool `yaml:"fetch_uuid"`

	Quiet   bool `yaml:"quiet"`
	Verbose int  `yaml:"verbose"`

	ConfigFile string `yaml:"config_file"`
}

// Default returns a Config with every documented default applied
// (format 2, UUID fetched, non-incremental, range 0..HEAD).
func Default() Config {
	return Config{
		End:        dumptypes.HeadRev,
		DumpFormat: 2,
		FetchUUID:  true,
	}
}

// LoadConfigFile reads and parses a YAML config file, starting from
// Default() so unset fields keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, dumperr.Wrapf(dumperr.UserInput, err, "reading config file %s", path)
	}
	return LoadConfigString(string(data))
}

// LoadConfigString parses YAML config text, starting from Default().
func LoadConfigString(text string) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return Config{}, dumperr.Wrap(dumperr.UserInput, err, "parsing config YAML")
	}
	return cfg, nil
}

// Validate cross-checks fields that cannot be enforced by type alone.
// It enforces the spec's Open Question 2 decision: keep_revnums combined
// with an incremental dump starting mid-range is forbidden outright,
// since padding revisions below start are never produced yet the
// revision map assumes contiguous local numbers.
func (c Config) Validate() error {
	if c.URL == "" {
		return dumperr.New(dumperr.UserInput, "missing repository URL")
	}
	if c.DumpFormat != 2 && c.DumpFormat != 3 {
		return dumperr.Newf(dumperr.UserInput, "dump_format must be 2 or 3, got %d", c.DumpFormat)
	}
	if c.UseDeltas && c.DumpFormat != 3 {
		return dumperr.New(dumperr.UserInput, "use_deltas requires dump_format 3")
	}
	if c.KeepRevnums && c.Incremental && c.Start > 0 {
		return dumperr.New(dumperr.UserInput, "keep_revnums cannot be combined with an incremental dump starting mid-range")
	}
	if c.TempDir == "" {
		return dumperr.New(dumperr.UserInput, "missing temp_dir")
	}
	return nil
}

// EffectiveFormat returns the format version actually used: version 3 is
// forced whenever UseDeltas is set, per spec §6.1.
func (c Config) EffectiveFormat() int {
	if c.UseDeltas {
		return 3
	}
	return c.DumpFormat
}

// EmitHeader reports whether the dumpstream magic line should be written
// at all, per dump.c's DF_NO_INCREMENTAL_HEADER && start_mid suppression
// rule: a headerless incremental append starting beyond revision 0 omits
// both the format line and, transitively, the UUID line.
func (c Config) EmitHeader() bool {
	return !(c.NoIncrementalHeader && c.Incremental && c.Start > 0)
}

// EmitUUID reports whether the UUID line should be written, honouring
// both FetchUUID and the header-suppression rule above.
func (c Config) EmitUUID() bool {
	return c.FetchUUID && c.EmitHeader()
}
