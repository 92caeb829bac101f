package cli

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/httputil"
	"github.com/matzehuels/piprecipes/pkg/integrations/pypi"
)

// defaultConfigFile is read from the working directory when --config is not given.
const defaultConfigFile = "piprecipes.toml"

const envPrefix = "PIPRECIPES_"

// Config is the effective configuration of a generate run. Sources apply in
// order: defaults, config file, environment, flags.
type Config struct {
	Output         string        `toml:"output"`
	IndexURL       string        `toml:"index_url"`
	Concurrency    int           `toml:"concurrency"`
	Retries        int           `toml:"retries"`
	RetryDelay     time.Duration `toml:"-"`
	ConflictPolicy string        `toml:"conflict_policy"`
	Licenses       string        `toml:"licenses"`
	Inspect        bool          `toml:"inspect"`
	Graph          string        `toml:"graph"`
	Report         string        `toml:"report"`
	MaxPackages    int           `toml:"max_packages"`
	CacheSize      int           `toml:"cache_size"`
	Extension      string        `toml:"extension"`

	// RetryDelayText holds retry_delay as written in the file ("500ms").
	RetryDelayText string `toml:"retry_delay"`
}

func defaultConfig() Config {
	return Config{
		Output:         ".",
		IndexURL:       pypi.DefaultBaseURL,
		Concurrency:    deps.DefaultConcurrency,
		Retries:        httputil.DefaultAttempts,
		ConflictPolicy: string(deps.MostRestrictive),
		MaxPackages:    deps.DefaultMaxPackages,
	}
}

// loadConfigFile decodes path over cfg. When explicit is false a missing
// file is not an error.
func loadConfigFile(cfg *Config, path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(errors.ErrCodeFileNotFound, err, "config file %s", path)
		}
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "read config file %s", path)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse config file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.New(errors.ErrCodeInvalidConfig, "%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if cfg.RetryDelayText != "" {
		d, err := time.ParseDuration(cfg.RetryDelayText)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s: retry_delay", path)
		}
		cfg.RetryDelay = d
	}

	// Relative paths in the file are relative to the file.
	base := filepath.Dir(path)
	for _, p := range []*string{&cfg.Licenses, &cfg.Graph, &cfg.Report} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	return nil
}

// loadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is ignored.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "load %s", path)
	}
	return nil
}

// applyEnv overrides cfg from PIPRECIPES_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("OUTPUT", &cfg.Output)
	str("INDEX_URL", &cfg.IndexURL)
	str("LICENSES", &cfg.Licenses)
	str("CONFLICT_POLICY", &cfg.ConflictPolicy)

	for name, dst := range map[string]*int{"CONCURRENCY": &cfg.Concurrency, "MAX_PACKAGES": &cfg.MaxPackages} {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "%s%s", envPrefix, name)
		}
		*dst = n
	}
	return nil
}

// flagValues holds the generate command's flags. Only flags set on the
// command line override the config.
type flagValues struct {
	configPath     string
	output         string
	indexURL       string
	concurrency    int
	retries        int
	retryDelay     time.Duration
	conflictPolicy string
	licenses       string
	inspect        bool
	graph          string
	report         string
	maxPackages    int
	extension      string
}

func (f *flagValues) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "config file (default: ./"+defaultConfigFile+" when present)")
	fl.StringVarP(&f.output, "output", "o", ".", "output directory")
	fl.StringVar(&f.indexURL, "index-url", pypi.DefaultBaseURL, "PyPI-compatible JSON API root")
	fl.IntVar(&f.concurrency, "concurrency", deps.DefaultConcurrency, "concurrent metadata fetches")
	fl.IntVar(&f.retries, "retries", httputil.DefaultAttempts, "attempts per index request, including the first")
	fl.DurationVar(&f.retryDelay, "retry-delay", httputil.DefaultDelay, "delay before the first retry, doubling after each")
	fl.StringVar(&f.conflictPolicy, "conflict-policy", string(deps.MostRestrictive), "version conflict policy: most-restrictive or first-seen")
	fl.StringVar(&f.licenses, "licenses", "", "TOML file merged over the built-in license table")
	fl.BoolVar(&f.inspect, "inspect", false, "download source archives to find license files and build backends")
	fl.StringVar(&f.graph, "graph", "", "write the dependency graph (.dot or .svg)")
	fl.StringVar(&f.report, "report", "", "write the run report as JSON")
	fl.IntVar(&f.maxPackages, "max-packages", deps.DefaultMaxPackages, "maximum packages in the closure")
	fl.StringVar(&f.extension, "extension", "", "recipe file extension (default: bb)")
}

func (f *flagValues) apply(cmd *cobra.Command, cfg *Config) {
	changed := cmd.Flags().Changed
	if changed("output") {
		cfg.Output = f.output
	}
	if changed("index-url") {
		cfg.IndexURL = f.indexURL
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("retries") {
		cfg.Retries = f.retries
	}
	if changed("retry-delay") {
		cfg.RetryDelay = f.retryDelay
	}
	if changed("conflict-policy") {
		cfg.ConflictPolicy = f.conflictPolicy
	}
	if changed("licenses") {
		cfg.Licenses = f.licenses
	}
	if changed("inspect") {
		cfg.Inspect = f.inspect
	}
	if changed("graph") {
		cfg.Graph = f.graph
	}
	if changed("report") {
		cfg.Report = f.report
	}
	if changed("max-packages") {
		cfg.MaxPackages = f.maxPackages
	}
	if changed("extension") {
		cfg.Extension = f.extension
	}
}

// resolveConfig builds the effective configuration for cmd.
func resolveConfig(cmd *cobra.Command, f *flagValues) (Config, error) {
	cfg := defaultConfig()

	path, explicit := f.configPath, f.configPath != ""
	if !explicit {
		path = defaultConfigFile
	}
	if err := loadConfigFile(&cfg, path, explicit); err != nil {
		return cfg, err
	}
	if err := loadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	f.apply(cmd, &cfg)
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.Concurrency < 1:
		return errors.New(errors.ErrCodeInvalidConfig, "concurrency must be at least 1, got %d", c.Concurrency)
	case c.Retries < 1:
		return errors.New(errors.ErrCodeInvalidConfig, "retries must be at least 1, got %d", c.Retries)
	case c.MaxPackages < 1:
		return errors.New(errors.ErrCodeInvalidConfig, "max-packages must be at least 1, got %d", c.MaxPackages)
	}
	if err := errors.ValidateURL(c.IndexURL); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "index URL %q", c.IndexURL)
	}
	if _, err := deps.ParseConflictPolicy(c.ConflictPolicy); err != nil {
		return err
	}
	if c.Graph != "" {
		if ext := strings.ToLower(filepath.Ext(c.Graph)); ext != ".dot" && ext != ".svg" {
			return errors.New(errors.ErrCodeInvalidConfig, "graph file must end in .dot or .svg: %s", c.Graph)
		}
	}
	return nil
}

// retryPolicy returns the index retry policy. Clients fill defaults, so a
// zero delay uses the default and a negative delay retries immediately.
func (c Config) retryPolicy() httputil.Policy {
	return httputil.Policy{Attempts: c.Retries, Delay: c.RetryDelay}
}

func (c Config) String() string {
	return fmt.Sprintf("output=%s index=%s concurrency=%d retries=%d policy=%s inspect=%t",
		c.Output, c.IndexURL, c.Concurrency, c.Retries, c.ConflictPolicy, c.Inspect)
}
