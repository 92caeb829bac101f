package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/httputil"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), defaultConfigFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
output = "/srv/layer"
concurrency = 4
retry_delay = "250ms"
conflict_policy = "first-seen"
licenses = "licenses.toml"
report = "/tmp/report.json"
inspect = true
`)
	cfg := defaultConfig()
	if err := loadConfigFile(&cfg, path, true); err != nil {
		t.Fatalf("loadConfigFile() error = %v", err)
	}

	if cfg.Output != "/srv/layer" || cfg.Concurrency != 4 || !cfg.Inspect {
		t.Errorf("decoded config = %+v", cfg)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", cfg.RetryDelay)
	}
	if want := filepath.Join(filepath.Dir(path), "licenses.toml"); cfg.Licenses != want {
		t.Errorf("Licenses = %q, want %q", cfg.Licenses, want)
	}
	if cfg.Report != "/tmp/report.json" {
		t.Errorf("absolute Report rewritten to %q", cfg.Report)
	}
	if cfg.Retries != httputil.DefaultAttempts {
		t.Errorf("unset Retries = %d, want default %d", cfg.Retries, httputil.DefaultAttempts)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")

	tests := []struct {
		name     string
		path     string
		explicit bool
		want     errors.Code
	}{
		{"unknown key", writeConfig(t, "outptu = \"x\"\n"), true, errors.ErrCodeInvalidConfig},
		{"bad syntax", writeConfig(t, "output = \n"), true, errors.ErrCodeInvalidConfig},
		{"bad duration", writeConfig(t, "retry_delay = \"soon\"\n"), true, errors.ErrCodeInvalidConfig},
		{"missing explicit", missing, true, errors.ErrCodeFileNotFound},
		{"missing default", missing, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			err := loadConfigFile(&cfg, tt.path, tt.explicit)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("loadConfigFile() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("loadConfigFile() error = %v, want code %s", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PIPRECIPES_OUTPUT":       "/env/out",
		"PIPRECIPES_CONCURRENCY":  "2",
		"PIPRECIPES_INDEX_URL":    "",
		"PIPRECIPES_MAX_PACKAGES": "10",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := defaultConfig()
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("applyEnv() error = %v", err)
	}
	if cfg.Output != "/env/out" || cfg.Concurrency != 2 || cfg.MaxPackages != 10 {
		t.Errorf("config after env = %+v", cfg)
	}
	if cfg.IndexURL != defaultConfig().IndexURL {
		t.Errorf("empty variable overrode IndexURL: %q", cfg.IndexURL)
	}

	env["PIPRECIPES_CONCURRENCY"] = "many"
	if err := applyEnv(&cfg, lookup); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("applyEnv() with non-integer error = %v, want INVALID_CONFIG", err)
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	path := writeConfig(t, "output = \"from-file\"\nconcurrency = 3\nmax_packages = 50\n")
	t.Setenv("PIPRECIPES_CONCURRENCY", "5")

	var f flagValues
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	if err := cmd.ParseFlags([]string{"--config", path, "--max-packages", "7"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := resolveConfig(cmd, &f)
	if err != nil {
		t.Fatalf("resolveConfig() error = %v", err)
	}
	if cfg.Output != "from-file" {
		t.Errorf("Output = %q, want value from file", cfg.Output)
	}
	if cfg.Concurrency != 5 {
		t.Errorf("Concurrency = %d, want env value 5", cfg.Concurrency)
	}
	if cfg.MaxPackages != 7 {
		t.Errorf("MaxPackages = %d, want flag value 7", cfg.MaxPackages)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"svg graph", func(c *Config) { c.Graph = "deps.SVG" }, true},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, false},
		{"zero retries", func(c *Config) { c.Retries = 0 }, false},
		{"zero max packages", func(c *Config) { c.MaxPackages = 0 }, false},
		{"ftp index", func(c *Config) { c.IndexURL = "ftp://mirror/pypi" }, false},
		{"unknown policy", func(c *Config) { c.ConflictPolicy = "newest" }, false},
		{"png graph", func(c *Config) { c.Graph = "deps.png" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(&cfg)
			err := cfg.validate()
			if (err == nil) != tt.ok {
				t.Errorf("validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  time.Duration
	}{
		{0, httputil.DefaultDelay},
		{-1, 0},
		{2 * time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		cfg := defaultConfig()
		cfg.RetryDelay = tt.delay
		if got := cfg.retryPolicy().WithDefaults().Delay; got != tt.want {
			t.Errorf("retryPolicy() with delay %v = %v, want %v", tt.delay, got, tt.want)
		}
	}
}
