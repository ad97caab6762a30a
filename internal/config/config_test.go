package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to config.toml in a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
request_timeout = "5s"
body_max_bytes = 5242880
strip_hop_by_hop = true

[upstream]
base_url = "http://127.0.0.1:9001"
idle_connections = 50
rewrite_host = true

[idle]
timeout = "2s"
check_interval = "500ms"

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.RequestTimeout.Duration != 5*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want %v", cfg.Server.RequestTimeout, 5*time.Second)
	}
	if !cfg.Server.StripHopByHop {
		t.Error("Server.StripHopByHop = false, want true")
	}
	if cfg.Upstream.BaseURL != "http://127.0.0.1:9001" {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://127.0.0.1:9001")
	}
	if cfg.Upstream.IdleConnections != 50 {
		t.Errorf("Upstream.IdleConnections = %d, want %d", cfg.Upstream.IdleConnections, 50)
	}
	if !cfg.Upstream.RewriteHost {
		t.Error("Upstream.RewriteHost = false, want true")
	}
	if cfg.Idle.Timeout.Duration != 2*time.Second {
		t.Errorf("Idle.Timeout = %v, want %v", cfg.Idle.Timeout, 2*time.Second)
	}
	if cfg.Idle.CheckInterval.Duration != 500*time.Millisecond {
		t.Errorf("Idle.CheckInterval = %v, want %v", cfg.Idle.CheckInterval, 500*time.Millisecond)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(cliWithPath(filepath.Join("..", "..", "configs", "config.example.toml")))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Upstream.BaseURL != DefaultUpstreamURL {
		t.Errorf("BaseURL = %q, want %q", cfg.Upstream.BaseURL, DefaultUpstreamURL)
	}
	if cfg.Idle.Timeout.Duration != DefaultIdleTimeout {
		t.Errorf("Idle.Timeout = %v, want %v", cfg.Idle.Timeout.Duration, DefaultIdleTimeout)
	}
	if cfg.Server.RequestTimeout.Duration != DefaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want %v", cfg.Server.RequestTimeout.Duration, DefaultRequestTimeout)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Server.RequestTimeout.Duration != 10*time.Second {
		t.Errorf("default Server.RequestTimeout = %v, want 10s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.BodyMaxBytes != 0 {
		t.Errorf("default Server.BodyMaxBytes = %d, want 0 (unlimited)", cfg.Server.BodyMaxBytes)
	}
	if cfg.Upstream.BaseURL != "http://127.0.0.1:3000" {
		t.Errorf("default Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://127.0.0.1:3000")
	}
	if cfg.Idle.Timeout.Duration != 900*time.Second {
		t.Errorf("default Idle.Timeout = %v, want 15m", cfg.Idle.Timeout)
	}
	if cfg.Idle.CheckInterval.Duration != time.Second {
		t.Errorf("default Idle.CheckInterval = %v, want 1s", cfg.Idle.CheckInterval)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Health.Path != "/healthz" || cfg.Health.StatusPath != "/proxy/status" {
		t.Errorf("default Health paths = %q, %q", cfg.Health.Path, cfg.Health.StatusPath)
	}
	if cfg.Metrics.Enabled || cfg.Health.Enabled {
		t.Error("admin routes should be disabled by default")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	orig := configSearchPaths
	configSearchPaths = []string{filepath.Join(t.TempDir(), "missing.toml")}
	t.Cleanup(func() { configSearchPaths = orig })

	cfg, err := Load(&CLI{Forward: "http://127.0.0.1:9000", Port: 8081})
	if err != nil {
		t.Fatalf("Load() error = %v; flags alone should be enough", err)
	}
	if cfg.Upstream.BaseURL != "http://127.0.0.1:9000" {
		t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://127.0.0.1:9000")
	}
	if cfg.Server.Port != 8081 {
		t.Errorf("Server.Port = %d, want 8081", cfg.Server.Port)
	}
	if cfg.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", cfg.FilePath())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport = ")

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected parse error, got nil")
	}
	if !strings.Contains(err.Error(), "parse") {
		t.Errorf("error = %q, want mention of parse", err)
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000
request_timeout = "30s"

[upstream]
base_url = "http://10.0.0.1:3000"

[idle]
timeout = "1h"

[log]
level = "info"
format = "json"
`)

	cli := &CLI{
		Config:         path,
		Forward:        "https://backend.internal:8443",
		Host:           "127.0.0.1",
		Port:           3000,
		IdleTimeout:    2 * time.Second,
		RequestTimeout: time.Second,
		LogLevel:       "DEBUG",
		LogFormat:      "text",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Upstream.BaseURL != "https://backend.internal:8443" {
		t.Errorf("Upstream.BaseURL = %q, want CLI override", cfg.Upstream.BaseURL)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Idle.Timeout.Duration != 2*time.Second {
		t.Errorf("Idle.Timeout = %v, want 2s (CLI override)", cfg.Idle.Timeout)
	}
	if cfg.Server.RequestTimeout.Duration != time.Second {
		t.Errorf("Server.RequestTimeout = %v, want 1s (CLI override)", cfg.Server.RequestTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override, lowercased)", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q (CLI override)", cfg.Log.Format, "text")
	}
}

func TestLoad_InvalidUpstreamURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"missing scheme", "127.0.0.1:9000"},
		{"host only", "localhost:9000"},
		{"unsupported scheme", "ftp://example.com"},
		{"no host", "http://"},
		{"relative path", "/upstream"},
		{"with query", "http://example.com?x=1"},
		{"bad escape", "http://example.com/%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&CLI{Config: writeConfig(t, ""), Forward: tt.url})
			if err == nil {
				t.Fatalf("Load() expected error for upstream %q, got nil", tt.url)
			}
			if !strings.Contains(err.Error(), "base_url") {
				t.Errorf("error = %q, want mention of base_url", err)
			}
		})
	}
}

func TestLoad_ValidUpstreamURLs(t *testing.T) {
	for _, u := range []string{
		"http://127.0.0.1:9000",
		"https://example.com",
		"http://[::1]:8080",
		"http://backend/api",
	} {
		t.Run(u, func(t *testing.T) {
			if _, err := Load(&CLI{Config: writeConfig(t, ""), Forward: u}); err != nil {
				t.Errorf("Load() error = %v for %q", err, u)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantKey string
	}{
		{"negative port", "[server]\nport = -1\n", "port"},
		{"port too large", "[server]\nport = 70000\n", "port"},
		{"negative body limit", "[server]\nbody_max_bytes = -1\n", "body_max_bytes"},
		{"negative request timeout", "[server]\nrequest_timeout = \"-5s\"\n", "request_timeout"},
		{"negative idle timeout", "[idle]\ntimeout = \"-1m\"\n", "timeout"},
		{"negative check interval", "[idle]\ncheck_interval = \"-1s\"\n", "check_interval"},
		{"negative idle connections", "[upstream]\nidle_connections = -3\n", "idle_connections"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n", "level"},
		{"invalid log format", "[log]\nformat = \"xml\"\n", "format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantKey)
			}
		})
	}
}

func TestLoad_UnparsableDuration(t *testing.T) {
	_, err := Load(cliWithPath(writeConfig(t, "[idle]\ntimeout = \"soon\"\n")))
	if err == nil {
		t.Fatal("Load() expected error for unparsable duration, got nil")
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 0
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for rate limit enabled with requests_per_second=0, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestLoad_MetricsPathNoLeadingSlash(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = true
path = "metrics"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for metrics.path without leading slash, got nil")
	}
	if !strings.Contains(err.Error(), "metrics") {
		t.Errorf("error = %q, want mention of metrics", err)
	}
}

func TestLoad_MetricsPathConflictsWithHealth(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"healthz exact", "/healthz"},
		{"healthz sub", "/healthz/metrics"},
		{"status exact", "/proxy/status"},
		{"status parent", "/proxy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeConfig(t, `
[health]
enabled = true

[metrics]
enabled = true
path = "`+tt.path+`"
`)

			_, err := Load(cliWithPath(cfgPath))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path=%q conflicting with health, got nil", tt.path)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_DisabledAdminSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, `
[metrics]
enabled = false
path = "bad-no-slash"

[health]
enabled = false
path = "also-bad"
`)

	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; disabled routes should skip path validation", err)
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("ninety")); err == nil {
		t.Error("UnmarshalText() expected error for invalid duration")
	}

	out, err := Duration{2 * time.Second}.MarshalText()
	if err != nil || string(out) != "2s" {
		t.Errorf("MarshalText() = %q, %v; want \"2s\"", out, err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	(&Config{}).WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	path1 := filepath.Join(dir1, "config.toml")
	path2 := filepath.Join(dir2, "config.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte("[upstream]\nbase_url = \"http://127.0.0.1:3000\"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name  string
		paths []string
		want  string
	}{
		{"found", []string{path2}, path2},
		{"first match wins", []string{path1, path2}, path1},
		{"skips missing", []string{"/nonexistent/a.toml", path2}, path2},
		{"not found", []string{"/nonexistent/a.toml", "/nonexistent/b.toml"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := findConfigInPaths(tt.paths); got != tt.want {
				t.Errorf("findConfigInPaths() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
