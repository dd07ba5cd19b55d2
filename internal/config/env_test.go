package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

func TestLoadEnvExportsOverrideKeys(t *testing.T) {
	for _, k := range append([]string{"BP_UNKNOWN", "HOME_DIR_X"}, envKeys...) {
		unsetEnv(t, k)
	}
	path := writeEnvFile(t, ""+
		"# telegram\n"+
		"BP_TELEGRAM_TOKEN=\"123:abc\"\n"+
		"export BP_TELEGRAM_CHAT_ID='-100'\n"+
		"BP_KAFKA_BROKERS = k1:9092,k2:9092\n"+
		"BP_TIMESCALE_DSN=\n"+
		"BP_UNKNOWN=1\n"+
		"HOME_DIR_X=/tmp\n"+
		"not a pair\n")
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	want := map[string]string{
		EnvTelegramToken:  "123:abc",
		EnvTelegramChatID: "-100",
		EnvKafkaBrokers:   "k1:9092,k2:9092",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Fatalf("%s expected %q, got %q", k, v, got)
		}
	}
	if v, ok := os.LookupEnv(EnvTimescaleDSN); !ok || v != "" {
		t.Fatalf("expected empty %s to be set, got %q (%v)", EnvTimescaleDSN, v, ok)
	}
	for _, k := range []string{"BP_UNKNOWN", "HOME_DIR_X"} {
		if _, ok := os.LookupEnv(k); ok {
			t.Fatalf("expected %s to be ignored", k)
		}
	}

	cfg := Default()
	applyEnvOverrides(cfg)
	if cfg.Telegram.Token != "123:abc" || len(cfg.Dispatch.Brokers) != 2 {
		t.Fatalf("expected overrides from the env file, got token %q brokers %v", cfg.Telegram.Token, cfg.Dispatch.Brokers)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv(EnvTelegramToken, "existing")
	if err := LoadEnv(writeEnvFile(t, "BP_TELEGRAM_TOKEN=file\n")); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv(EnvTelegramToken); got != "existing" {
		t.Fatalf("expected existing, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line, key, val string
		ok             bool
	}{
		{"A=1", "A", "1", true},
		{"  # note", "", "", false},
		{"=x", "", "x", false},
		{"B=\"mixed'", "B", "\"mixed'", true},
		{"C='q'", "C", "q", true},
	}
	for _, tc := range cases {
		k, v, ok := parseEnvLine(tc.line)
		if k != tc.key || v != tc.val || ok != tc.ok {
			t.Fatalf("%q: expected %q %q %v, got %q %q %v", tc.line, tc.key, tc.val, tc.ok, k, v, ok)
		}
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	} else {
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}
	_ = os.Unsetenv(key)
}
