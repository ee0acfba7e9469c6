package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
  rate_per_sec: 20
logging:
  level: debug
  console: true
storage:
  path: /var/lib/sugarbot/bot.db
  busy_timeout: 2s
reminders:
  gc_interval: 10m
  snooze_minutes: [5, 15]
internal_api:
  enabled: true
  addr: "127.0.0.1:9000"
  token: "s3cret"
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.RatePerSec != 20 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Reminders.GCInterval != "10m" || len(cfg.Reminders.SnoozeMinutes) != 2 {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if !cfg.InternalAPI.Enabled || cfg.InternalAPI.Addr != "127.0.0.1:9000" {
		t.Fatalf("internal_api = %+v", cfg.InternalAPI)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"logging":{"level":"info"},"storage":{"path":"bot.db"}}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "bot.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, "config.yaml", validYAML+"\nunexpected_section:\n  x: 1\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field rejection", err)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			"missing token",
			"telegram:\n  token: \"\"\nlogging:\n  level: info\nstorage:\n  path: bot.db\n",
			"telegram.token",
		},
		{
			"missing storage path",
			"telegram:\n  token: t\nlogging:\n  level: info\nstorage:\n  path: \"\"\n",
			"storage.path",
		},
		{
			"internal api without token",
			"telegram:\n  token: t\nlogging:\n  level: info\nstorage:\n  path: bot.db\ninternal_api:\n  enabled: true\n",
			"internal_api.token",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, "config.yaml", tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()
	if _, err := Load(writeConfig(t, "config.yaml", "telegram: [unclosed")); err == nil {
		t.Fatal("malformed yaml must be rejected")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Minute)
	if err != nil || d != 5*time.Minute {
		t.Fatalf("empty: %v %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "90s", 0)
	if err != nil || d != 90*time.Second {
		t.Fatalf("90s: %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("scheduler.default_timeout", "soon", 0); err == nil {
		t.Fatal("bad duration must error")
	}
	if _, err := ParseDurationOrDefault("x", "-1s", 0); err == nil {
		t.Fatal("negative duration must error")
	}
}
