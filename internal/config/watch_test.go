package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, zerolog.Nop(), func(cfg *Config) { reloaded <- cfg })
	}()

	// Give the watcher time to register before the first write.
	time.Sleep(200 * time.Millisecond)

	// An invalid intermediate state is skipped, not delivered.
	if err := os.WriteFile(path, []byte("telegram: [broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(time.Second):
	}

	updated := strings.Replace(validYAML, "level: debug", "level: warn", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-reloaded:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("level = %q, want warn", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("valid rewrite not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
