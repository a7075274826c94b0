package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/quotagate/config"
	"github.com/rs/zerolog"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Usage.SoftLimitPct != 80 {
		t.Errorf("SoftLimitPct = %v, want 80", got.Usage.SoftLimitPct)
	}
	if h.Path() != path {
		t.Errorf("Path = %s, want %s", h.Path(), path)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if h.Get().RateLimit.Tiers[0].PerMinute != 60 {
		t.Errorf("initial PerMinute = %d, want 60", h.Get().RateLimit.Tiers[0].PerMinute)
	}

	if err := os.WriteFile(path, []byte(updatedConfig()), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	cfg := h.Get()
	if cfg.RateLimit.Tiers[0].PerMinute != 120 {
		t.Errorf("reloaded PerMinute = %d, want 120", cfg.RateLimit.Tiers[0].PerMinute)
	}
	if cfg.Usage.SoftLimitPct != 90 {
		t.Errorf("reloaded SoftLimitPct = %v, want 90", cfg.Usage.SoftLimitPct)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var receivedCfg *config.Config

	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		receivedCfg = cfg
		mu.Unlock()
	})

	if err := os.WriteFile(path, []byte(updatedConfig()), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if receivedCfg == nil {
		t.Fatal("OnChange callback was not called")
	}
	tiers, err := receivedCfg.TierTable()
	if err != nil {
		t.Fatalf("TierTable error: %v", err)
	}
	if tiers["free"].PerMinute != 120 {
		t.Errorf("callback tier PerMinute = %d, want 120", tiers["free"].PerMinute)
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var changed bool
	var reloadErr error
	h.OnChange(func(*config.Config) { changed = true })
	h.OnError(func(err error) { reloadErr = err })

	invalid := `
rate_limit:
  tiers:
    - {name: free, per_minute: 0, per_hour: 1000, per_day: 10000}
`
	if err := os.WriteFile(path, []byte(invalid), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if changed {
		t.Error("OnChange should not run for a rejected config")
	}
	if reloadErr == nil {
		t.Error("OnError should receive the rejection")
	}

	if h.Get().RateLimit.Tiers[0].PerMinute != 60 {
		t.Errorf("should keep old config, got PerMinute = %d", h.Get().RateLimit.Tiers[0].PerMinute)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan struct{}, 1)
	h.OnChange(func(*config.Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	if err := os.WriteFile(path, []byte(updatedConfig()), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}

	// A write may surface as several events; wait for the final content.
	deadline := time.Now().Add(2 * time.Second)
	for h.Get().Usage.SoftLimitPct != 90 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Get().Usage.SoftLimitPct != 90 {
		t.Errorf("after file watch, SoftLimitPct = %v, want 90", h.Get().Usage.SoftLimitPct)
	}
}

func TestHolder_StopTwice(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	h.Stop()
	h.Stop()
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}

	wg.Wait()
}

func TestReloadableFields(t *testing.T) {
	fields := config.ReloadableFields()
	for _, e := range []string{"rate_limit.tiers", "usage.soft_limit_pct", "logging.level"} {
		if !contains(fields, e) {
			t.Errorf("%s not in ReloadableFields", e)
		}
	}
}

func TestNonReloadableFields(t *testing.T) {
	fields := config.NonReloadableFields()
	for _, e := range []string{"server.port", "store.driver", "database.path"} {
		if !contains(fields, e) {
			t.Errorf("%s not in NonReloadableFields", e)
		}
	}
}

// Helpers

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func validConfig() string {
	return `
rate_limit:
  tiers:
    - {name: free, per_minute: 60, per_hour: 1000, per_day: 10000}

features:
  - slug: reports
    default_limit: 10
`
}

func updatedConfig() string {
	return `
rate_limit:
  tiers:
    - {name: free, per_minute: 120, per_hour: 1000, per_day: 10000}

usage:
  soft_limit_pct: 90

features:
  - slug: reports
    default_limit: 10
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
