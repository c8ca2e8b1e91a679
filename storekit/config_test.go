package storekit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mode != ModeLocalOnly {
		t.Errorf("mode = %s, want localOnly", cfg.Mode)
	}
	if cfg.SyncInterval != 5*time.Second {
		t.Errorf("sync interval = %v", cfg.SyncInterval)
	}
	if cfg.MaxRetries != 3 || cfg.MaxQueueSize != 1000 {
		t.Errorf("retry settings %d/%d", cfg.MaxRetries, cfg.MaxQueueSize)
	}
	if cfg.InitialBackoff != time.Second || cfg.MaxBackoff != 30*time.Second {
		t.Errorf("backoff %v..%v", cfg.InitialBackoff, cfg.MaxBackoff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown mode", func(c *Config) { c.Mode = "hybrid" }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
		{"zero queue", func(c *Config) { c.MaxQueueSize = 0 }, true},
		{"inverted backoff", func(c *Config) { c.MaxBackoff = c.InitialBackoff / 2 }, true},
		{"dual write no interval", func(c *Config) {
			c.Mode = ModeDualWrite
			c.SyncInterval = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseConfigYAML(t *testing.T) {
	data := []byte(`
mode: dualWrite
sync_interval_ms: 2000
max_retries: 5
max_queue_size: 50
initial_backoff_ms: 100
max_backoff_ms: 1000
validate_on_write: false
`)

	cfg, err := ParseConfig(data, "yaml")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Mode != ModeDualWrite {
		t.Errorf("mode = %s", cfg.Mode)
	}
	if cfg.SyncInterval != 2*time.Second {
		t.Errorf("sync interval = %v", cfg.SyncInterval)
	}
	if cfg.MaxRetries != 5 || cfg.MaxQueueSize != 50 {
		t.Errorf("retry settings %d/%d", cfg.MaxRetries, cfg.MaxQueueSize)
	}
	if cfg.ValidateOnWrite {
		t.Error("validate_on_write: false ignored")
	}
	if !cfg.EnableSyncWorker {
		t.Error("unset enable_sync_worker should keep the default")
	}
}

func TestParseConfigJSON(t *testing.T) {
	data := []byte(`{"mode": "localOnly", "max_retries": 0}`)

	cfg, err := ParseConfig(data, "json")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Mode != ModeLocalOnly {
		t.Errorf("mode = %s", cfg.Mode)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("explicit zero retries overridden: %d", cfg.MaxRetries)
	}
}

func TestParseConfigRejectsInvalid(t *testing.T) {
	if _, err := ParseConfig([]byte(`mode: teleport`), "yaml"); err == nil {
		t.Error("unknown mode accepted")
	}
	if _, err := ParseConfig([]byte(`{`), "json"); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := ParseConfig([]byte(``), "toml"); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestLoadConfigDetectsFormat(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "store.yaml")
	if err := os.WriteFile(yamlPath, []byte("mode: localOnly\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, "store.json")
	if err := os.WriteFile(jsonPath, []byte(`{"mode": "localOnly"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{yamlPath, jsonPath} {
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Errorf("LoadConfig(%s): %v", path, err)
			continue
		}
		if cfg.Mode != ModeLocalOnly {
			t.Errorf("LoadConfig(%s) mode = %s", path, cfg.Mode)
		}
	}

	if _, err := LoadConfig(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
