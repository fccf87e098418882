package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := "STORAGE_DRIVER=postgres\nPOSTGRES_CONN=postgres://u:p@db:5432/coop?sslmode=disable\nJWT_SECRET=file-secret\nNEGOTIATION_TTL=72h\n"
	if err := os.WriteFile(filepath.Join(dir, "app.env"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StorageDriver != PostgresDriver || cfg.JWTSecret != "env-secret" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.NegotiationTTL != 72*time.Hour || cfg.RequestTimeout != 5*time.Second || cfg.FanoutRetries != 3 {
		t.Errorf("durations/defaults = %+v", cfg)
	}
}

func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.StorageDriver != MemoryDriver || cfg.ServerAddress != "0.0.0.0:8080" || cfg.EventBuffer != 256 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := Config{StorageDriver: MemoryDriver, JWTSecret: "s", RequestTimeout: time.Second, NegotiationTTL: time.Hour, FanoutRetries: 1}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	broken := []func(*Config){
		func(c *Config) { c.StorageDriver = "sqlite" },
		func(c *Config) { c.StorageDriver = PostgresDriver },
		func(c *Config) { c.JWTSecret = "" },
		func(c *Config) { c.FanoutRetries = 0 },
	}
	for i, mutate := range broken {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}
