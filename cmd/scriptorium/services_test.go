package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/scriptorium/internal/config"
	"github.com/jackzampolin/scriptorium/internal/container"
	"github.com/jackzampolin/scriptorium/internal/home"
	"github.com/jackzampolin/scriptorium/internal/store"
)

func TestStoreConfig(t *testing.T) {
	h, _ := home.New("/tmp/s")
	t.Setenv("TEST_SCRIPTORIUM_DSN", "postgres://u:p@db/x")

	sc := storeConfig(config.StoreCfg{
		Backend:     "postgres",
		PostgresDSN: "${TEST_SCRIPTORIUM_DSN}",
		KeyPrefix:   "p:",
	}, h)

	if sc.Path != h.StatePath() {
		t.Errorf("Path = %q, want %q", sc.Path, h.StatePath())
	}
	if sc.PostgresDSN != "postgres://u:p@db/x" {
		t.Errorf("PostgresDSN = %q", sc.PostgresDSN)
	}
	if sc.KeyPrefix != "p:" || sc.Backend != "postgres" {
		t.Errorf("unexpected config %+v", sc)
	}

	sc = storeConfig(config.StoreCfg{Backend: "file", Path: "/data"}, h)
	if sc.Path != "/data" {
		t.Errorf("explicit Path overridden: %q", sc.Path)
	}
}

func TestManagedStoreConfig(t *testing.T) {
	base := store.Config{RedisURL: "redis://elsewhere:1/0", PostgresDSN: "postgres://elsewhere"}

	redis := managedStoreConfig(base, container.Redis, "16379")
	if redis.RedisURL != "redis://localhost:16379/0" {
		t.Errorf("RedisURL = %q", redis.RedisURL)
	}
	if redis.PostgresDSN != base.PostgresDSN {
		t.Errorf("PostgresDSN changed for redis: %q", redis.PostgresDSN)
	}

	pg := managedStoreConfig(base, container.Postgres, "15432")
	if !strings.Contains(pg.PostgresDSN, "@localhost:15432/scriptorium") {
		t.Errorf("PostgresDSN = %q", pg.PostgresDSN)
	}
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := loadEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("loadEnvFile() error = %v", err)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if err := loadEnvFile(""); err != nil {
			t.Errorf("loadEnvFile() error = %v", err)
		}
	})

	t.Run("loads without overriding", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := "SCRIPTORIUM_TEST_A=from-file\nSCRIPTORIUM_TEST_B=from-file\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("SCRIPTORIUM_TEST_B", "from-env")
		t.Cleanup(func() { os.Unsetenv("SCRIPTORIUM_TEST_A") })

		if err := loadEnvFile(path); err != nil {
			t.Fatalf("loadEnvFile() error = %v", err)
		}
		if got := os.Getenv("SCRIPTORIUM_TEST_A"); got != "from-file" {
			t.Errorf("A = %q, want from-file", got)
		}
		if got := os.Getenv("SCRIPTORIUM_TEST_B"); got != "from-env" {
			t.Errorf("B = %q, want from-env", got)
		}
	})
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"download"},
		{"config", "init"},
		{"config", "show"},
		{"store", "start"},
		{"store", "wait"},
		{"api", "health"},
		{"api", "queue", "add"},
		{"api", "queue", "watch"},
		{"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found (err=%v)", path, err)
		}
	}
}
