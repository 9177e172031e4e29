package container

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestKindFor(t *testing.T) {
	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{"redis", "redis:7-alpine", false},
		{"postgres", "postgres:16-alpine", false},
		{"file", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			k, err := KindFor(tt.backend)
			if (err != nil) != tt.wantErr {
				t.Fatalf("KindFor(%q) error = %v, wantErr %v", tt.backend, err, tt.wantErr)
			}
			if k.Image != tt.want {
				t.Errorf("KindFor(%q).Image = %q, want %q", tt.backend, k.Image, tt.want)
			}
		})
	}
}

func TestGenerateContainerName(t *testing.T) {
	a := GenerateContainerName("/home/user/.scriptorium")
	b := GenerateContainerName("/home/user/.scriptorium")
	c := GenerateContainerName("/home/other/.scriptorium")

	if a != b {
		t.Errorf("not deterministic: %q != %q", a, b)
	}
	if a == c {
		t.Errorf("different homes produced the same name %q", a)
	}
	if !strings.HasPrefix(a, ContainerNamePrefix) || len(a) != len(ContainerNamePrefix)+8 {
		t.Errorf("unexpected name shape %q", a)
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := newManager(nil, Config{Kind: Redis})

	if m.Name() != "scriptorium-store-redis" {
		t.Errorf("Name() = %q", m.Name())
	}
	if m.HostPort() != "6379" {
		t.Errorf("HostPort() = %q", m.HostPort())
	}
	if m.image != Redis.Image {
		t.Errorf("image = %q", m.image)
	}
	if m.labels[Label] != "redis" {
		t.Errorf("labels = %v", m.labels)
	}
}

func TestWaitReady(t *testing.T) {
	t.Run("no probe", func(t *testing.T) {
		m := newManager(nil, Config{Kind: Postgres})
		if err := m.WaitReady(context.Background(), time.Second); err != nil {
			t.Errorf("WaitReady() error = %v", err)
		}
	})

	t.Run("probe succeeds after retries", func(t *testing.T) {
		calls := 0
		m := newManager(nil, Config{Kind: Postgres, Probe: func(ctx context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("not yet")
			}
			return nil
		}})
		if err := m.WaitReady(context.Background(), 5*time.Second); err != nil {
			t.Errorf("WaitReady() error = %v", err)
		}
		if calls != 2 {
			t.Errorf("probe calls = %d, want 2", calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		m := newManager(nil, Config{Kind: Redis, Probe: func(ctx context.Context) error {
			return errors.New("refused")
		}})
		err := m.WaitReady(context.Background(), time.Second)
		if err == nil || !strings.Contains(err.Error(), "refused") {
			t.Errorf("WaitReady() error = %v, want refused", err)
		}
	})
}

func TestStatusFromState(t *testing.T) {
	tests := map[string]Status{
		"running":  StatusRunning,
		"exited":   StatusStopped,
		"created":  StatusStarting,
		"removing": Status("removing"),
	}
	for state, want := range tests {
		if got := statusFromState(state); got != want {
			t.Errorf("statusFromState(%q) = %q, want %q", state, got, want)
		}
	}
}
