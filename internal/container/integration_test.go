package container

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackzampolin/scriptorium/internal/store"
	"github.com/jackzampolin/scriptorium/internal/testutil"
)

func TestManager_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping docker-backed test in short mode")
	}
	cli := testutil.DockerClient(t)

	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("FindFreePort() error = %v", err)
	}
	url := fmt.Sprintf("redis://localhost:%s/0", port)

	m := newManager(cli, Config{
		Kind:          Redis,
		ContainerName: testutil.UniqueContainerName(t, "redis"),
		HostPort:      port,
		Labels:        testutil.ContainerLabels(t),
		Probe: func(ctx context.Context) error {
			s, err := store.NewRedisStore(ctx, url, "probe:")
			if err != nil {
				return err
			}
			return s.Close()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	assertStatus(t, m, StatusRunning)
	if err := m.ValidateExisting(ctx); err != nil {
		t.Errorf("ValidateExisting() error = %v", err)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	assertStatus(t, m, StatusStopped)

	if err := m.Start(ctx); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	assertStatus(t, m, StatusRunning)

	if err := m.Remove(ctx); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	assertStatus(t, m, StatusNotFound)
}

func assertStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	got, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
}
