package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kelvinfs/kelvinfs/internal/connection"
)

func TestStore_Lookup(t *testing.T) {
	store, err := NewStore([]FileConnectionConfig{
		{Name: "build-box", Host: "build.internal", User: "ci"},
		{Name: "staging", Host: "staging.internal", User: "deploy"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	p, ok := store.Lookup("build-box")
	if !ok {
		t.Fatal("Lookup(build-box) not found")
	}
	if p.Host != "build.internal" {
		t.Errorf("Host = %q, want build.internal", p.Host)
	}

	// Lookup returns a copy, mutations must not leak into the store.
	p.Host = "mutated"
	p2, _ := store.Lookup("build-box")
	if p2.Host != "build.internal" {
		t.Error("Lookup returned a shared profile")
	}

	if _, ok := store.Lookup("missing"); ok {
		t.Error("Lookup(missing) should not be found")
	}
}

func TestStore_Names(t *testing.T) {
	store, err := NewStore([]FileConnectionConfig{
		{Name: "zeta", Host: "z.internal"},
		{Name: "alpha", Host: "a.internal"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	names := store.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names() = %v, want [alpha zeta]", names)
	}
}

func TestStore_Resolve_Defaults(t *testing.T) {
	store, err := NewStore([]FileConnectionConfig{
		{Name: "box", Host: "box.internal", User: "ci"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	raw, _ := store.Lookup("box")
	actual, err := store.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if actual.Port != 22 {
		t.Errorf("Port = %d, want 22", actual.Port)
	}
	if raw.Port != 0 {
		t.Error("Resolve modified the raw profile")
	}
}

func TestStore_Resolve_PasswordFile(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(secretPath, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatalf("failed to write secret: %v", err)
	}

	store, err := NewStore([]FileConnectionConfig{
		{Name: "box", Host: "box.internal", User: "ci", PasswordFile: secretPath},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	raw, _ := store.Lookup("box")
	actual, err := store.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if actual.Password != "hunter2" {
		t.Errorf("Password = %q, want hunter2", actual.Password)
	}
}

func TestStore_Resolve_MissingPasswordFile(t *testing.T) {
	store, err := NewStore([]FileConnectionConfig{
		{Name: "box", Host: "box.internal", User: "ci", PasswordFile: "/nonexistent/secret"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	raw, _ := store.Lookup("box")
	if _, err := store.Resolve(context.Background(), raw); err == nil {
		t.Error("Resolve() expected error for missing password file")
	}
}

func TestStore_Resolve_EnvOverride(t *testing.T) {
	t.Setenv("KELVINFS_BUILD_BOX_PASSWORD", "from-env")

	store, err := NewStore([]FileConnectionConfig{
		{Name: "build-box", Host: "build.internal", User: "ci", Password: "from-file"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	raw, _ := store.Lookup("build-box")
	actual, err := store.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if actual.Password != "from-env" {
		t.Errorf("Password = %q, want from-env", actual.Password)
	}
}

func TestStore_Resolve_CancelledContext(t *testing.T) {
	store, err := NewStore([]FileConnectionConfig{
		{Name: "box", Host: "box.internal", User: "ci"},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raw, _ := store.Lookup("box")
	if _, err := store.Resolve(ctx, raw); err == nil {
		t.Error("Resolve() expected error for cancelled context")
	}
}

func TestStore_EnvironmentConversion(t *testing.T) {
	store, err := NewStore([]FileConnectionConfig{
		{
			Name: "box",
			Host: "box.internal",
			User: "ci",
			Environment: []string{
				"PATH=/opt/bin:$PATH",
				"EMPTY=",
			},
			Timeout: "45s",
		},
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	p, _ := store.Lookup("box")
	want := []connection.EnvVar{
		{Key: "PATH", Value: "/opt/bin:$PATH"},
		{Key: "EMPTY", Value: ""},
	}
	if len(p.Environment) != len(want) {
		t.Fatalf("Environment = %v, want %v", p.Environment, want)
	}
	for i := range want {
		if p.Environment[i] != want[i] {
			t.Errorf("Environment[%d] = %v, want %v", i, p.Environment[i], want[i])
		}
	}
	if p.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", p.Timeout)
	}
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", `
logging:
  level: debug
connections:
  - name: box
    host: box.internal
    user: ci
`)

	global, store, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if global.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", global.LogLevel)
	}
	if global.LogFormat != DefaultLogFormat {
		t.Errorf("LogFormat = %q, want default %q", global.LogFormat, DefaultLogFormat)
	}
	if global.HealthPort != DefaultHealthPort {
		t.Errorf("HealthPort = %d, want default %d", global.HealthPort, DefaultHealthPort)
	}
	if global.IdleInterval != DefaultIdleInterval {
		t.Errorf("IdleInterval = %v, want default %v", global.IdleInterval, DefaultIdleInterval)
	}

	if _, ok := store.Lookup("box"); !ok {
		t.Error("store missing profile box")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KELVINFS_LOG_LEVEL", "error")
	t.Setenv("KELVINFS_HEALTH_PORT", "9999")
	t.Setenv("KELVINFS_IDLE_INTERVAL", "30s")

	path := writeTempConfig(t, "config.yaml", `
logging:
  level: debug
`)

	global, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if global.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error", global.LogLevel)
	}
	if global.HealthPort != 9999 {
		t.Errorf("HealthPort = %d, want 9999", global.HealthPort)
	}
	if global.IdleInterval != 30*time.Second {
		t.Errorf("IdleInterval = %v, want 30s", global.IdleInterval)
	}
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("KELVINFS_HEALTH_PORT", "not-a-port")

	path := writeTempConfig(t, "config.yaml", "")

	if _, _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad KELVINFS_HEALTH_PORT")
	}
}
