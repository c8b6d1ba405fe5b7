package connection

import (
	"reflect"
	"testing"
)

func TestMergeEnvironment_PairOverlayReplacesInPlace(t *testing.T) {
	base := []EnvVar{
		{Key: "PATH", Value: "/usr/bin"},
		{Key: "LANG", Value: "C"},
	}

	got := MergeEnvironment(base, PairOverlay{
		{Key: "PATH", Value: "/opt/bin"},
		{Key: "EDITOR", Value: "vi"},
	})

	want := []EnvVar{
		{Key: "PATH", Value: "/opt/bin"},
		{Key: "LANG", Value: "C"},
		{Key: "EDITOR", Value: "vi"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeEnvironment() = %v, want %v", got, want)
	}

	// The base slice must not be modified.
	if base[0].Value != "/usr/bin" {
		t.Error("MergeEnvironment modified the base set")
	}
}

func TestMergeEnvironment_MapOverlayAppendsDuplicates(t *testing.T) {
	base := []EnvVar{
		{Key: "PATH", Value: "/usr/bin"},
	}

	got := MergeEnvironment(base, MapOverlay{
		"PATH": "/opt/bin",
		"CI":   "1",
	})

	// Map entries are appended in sorted key order, even when the key
	// already exists.
	want := []EnvVar{
		{Key: "PATH", Value: "/usr/bin"},
		{Key: "CI", Value: "1"},
		{Key: "PATH", Value: "/opt/bin"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeEnvironment() = %v, want %v", got, want)
	}
}

func TestMergeEnvironment_NilOverlaySkipped(t *testing.T) {
	base := []EnvVar{{Key: "A", Value: "1"}}

	got := MergeEnvironment(base, nil, PairOverlay{{Key: "B", Value: "2"}})

	want := []EnvVar{
		{Key: "A", Value: "1"},
		{Key: "B", Value: "2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeEnvironment() = %v, want %v", got, want)
	}
}

func TestEscapeShellValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"safe word", "abc-1/2", "abc-1/2"},
		{"backslash path", `dir\sub`, `dir\sub`},
		{"space", "a b", "'a b'"},
		{"single quote", "a b'c", `'a b'\''c'`},
		{"empty", "", "''"},
		{"dollar", "$HOME", "'$HOME'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeShellValue(tt.value); got != tt.want {
				t.Errorf("escapeShellValue(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestExportStatement(t *testing.T) {
	env := []EnvVar{
		{Key: "K", Value: "v"},
		{Key: "MSG", Value: "two words"},
	}

	got := ExportStatement(env)
	want := "export K=v; export MSG='two words'"
	if got != want {
		t.Errorf("ExportStatement() = %q, want %q", got, want)
	}
}

func TestExportStatement_Empty(t *testing.T) {
	if got := ExportStatement(nil); got != "" {
		t.Errorf("ExportStatement(nil) = %q, want empty", got)
	}
}
