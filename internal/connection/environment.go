package connection

import (
	"sort"
	"strings"
)

// EnvVar is one environment variable. Connection environments are ordered
// lists of these, unique by key unless a map overlay introduced a duplicate.
type EnvVar struct {
	Key   string
	Value string
}

// Overlay is a source of environment variables merged on top of a base set.
// The two implementations carry different semantics on purpose: PairOverlay
// replaces matching keys in place, MapOverlay appends without deduplication.
type Overlay interface {
	merge(acc []EnvVar) []EnvVar
}

// PairOverlay is an ordered overlay. An entry whose key already exists in
// the accumulated result replaces that entry at its original position; new
// keys are appended in overlay order.
type PairOverlay []EnvVar

func (o PairOverlay) merge(acc []EnvVar) []EnvVar {
	for _, v := range o {
		replaced := false
		for i := range acc {
			if acc[i].Key == v.Key {
				acc[i] = v
				replaced = true
				break
			}
		}
		if !replaced {
			acc = append(acc, v)
		}
	}
	return acc
}

// MapOverlay is an unordered overlay. Its entries are appended in sorted key
// order without checking for existing keys, so duplicate keys can result.
// This mirrors the historical behavior of map-shaped configuration inputs.
type MapOverlay map[string]string

func (o MapOverlay) merge(acc []EnvVar) []EnvVar {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		acc = append(acc, EnvVar{Key: k, Value: o[k]})
	}
	return acc
}

// MergeEnvironment combines a base variable set with zero or more overlays,
// applied left to right. The base is not modified; a nil overlay is skipped.
func MergeEnvironment(base []EnvVar, overlays ...Overlay) []EnvVar {
	acc := append([]EnvVar(nil), base...)
	for _, o := range overlays {
		if o == nil {
			continue
		}
		acc = o.merge(acc)
	}
	return acc
}

// shellSafe reports whether s consists only of characters that need no
// quoting in a shell word: letters, digits, underscore, hyphen, and forward
// or backward slashes.
func shellSafe(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '/' || r == '\\':
		default:
			return false
		}
	}
	return true
}

// escapeShellValue returns s as a shell-safe literal: unchanged when every
// character is safe, otherwise single-quoted with each embedded single quote
// emitted as the close-escape-reopen sequence.
func escapeShellValue(s string) string {
	if shellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ExportStatement renders an environment set as a single shell statement
// exporting every variable, e.g. `export A=1; export B='two words'`.
func ExportStatement(env []EnvVar) string {
	parts := make([]string, 0, len(env))
	for _, v := range env {
		parts = append(parts, "export "+escapeShellValue(v.Key)+"="+escapeShellValue(v.Value))
	}
	return strings.Join(parts, "; ")
}
