package config

import (
	"os"
	"strings"
)

// getEnv retrieves an environment variable value.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrFile retrieves a value from either a direct environment variable
// or a file path specified by the file key (Docker secrets pattern).
//
// If both are set, the file takes precedence. This allows local development
// with direct values while production uses Docker secrets.
//
// The file contents are trimmed of leading/trailing whitespace.
func getEnvOrFile(directKey, fileKey string) string {
	// Check for file-based secret first (Docker secrets pattern)
	if filePath := os.Getenv(fileKey); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
		// If file read fails, fall through to direct value
	}

	return os.Getenv(directKey)
}

// getEnvWithFileFallback retrieves a value supporting the _FILE suffix pattern.
// Given a base key like "PASSWORD", it checks:
//  1. PASSWORD_FILE - reads file contents if set
//  2. PASSWORD - returns direct value if set
func getEnvWithFileFallback(prefix, key string) string {
	return getEnvOrFile(prefix+key, prefix+key+"_FILE")
}

// normalizeProfileName converts a profile name to environment variable format.
// Example: "build-box" → "BUILD_BOX"
func normalizeProfileName(name string) string {
	normalized := strings.ToUpper(name)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	return normalized
}

// profileEnvPrefix creates the full environment variable prefix for a
// connection profile. Example: "build-box" → "KELVINFS_BUILD_BOX_"
func profileEnvPrefix(name string) string {
	return "KELVINFS_" + normalizeProfileName(name) + "_"
}
