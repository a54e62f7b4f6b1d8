package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetList retrieves a comma separated environment variable or returns fallback.
func GetList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
