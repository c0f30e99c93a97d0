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
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
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
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}

// GetIntMap parses a comma separated list of name=int pairs. Malformed
// entries are logged and skipped.
func GetIntMap(key string) map[string]int {
	out := make(map[string]int)
	for _, item := range GetList(key) {
		name, raw, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		parsed, err := strconv.Atoi(strings.TrimSpace(raw))
		if !ok || name == "" || err != nil {
			log.Printf("invalid entry %q for %s", item, key)
			continue
		}
		out[name] = parsed
	}
	return out
}

// GetList splits a comma separated environment variable, dropping empty items.
func GetList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
