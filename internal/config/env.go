// FILE: env.go
// Package config - Environment helpers.
//
// This file provides:
//   1) Small helpers to read environment variables with defaults
//      (strings, ints, floats, bools, durations, lists). A value that does
//      not parse is logged and replaced by the default.
//   2) loadDotEnv, which hydrates the process env from a .env file without
//      overriding keys that are already set.
//
// Notes:
//   - No `export $(cat .env ...)` is ever required.
//   - ENV_FILE points at an alternative file; a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// --------- Env helpers ---------

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parseEnv applies parse to a set key. Unset keys and values parse rejects
// yield def; a rejected value is logged so a typo does not pass silently.
func parseEnv[T any](key string, def T, parse func(string) (T, error)) T {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Interface("default", def).Msg("env: unparseable value, using default")
		return def
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	return parseEnv(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvInt(key string, def int) int {
	return parseEnv(key, def, strconv.Atoi)
}

func getEnvBool(key string, def bool) bool {
	return parseEnv(key, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "1", "true", "y", "yes", "on":
			return true, nil
		case "0", "false", "n", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

// getEnvMinutes reads an integer count of minutes.
func getEnvMinutes(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Minute
}

// getEnvSeconds reads an integer count of seconds.
func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --------- .env loader ---------

// loadDotEnv reads ENV_FILE (default ".env"). godotenv.Load never overrides
// variables already present in the process env.
func loadDotEnv() {
	path := getEnv("ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		log.Debug().Str("path", path).Msg("env: file not found, relying on process env")
		return
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("env: cannot load file")
		return
	}
	log.Debug().Str("path", path).Msg("env: loaded")
}
