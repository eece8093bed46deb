// Package config reads the small set of environment variables the WARK
// server needs, in the plain os.Getenv + parse-with-default idiom the
// teacher uses (services/credits/main.go's getEnv helper;
// services/guardian/main.go's getenvInt), matching the defaults the
// original config.rs hard-codes. No config library (viper etc.) is wired:
// neither the teacher nor any other pack repo reaches for one just to
// read a handful of scalar env vars.
package config

import (
	"os"
	"strconv"
)

// Config holds the server's environment-derived settings.
type Config struct {
	Port        int
	AppSecret   string
	MaxCost     uint64
	MaxMemoryMB uint32
	CacheDir    string
	LogLevel    string
}

// Load reads Config from the process environment, falling back to the
// original's defaults (PORT=33000, MAX_COST=1_000_000_000, MAX_MEMORY=4096,
// APP_SECRET="APP_SECRET") wherever a variable is unset or unparsable.
func Load() Config {
	return Config{
		Port:        getenvInt("PORT", 33000),
		AppSecret:   getenv("APP_SECRET", "APP_SECRET"),
		MaxCost:     getenvUint64("MAX_COST", 1_000_000_000),
		MaxMemoryMB: uint32(getenvInt("MAX_MEMORY", 4096)),
		CacheDir:    getenv("WARK_CACHE_DIR", "http-cache"),
		LogLevel:    getenv("WARK_LOG_LEVEL", "info"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvUint64(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
