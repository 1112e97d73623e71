package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Engine
	NumTracks       int
	MetronomeVolume float64

	// Output driver: "device" plays through the system output,
	// "clock" renders headless at wall-clock rate.
	Output string

	// Files to load into tracks 1..N at startup.
	Preload []string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:            envInt("LOOPDECK_PORT", 8080),
		NumTracks:       envInt("LOOPDECK_TRACKS", 8),
		MetronomeVolume: envFloat("LOOPDECK_METRONOME_VOLUME", 0.8),
		Output:          envStr("LOOPDECK_OUTPUT", "device"),
		Preload:         envList("LOOPDECK_PRELOAD"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
