package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath names the environment variable that overrides the config location.
const EnvConfigPath = "QLIP_CONFIG"

// ResolvePath picks the config.jsonc location: explicit flag, then $QLIP_CONFIG,
// then XDG_CONFIG_HOME, then ~/.config.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return expandUserPath(explicit), nil
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return expandUserPath(env), nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "qlip", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "qlip", "config.jsonc"), nil
}

// ResolveStorePath returns the audio database path, defaulting under XDG_DATA_HOME.
func ResolveStorePath(configured string) (string, error) {
	if path := expandUserPath(configured); path != "" {
		return path, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		return filepath.Join(xdg, "qlip", "audio.db"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for store fallback")
	}

	return filepath.Join(home, ".local", "share", "qlip", "audio.db"), nil
}

func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(raw, "~"), "/"))
}
