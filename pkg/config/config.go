// Package config provides environment-based configuration loading and
// validation.
//
// Configuration is read from a profile-specific dotenv file first
// (".env.production" or ".env.development"), falling back to the generic
// ".env", and finally to ambient environment variables only. The loaded
// struct is then validated with struct tags.
//
// Usage:
//
//	type AppConfig struct {
//		Store store.Config
//		Log   logger.Config
//	}
//
//	var cfg AppConfig
//	if err := config.Load(&cfg, config.Profile()); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/fazpi-ai/fazpi-qbull/pkg/errors"
)

// Profile returns the active profile name from APP_ENV, defaulting to
// "development".
func Profile() string {
	if v := os.Getenv("APP_ENV"); v != "" {
		return v
	}
	return "development"
}

// Load reads configuration from a profile dotenv file (falling back to the
// generic one, then to ambient environment variables) and validates it.
func Load[T any](cfg *T, profile string) error {
	loaded := false
	for _, path := range candidateFiles(profile) {
		if !fileExists(path) {
			continue
		}
		if err := cleanenv.ReadConfig(path, cfg); err == nil {
			loaded = true
			break
		}
	}

	if !loaded {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return errors.Wrap(err, "failed to read env config")
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "config validation failed")
	}

	return nil
}

func candidateFiles(profile string) []string {
	if profile == "production" {
		return []string{".env.production", ".env"}
	}
	return []string{".env.development", ".env"}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
