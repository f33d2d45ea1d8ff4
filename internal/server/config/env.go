package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/dmitrijs2005/paywall/internal/flagx"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// parseEnv overlays environment variables onto config. Variables from a
// dotenv file (-env flag, else ./.env when present) are loaded first and
// never override variables already set in the process environment.
//
// A nil lookuper means the process environment.
func parseEnv(ctx context.Context, config *Config, lookuper envconfig.Lookuper) error {
	if lookuper == nil {
		if err := loadDotenv(flagx.EnvFileFlag()); err != nil {
			return err
		}
		lookuper = envconfig.OsLookuper()
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   config,
		Lookuper: lookuper,
	}); err != nil {
		return fmt.Errorf("env config: %w", err)
	}
	return nil
}

func loadDotenv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
