package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvDB      = "AGENCY_DB"
	EnvListen  = "AGENCY_LISTEN"
	EnvTTLPort = "AGENCY_TTL_PORT"
)

// Defaults for process settings.
const (
	DefaultDB     = "agency.db"
	DefaultListen = "127.0.0.1:8765"
)

// Env holds process settings: where the event log lives, where the bus and
// sensor bridge listen, and which serial port carries TTL markers.
type Env struct {
	DB      string
	Listen  string
	TTLPort string
}

// LoadEnv loads .env files (default ".env") into the process environment,
// without overriding variables already set, then reads the settings.
// Missing files are not an error.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, err
		}
	}
	return Env{
		DB:      getenv(EnvDB, DefaultDB),
		Listen:  getenv(EnvListen, DefaultListen),
		TTLPort: os.Getenv(EnvTTLPort),
	}, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
