// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN string  `env:"POSTGRES_DSN,notEmpty"`
	PGSchema    string  `env:"PG_SCHEMA" envDefault:"market"`
	PGMaxConns  int32   `env:"PG_MAX_CONNS" envDefault:"8"`
	APIAddr     string  `env:"API_ADDR" envDefault:":8080"`
	Workers     int     `env:"INGEST_WORKERS" envDefault:"4"`
	MaxAttempts int     `env:"MAX_ATTEMPTS" envDefault:"3"`
	MinRPS      float64 `env:"MIN_RPS" envDefault:"0.5"`
	MaxRPS      float64 `env:"MAX_RPS" envDefault:"2"`
	JitterMs    int     `env:"JITTER_MS" envDefault:"250"`
	MaxInflight int     `env:"MAX_INFLIGHT_PER_SOURCE" envDefault:"2"`
	StaleMin    int     `env:"STALE_MINUTES" envDefault:"15"`
	UserAgent   string  `env:"USER_AGENT" envDefault:"porsche-sub005/1.0"`
	HTTPTimeout int     `env:"HTTP_TIMEOUT_SEC" envDefault:"30"`
	Verbose     bool    `env:"VERBOSE" envDefault:"false"`
	JSONSummary bool    `env:"JSON_SUMMARY" envDefault:"false"`

	DaemonMinSec int `env:"DAEMON_MIN_SEC" envDefault:"60"`
	DaemonMaxSec int `env:"DAEMON_MAX_SEC" envDefault:"300"`
}

// Load reads .env if present, then parses the environment. Missing
// required settings are fatal.
func Load() Config {
	_ = godotenv.Load()
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
