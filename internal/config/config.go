package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/caarlos0/env/v6"

	"github.com/punchamoorthee/adauction/internal/domain"
)

type Config struct {
	// DBSource is a Postgres connection string. The ledger is kept in memory
	// when it is empty.
	DBSource        string         `env:"DB_SOURCE"`
	Port            string         `env:"SERVER_PORT" envDefault:"8080"`
	Env             string         `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string         `env:"LOG_LEVEL" envDefault:"info"`
	Owner           domain.Address `env:"OWNER_ADDRESS,required,notEmpty"`
	ShutdownTimeout time.Duration  `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func Load() (*Config, error) {
	var cfg Config
	err := env.ParseWithFuncs(&cfg, map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(domain.Address("")): func(v string) (interface{}, error) {
			return domain.ParseAddress(v)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("config parsing failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
