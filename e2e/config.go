package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HostAddr string `envconfig:"HOST_ADDR"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_CAPACITY must match the SESSION_CAPACITY of the running host
	Capacity int `envconfig:"E2E_CAPACITY" default:"4"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
