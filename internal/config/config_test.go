package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":    func(c *Config) { c.Backend = "mongo" },
		"empty jwt secret":   func(c *Config) { c.JWTSecret = "" },
		"zero poll interval": func(c *Config) { c.PollInterval = 0 },
		"sqlite no path":     func(c *Config) { c.SQLitePath = "" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
