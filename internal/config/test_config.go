package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	cfg := defaultConfig()
	cfg.API.HTTPTimeout = 5 * time.Second
	cfg.API.UserAgent = "stashsave-test/1.0"
	cfg.Auth.URL = "http://127.0.0.1:9999"
	cfg.Auth.AnonKey = "test-anon-key"
	cfg.Auth.CallbackAddr = "127.0.0.1:0"
	cfg.Auth.HTTPTimeout = 5 * time.Second
	cfg.Auth.SignInTimeout = 1 * time.Minute
	cfg.Auth.AutoRefresh = false
	cfg.Database.Path = ":memory:"
	cfg.Log.Level = "off"
	return cfg
}
