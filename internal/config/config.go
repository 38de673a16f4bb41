package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	urlvalidation "github.com/pders01/stashsave/internal/validation"
)

const (
	DefaultAPIBaseURL   = "http://127.0.0.1:8000"
	DefaultScopes       = "read:user repo"
	DefaultCallbackAddr = "127.0.0.1:54329"
	DefaultStorageKey   = "stashsave-auth"
	DefaultTopK         = 5
	MinTopK             = 1
	MaxTopK             = 10
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Search   SearchConfig   `mapstructure:"search"`
	Log      LogConfig      `mapstructure:"log"`
	UI       UIConfig       `mapstructure:"ui"`
	Keys     KeyConfig      `mapstructure:"keys"`
}

type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
}

type AuthConfig struct {
	URL           string        `mapstructure:"url"`
	AnonKey       string        `mapstructure:"anon_key"`
	Provider      string        `mapstructure:"provider"`
	Scopes        string        `mapstructure:"scopes"`
	RedirectURL   string        `mapstructure:"redirect_url"`
	CallbackAddr  string        `mapstructure:"callback_addr"`
	StorageKey    string        `mapstructure:"storage_key"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
	SignInTimeout time.Duration `mapstructure:"sign_in_timeout"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
	RefreshTick   time.Duration `mapstructure:"refresh_tick"`
	AutoRefresh   bool          `mapstructure:"auto_refresh"`
}

type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	DefaultTopK int `mapstructure:"default_top_k"`
	HistorySize int `mapstructure:"history_size"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type UIConfig struct {
	Colors UIColors       `mapstructure:"colors"`
	Result ResultUIConfig `mapstructure:"result"`
	Opener string         `mapstructure:"opener"`
}

type UIColors struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
	Accent    string `mapstructure:"accent"`
	Text      string `mapstructure:"text"`
	Muted     string `mapstructure:"muted"`
	Warn      string `mapstructure:"warn"`
	Error     string `mapstructure:"error"`
	Success   string `mapstructure:"success"`
}

type ResultUIConfig struct {
	MaxDescriptionLength int `mapstructure:"max_description_length"`
	WordWrapMaxWidth     int `mapstructure:"word_wrap_max_width"`
	WordWrapMinWidth     int `mapstructure:"word_wrap_min_width"`
}

type KeyConfig struct {
	Modifier string      `mapstructure:"modifier"`
	Bindings KeyBindings `mapstructure:"bindings"`
}

type KeyBindings struct {
	Login        string `mapstructure:"login"`
	Logout       string `mapstructure:"logout"`
	Import       string `mapstructure:"import"`
	MoreResults  string `mapstructure:"more_results"`
	FewerResults string `mapstructure:"fewer_results"`
	OpenLink     string `mapstructure:"open_link"`
	Quit         string `mapstructure:"quit"`
	Back         string `mapstructure:"back"`
}

// AuthConfigured reports whether the identity service can be used at all.
func (c *Config) AuthConfigured() bool {
	return strings.TrimSpace(c.Auth.URL) != "" && strings.TrimSpace(c.Auth.AnonKey) != ""
}

// CallbackOrigin is the origin of the local listener that receives the OAuth
// redirect. It plays the role of the page origin when no redirect URL is set.
func (c *Config) CallbackOrigin() string {
	return "http://" + c.Auth.CallbackAddr
}

// RedirectTarget returns the configured redirect URL or the callback origin.
func (c *Config) RedirectTarget() string {
	if c.Auth.RedirectURL != "" {
		return c.Auth.RedirectURL
	}
	return c.CallbackOrigin()
}

// Validate checks the loaded configuration. Identity settings are optional:
// their absence only disables the authenticated features.
func (c *Config) Validate() error {
	endpoint := validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		_, err := urlvalidation.NewEndpointValidator().ValidateAndNormalize(s)
		return err
	})

	if err := validation.ValidateStruct(&c.API,
		validation.Field(&c.API.BaseURL, validation.Required, endpoint),
		validation.Field(&c.API.HTTPTimeout, validation.Required),
	); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.URL, endpoint),
		validation.Field(&c.Auth.RedirectURL, endpoint),
		validation.Field(&c.Auth.Provider, validation.Required),
		validation.Field(&c.Auth.CallbackAddr, validation.Required),
		validation.Field(&c.Auth.StorageKey, validation.Required),
		validation.Field(&c.Auth.SignInTimeout, validation.Required),
	); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if err := validation.ValidateStruct(&c.Search,
		validation.Field(&c.Search.DefaultTopK, validation.Min(MinTopK), validation.Max(MaxTopK)),
		validation.Field(&c.Search.HistorySize, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("search: %w", err)
	}

	return nil
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".stashsave")

	return &Config{
		API: APIConfig{
			BaseURL:     DefaultAPIBaseURL,
			HTTPTimeout: 5 * time.Minute,
			UserAgent:   "stashsave/1.0 (https://github.com/pders01/stashsave)",
		},
		Auth: AuthConfig{
			Provider:      "github",
			Scopes:        DefaultScopes,
			CallbackAddr:  DefaultCallbackAddr,
			StorageKey:    DefaultStorageKey,
			HTTPTimeout:   30 * time.Second,
			SignInTimeout: 5 * time.Minute,
			RefreshMargin: 90 * time.Second,
			RefreshTick:   30 * time.Second,
			AutoRefresh:   true,
		},
		Database: DatabaseConfig{
			Path:    filepath.Join(dataDir, "stashsave.db"),
			Timeout: 1 * time.Second,
		},
		Search: SearchConfig{
			DefaultTopK: DefaultTopK,
			HistorySize: 50,
		},
		Log: LogConfig{
			Level:      "off",
			File:       filepath.Join(dataDir, "stashsave.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:   "#FF6B6B",
				Secondary: "#4ECDC4",
				Accent:    "#95E1D3",
				Text:      "#EAEAEA",
				Muted:     "#94A3B8",
				Warn:      "#FFE66D",
				Error:     "#F87171",
				Success:   "#4ADE80",
			},
			Result: ResultUIConfig{
				MaxDescriptionLength: 120,
				WordWrapMaxWidth:     120,
				WordWrapMinWidth:     40,
			},
			Opener: getDefaultOpener(),
		},
		Keys: KeyConfig{
			Modifier: "ctrl",
			Bindings: KeyBindings{
				Login:        "l",
				Logout:       "x",
				Import:       "g",
				MoreResults:  "k",
				FewerResults: "j",
				OpenLink:     "o",
				Quit:         "q",
				Back:         "esc",
			},
		},
	}
}

func getDefaultOpener() string {
	switch runtime.GOOS {
	case "darwin":
		return "open"
	case "linux":
		return "xdg-open"
	case "windows":
		return "start"
	default:
		return "open"
	}
}

// envAliases lets the variable names used by the web frontend keep working.
var envAliases = map[string][]string{
	"api.base_url":      {"STASHSAVE_API_BASE_URL", "API_BASE_URL"},
	"auth.url":          {"STASHSAVE_AUTH_URL", "SUPABASE_URL"},
	"auth.anon_key":     {"STASHSAVE_AUTH_ANON_KEY", "SUPABASE_ANON_KEY"},
	"auth.scopes":       {"STASHSAVE_AUTH_SCOPES", "GITHUB_SCOPES"},
	"auth.redirect_url": {"STASHSAVE_AUTH_REDIRECT_URL", "SUPABASE_REDIRECT_URL"},
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.http_timeout", cfg.API.HTTPTimeout)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)

	v.SetDefault("auth.url", cfg.Auth.URL)
	v.SetDefault("auth.anon_key", cfg.Auth.AnonKey)
	v.SetDefault("auth.provider", cfg.Auth.Provider)
	v.SetDefault("auth.scopes", cfg.Auth.Scopes)
	v.SetDefault("auth.redirect_url", cfg.Auth.RedirectURL)
	v.SetDefault("auth.callback_addr", cfg.Auth.CallbackAddr)
	v.SetDefault("auth.storage_key", cfg.Auth.StorageKey)
	v.SetDefault("auth.http_timeout", cfg.Auth.HTTPTimeout)
	v.SetDefault("auth.sign_in_timeout", cfg.Auth.SignInTimeout)
	v.SetDefault("auth.refresh_margin", cfg.Auth.RefreshMargin)
	v.SetDefault("auth.refresh_tick", cfg.Auth.RefreshTick)
	v.SetDefault("auth.auto_refresh", cfg.Auth.AutoRefresh)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.timeout", cfg.Database.Timeout)

	v.SetDefault("search.default_top_k", cfg.Search.DefaultTopK)
	v.SetDefault("search.history_size", cfg.Search.HistorySize)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)

	for key, value := range uiSettings(cfg.UI) {
		v.SetDefault("ui."+key, value)
	}
	for key, value := range keySettings(cfg.Keys) {
		v.SetDefault("keys."+key, value)
	}
}

func uiSettings(ui UIConfig) map[string]interface{} {
	return map[string]interface{}{
		"opener":                        ui.Opener,
		"colors.primary":                ui.Colors.Primary,
		"colors.secondary":              ui.Colors.Secondary,
		"colors.accent":                 ui.Colors.Accent,
		"colors.text":                   ui.Colors.Text,
		"colors.muted":                  ui.Colors.Muted,
		"colors.warn":                   ui.Colors.Warn,
		"colors.error":                  ui.Colors.Error,
		"colors.success":                ui.Colors.Success,
		"result.max_description_length": ui.Result.MaxDescriptionLength,
		"result.word_wrap_max_width":    ui.Result.WordWrapMaxWidth,
		"result.word_wrap_min_width":    ui.Result.WordWrapMinWidth,
	}
}

func keySettings(keys KeyConfig) map[string]interface{} {
	return map[string]interface{}{
		"modifier":               keys.Modifier,
		"bindings.login":         keys.Bindings.Login,
		"bindings.logout":        keys.Bindings.Logout,
		"bindings.import":        keys.Bindings.Import,
		"bindings.more_results":  keys.Bindings.MoreResults,
		"bindings.fewer_results": keys.Bindings.FewerResults,
		"bindings.open_link":     keys.Bindings.OpenLink,
		"bindings.quit":          keys.Bindings.Quit,
		"bindings.back":          keys.Bindings.Back,
	}
}

// loadDotEnv reads a .env file from the working directory without
// overriding variables that are already set.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, defaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "stashsave")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STASHSAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)
	if err := normalizeURLs(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// normalizeURLs trims and canonicalises endpoint URLs so callers can append
// paths without worrying about trailing slashes.
func normalizeURLs(cfg *Config) error {
	validator := urlvalidation.NewEndpointValidator()

	base, err := validator.ValidateAndNormalize(cfg.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	cfg.API.BaseURL = base

	cfg.Auth.URL = strings.TrimSpace(cfg.Auth.URL)
	if cfg.Auth.URL != "" {
		authURL, err := validator.ValidateAndNormalize(cfg.Auth.URL)
		if err != nil {
			return fmt.Errorf("auth.url: %w", err)
		}
		cfg.Auth.URL = authURL
	}
	cfg.Auth.AnonKey = strings.TrimSpace(cfg.Auth.AnonKey)
	cfg.Auth.RedirectURL = strings.TrimSpace(cfg.Auth.RedirectURL)
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Log.File = expandPath(cfg.Log.File)
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Durations as strings for TOML readability
	apiCfg := map[string]interface{}{
		"base_url":     config.API.BaseURL,
		"http_timeout": config.API.HTTPTimeout.String(),
		"user_agent":   config.API.UserAgent,
	}

	authCfg := map[string]interface{}{
		"url":             config.Auth.URL,
		"anon_key":        config.Auth.AnonKey,
		"provider":        config.Auth.Provider,
		"scopes":          config.Auth.Scopes,
		"redirect_url":    config.Auth.RedirectURL,
		"callback_addr":   config.Auth.CallbackAddr,
		"storage_key":     config.Auth.StorageKey,
		"http_timeout":    config.Auth.HTTPTimeout.String(),
		"sign_in_timeout": config.Auth.SignInTimeout.String(),
		"refresh_margin":  config.Auth.RefreshMargin.String(),
		"refresh_tick":    config.Auth.RefreshTick.String(),
		"auto_refresh":    config.Auth.AutoRefresh,
	}

	dbCfg := map[string]interface{}{
		"path":    config.Database.Path,
		"timeout": config.Database.Timeout.String(),
	}

	searchCfg := map[string]interface{}{
		"default_top_k": config.Search.DefaultTopK,
		"history_size":  config.Search.HistorySize,
	}

	logCfg := map[string]interface{}{
		"level":       config.Log.Level,
		"file":        config.Log.File,
		"max_size_mb": config.Log.MaxSizeMB,
		"max_backups": config.Log.MaxBackups,
	}

	v.Set("api", apiCfg)
	v.Set("auth", authCfg)
	v.Set("database", dbCfg)
	v.Set("search", searchCfg)
	v.Set("log", logCfg)
	for key, value := range uiSettings(config.UI) {
		v.Set("ui."+key, value)
	}
	for key, value := range keySettings(config.Keys) {
		v.Set("keys."+key, value)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
