package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the sync client.
type Config struct {
	AppName              string
	AppEnv               string
	APIBaseURL           string
	PushURL              string
	AccessToken          string
	RequestTimeout       time.Duration
	HistoryPageSize      int
	TypingIdleWindow     time.Duration
	RemoteTypingTTL      time.Duration
	NotificationInterval time.Duration
	NotificationLimit    int
	UnavailableThreshold int
	ReconnectMinBackoff  time.Duration
	ReconnectMaxBackoff  time.Duration
	EnableSound          bool
	EnableDesktopAlerts  bool
}

// PushAddress returns the websocket endpoint, deriving it from the API base
// URL when no explicit push URL is configured.
func (c Config) PushAddress() string {
	if c.PushURL != "" {
		return c.PushURL
	}

	address := c.APIBaseURL
	address = strings.Replace(address, "https://", "wss://", 1)
	address = strings.Replace(address, "http://", "ws://", 1)
	return strings.TrimSuffix(address, "/") + "/ws"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TASKHIVE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "TaskHive Sync")
	v.SetDefault("app.env", "development")
	v.SetDefault("request.timeout", "15s")
	v.SetDefault("history.page_size", 50)
	v.SetDefault("typing.idle_window", "1s")
	v.SetDefault("typing.remote_ttl", "3s")
	v.SetDefault("notifications.poll_interval", "30s")
	v.SetDefault("notifications.limit", 20)
	v.SetDefault("notifications.unavailable_threshold", 3)
	v.SetDefault("reconnect.min_backoff", "500ms")
	v.SetDefault("reconnect.max_backoff", "30s")
	v.SetDefault("alerts.sound", true)
	v.SetDefault("alerts.desktop", true)

	parseDuration := func(key string) (time.Duration, error) {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		return parsed, nil
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		APIBaseURL:           v.GetString("api.base_url"),
		PushURL:              v.GetString("push.url"),
		AccessToken:          v.GetString("access.token"),
		HistoryPageSize:      v.GetInt("history.page_size"),
		NotificationLimit:    v.GetInt("notifications.limit"),
		UnavailableThreshold: v.GetInt("notifications.unavailable_threshold"),
		EnableSound:          v.GetBool("alerts.sound"),
		EnableDesktopAlerts:  v.GetBool("alerts.desktop"),
	}

	var err error
	if cfg.RequestTimeout, err = parseDuration("request.timeout"); err != nil {
		return Config{}, err
	}
	if cfg.TypingIdleWindow, err = parseDuration("typing.idle_window"); err != nil {
		return Config{}, err
	}
	if cfg.RemoteTypingTTL, err = parseDuration("typing.remote_ttl"); err != nil {
		return Config{}, err
	}
	if cfg.NotificationInterval, err = parseDuration("notifications.poll_interval"); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMinBackoff, err = parseDuration("reconnect.min_backoff"); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMaxBackoff, err = parseDuration("reconnect.max_backoff"); err != nil {
		return Config{}, err
	}

	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("api base url must be provided")
	}

	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}

	if cfg.NotificationLimit <= 0 {
		cfg.NotificationLimit = 20
	}

	if cfg.UnavailableThreshold <= 0 {
		cfg.UnavailableThreshold = 3
	}

	return cfg, nil
}
