package config

import "time"

// WatchConfig holds the knobs the CLI reads from the environment. Credentials come
// from flags or the CLI config file instead.
type WatchConfig struct {
	VercelAPIURL    string
	HTTPTimeout     time.Duration
	PollInterval    time.Duration
	PollMaxFailures int
	ReadyStates     []string
	ErrorStates     []string
	LogLevel        string
}

// LoadWatchConfig constructs a WatchConfig from environment variables.
func LoadWatchConfig() WatchConfig {
	return WatchConfig{
		VercelAPIURL:    GetString("VERCEL_API_URL", DefaultVercelAPIURL),
		HTTPTimeout:     time.Duration(GetInt("VERCEL_HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		PollInterval:    time.Duration(GetInt("POLL_INTERVAL_MS", int(DefaultPollInterval/time.Millisecond))) * time.Millisecond,
		PollMaxFailures: GetInt("POLL_MAX_FAILURES", DefaultPollMaxFailures),
		ReadyStates:     GetList("READY_STATES", []string{"READY"}),
		ErrorStates:     GetList("ERROR_STATES", []string{"ERROR", "CANCELED"}),
		LogLevel:        GetString("LOG_LEVEL", "warn"),
	}
}
