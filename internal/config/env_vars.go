package config

import (
	"os"
	"strconv"
	"time"
)

const (
	appNameVar        = "APP_NAME"
	apiBaseURLVar     = "PANEL_API_URL"
	realtimeURLVar    = "PANEL_WS_URL"
	requestTimeoutVar = "PANEL_REQUEST_TIMEOUT"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Panel Client")
}

// GetAPIBaseURL returns the base URL for the control-panel REST API,
// e.g. "https://panel.example.com/api". All HTTP calls are made relative
// to this URL.
func (EnvVars) GetAPIBaseURL() string {
	return GetEnv(apiBaseURLVar, "http://localhost:5000/api")
}

// GetRealtimeURL returns the websocket endpoint for the realtime event
// channel, e.g. "wss://panel.example.com/ws".
func (EnvVars) GetRealtimeURL() string {
	return GetEnv(realtimeURLVar, "ws://localhost:5000/ws")
}

// GetRequestTimeout returns the fixed per-call ceiling for HTTP requests.
// A request exceeding it is treated as a network failure.
func (EnvVars) GetRequestTimeout() time.Duration {
	seconds, err := strconv.Atoi(GetEnv(requestTimeoutVar, "10"))
	if err != nil || seconds <= 0 {
		seconds = 10
	}
	return time.Duration(seconds) * time.Second
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
