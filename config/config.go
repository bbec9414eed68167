// Package config loads environment variables and provides a typed Config used across the service.
// It applies the platform defaults (60s silence threshold, 20 messages per 30s window,
// 10s audio chunks under the 25 MB transcription ceiling) so the binary can run locally
// with only credentials set. For required credentials use ValidateSessionReady.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Twitch
	ChannelName         string `env:"CHANNEL_NAME"`
	TwitchBotUsername   string `env:"TWITCH_BOT_USERNAME" envDefault:"clipgremlin"`
	TwitchBotToken      string `env:"TWITCH_BOT_TOKEN"`
	TwitchClientID      string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret  string `env:"TWITCH_CLIENT_SECRET"`
	TwitchWebhookSecret string `env:"TWITCH_WEBHOOK_SECRET"`

	// OpenAI
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`

	// Bot behavior (seconds/counts; see accessor methods for derived values)
	SilenceDurationSec    int `env:"SILENCE_DURATION" envDefault:"60"`
	MaxMessageRate        int `env:"MAX_MESSAGE_RATE" envDefault:"20"`
	RateLimitWindowSec    int `env:"RATE_LIMIT_WINDOW" envDefault:"30"`
	AudioChunkDurationSec int `env:"AUDIO_CHUNK_DURATION" envDefault:"10"`
	MaxAudioSizeMB        int `env:"MAX_AUDIO_SIZE_MB" envDefault:"25"`

	// Tooling
	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
}

// Load reads environment variables and applies defaults. It doesn't fail if credentials
// are missing; use ValidateSessionReady() when you need to run a live session. Missing
// optional variables disable features (e.g., no TWITCH_WEBHOOK_SECRET rejects all
// EventSub deliveries).
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SilenceDurationSec <= 0 {
		return nil, fmt.Errorf("SILENCE_DURATION must be positive, got %d", cfg.SilenceDurationSec)
	}
	if cfg.MaxMessageRate <= 0 || cfg.RateLimitWindowSec <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_RATE and RATE_LIMIT_WINDOW must be positive, got %d/%d", cfg.MaxMessageRate, cfg.RateLimitWindowSec)
	}
	if cfg.AudioChunkDurationSec <= 0 {
		return nil, fmt.Errorf("AUDIO_CHUNK_DURATION must be positive, got %d", cfg.AudioChunkDurationSec)
	}
	if cfg.MaxAudioSizeMB <= 0 {
		return nil, fmt.Errorf("MAX_AUDIO_SIZE_MB must be positive, got %d", cfg.MaxAudioSizeMB)
	}
	return cfg, nil
}

// ValidateSessionReady checks required fields for running a live channel session.
func (c *Config) ValidateSessionReady() error {
	type req struct{ name, value string }
	for _, r := range []req{
		{"TWITCH_CLIENT_ID", c.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", c.TwitchClientSecret},
		{"TWITCH_BOT_TOKEN", c.TwitchBotToken},
		{"OPENAI_API_KEY", c.OpenAIAPIKey},
	} {
		if r.value == "" {
			return fmt.Errorf("missing required env: %s", r.name)
		}
	}
	return nil
}

// SilenceThreshold returns the quiet interval that qualifies for a prompt.
func (c *Config) SilenceThreshold() time.Duration {
	return time.Duration(c.SilenceDurationSec) * time.Second
}

// RateLimitWindow returns the sliding window span for the outbound message cap.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSec) * time.Second
}

// AudioChunkDuration returns the target duration of one audio chunk.
func (c *Config) AudioChunkDuration() time.Duration {
	return time.Duration(c.AudioChunkDurationSec) * time.Second
}

// MaxAudioSizeBytes returns the transcription request-size ceiling in bytes.
func (c *Config) MaxAudioSizeBytes() int { return c.MaxAudioSizeMB * 1000 * 1000 }
