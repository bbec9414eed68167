package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SILENCE_DURATION", "MAX_MESSAGE_RATE", "RATE_LIMIT_WINDOW", "AUDIO_CHUNK_DURATION", "MAX_AUDIO_SIZE_MB", "TWITCH_BOT_USERNAME"} {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("failed to unset %s: %v", k, err)
		}
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.SilenceThreshold(); got != 60*time.Second {
		t.Errorf("SilenceThreshold = %v, want 60s", got)
	}
	if cfg.MaxMessageRate != 20 {
		t.Errorf("MaxMessageRate = %d, want 20", cfg.MaxMessageRate)
	}
	if got := cfg.RateLimitWindow(); got != 30*time.Second {
		t.Errorf("RateLimitWindow = %v, want 30s", got)
	}
	if got := cfg.AudioChunkDuration(); got != 10*time.Second {
		t.Errorf("AudioChunkDuration = %v, want 10s", got)
	}
	if got := cfg.MaxAudioSizeBytes(); got != 25_000_000 {
		t.Errorf("MaxAudioSizeBytes = %d, want 25000000", got)
	}
	if cfg.TwitchBotUsername != "clipgremlin" {
		t.Errorf("TwitchBotUsername = %q, want clipgremlin", cfg.TwitchBotUsername)
	}
}

func TestLoadRejectsNonPositiveKnobs(t *testing.T) {
	t.Setenv("SILENCE_DURATION", "0")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for SILENCE_DURATION=0")
	}
	t.Setenv("SILENCE_DURATION", "60")
	t.Setenv("MAX_MESSAGE_RATE", "-1")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for negative MAX_MESSAGE_RATE")
	}
}

func TestValidateSessionReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_BOT_TOKEN", "oauth:token")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, _ := Load()
	if err := cfg.ValidateSessionReady(); err != nil {
		t.Errorf("expected valid session config, got %v", err)
	}
	if err := os.Unsetenv("OPENAI_API_KEY"); err != nil {
		t.Fatalf("failed to unset OPENAI_API_KEY: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateSessionReady(); err == nil {
		t.Errorf("expected error when missing OPENAI_API_KEY")
	}
}

func TestRateOverrides(t *testing.T) {
	t.Setenv("MAX_MESSAGE_RATE", "100")
	t.Setenv("RATE_LIMIT_WINDOW", "30")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.MaxMessageRate != 100 {
		t.Errorf("MaxMessageRate = %d, want elevated 100", cfg.MaxMessageRate)
	}
}
