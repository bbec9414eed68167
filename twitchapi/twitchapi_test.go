package twitchapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPlaybackURL(t *testing.T) {
	got := PlaybackURL("SomeStreamer")
	want := "https://usher.ttvnw.net/api/channel/hls/somestreamer.m3u8"
	if got != want {
		t.Errorf("PlaybackURL = %q, want %q", got, want)
	}
}

func TestVerifyPlaylist(t *testing.T) {
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TWITCH-INFO:NODE=\"x\"\n"))
	}))
	defer live.Close()
	offline := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel offline", http.StatusNotFound)
	}))
	defer offline.Close()
	notHLS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>nope</html>"))
	}))
	defer notHLS.Close()

	c := &Client{httpClient: &http.Client{Timeout: time.Second}}
	ctx := context.Background()
	if err := c.VerifyPlaylist(ctx, live.URL); err != nil {
		t.Errorf("live playlist: %v", err)
	}
	if err := c.VerifyPlaylist(ctx, offline.URL); err == nil {
		t.Error("expected error for offline channel")
	}
	if err := c.VerifyPlaylist(ctx, notHLS.URL); err == nil || !strings.Contains(err.Error(), "not HLS") {
		t.Errorf("expected not-HLS error, got %v", err)
	}
}
