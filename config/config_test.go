package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("DB_PATH", "")

	if got := GetDuration("poll_interval"); got != 30*time.Second {
		t.Fatalf("poll_interval = %v, want 30s", got)
	}
	if got := GetDuration("metrics_flush_interval"); got != 5*time.Minute {
		t.Fatalf("metrics_flush_interval = %v, want 5m", got)
	}
	if got := GetInt("metrics_port"); got != 9090 {
		t.Fatalf("metrics_port = %d, want 9090", got)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("NOTIFY_CHAT_ID", "-100123")

	if got := GetDuration("poll_interval"); got != 5*time.Second {
		t.Fatalf("poll_interval = %v, want 5s", got)
	}
	if got := GetInt64("notify_chat_id"); got != -100123 {
		t.Fatalf("notify_chat_id = %d, want -100123", got)
	}
}

func TestMode(t *testing.T) {
	tests := []struct {
		mode, token, want string
	}{
		{"", "", "console"},
		{"", "123:abc", "telegram"},
		{"console", "123:abc", "console"},
		{"telegram", "", "telegram"},
		{"web", "", "console"},
	}
	for _, tt := range tests {
		t.Setenv("MODE", tt.mode)
		t.Setenv("TELEGRAM_BOT_TOKEN", tt.token)
		if got := Mode(); got != tt.want {
			t.Fatalf("Mode() with mode %q and token %q = %q, want %q", tt.mode, tt.token, got, tt.want)
		}
	}
}
