package cache

import (
	"net/http"
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{
			name:    "expired entry",
			expires: time.Now().Add(-1 * time.Hour),
			want:    true,
		},
		{
			name:    "valid entry",
			expires: time.Now().Add(1 * time.Hour),
			want:    false,
		},
		{
			name:    "just expired",
			expires: time.Now().Add(-1 * time.Second),
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	expired := &Entry{Expires: time.Now().Add(-time.Minute)}
	if got := expired.TTL(); got != 0 {
		t.Errorf("TTL() of expired entry = %v, want 0", got)
	}

	fresh := &Entry{Expires: time.Now().Add(time.Hour)}
	if got := fresh.TTL(); got <= 59*time.Minute || got > time.Hour {
		t.Errorf("TTL() = %v, want about 1h", got)
	}
}

func TestNewEntry(t *testing.T) {
	header := http.Header{"Content-Type": []string{"application/json"}}
	entry := NewEntry(http.StatusOK, header, []byte(`[]`), 2*time.Hour)

	header.Set("Content-Type", "text/plain")

	if entry.Headers.Get("Content-Type") != "application/json" {
		t.Error("NewEntry should clone the header")
	}
	if entry.StatusCode != http.StatusOK || string(entry.Data) != "[]" {
		t.Errorf("entry = %+v", entry)
	}
	if d := entry.Expires.Sub(entry.CachedAt); d != 2*time.Hour {
		t.Errorf("Expires - CachedAt = %v, want 2h", d)
	}
}
