package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
)

func TestTTLForStatus(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   time.Duration
	}{
		{domain.StatusCompleted, time.Hour},
		{domain.StatusFailed, 5 * time.Minute},
		{domain.StatusQueued, 5 * time.Minute},
		{domain.StatusInProgress, 5 * time.Minute},
		{domain.StatusDeleted, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := TTLForStatus(tt.status); got != tt.want {
			t.Fatalf("TTLForStatus(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestDisabledCacheFailsOpen(t *testing.T) {
	c := NewVideoCache(nil, zerolog.Nop())
	ctx := context.Background()

	if v, ok := c.Get(ctx, "video_123"); ok || v != nil {
		t.Fatalf("disabled cache returned a hit: %+v", v)
	}

	// Writes and invalidations must be silent no-ops.
	c.Set(ctx, &domain.Video{ID: "video_123", Status: domain.StatusQueued})
	c.Invalidate(ctx, "video_123")

	if v, ok := c.Get(ctx, "video_123"); ok || v != nil {
		t.Fatalf("disabled cache returned a hit after set: %+v", v)
	}
}
