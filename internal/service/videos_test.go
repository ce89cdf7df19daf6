package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sorastudio/internal/domain"
	"sorastudio/internal/providers/sora"
)

func TestCreatePersistsAndCountsUsage(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	res, err := st.videos.Create(ctx, "user-1", CreateInput{
		Prompt:  "a lighthouse in a storm",
		Model:   "sora-2",
		Size:    "1024x1808",
		Seconds: "5",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Video.OwnerID != "user-1" || res.Video.Status != domain.StatusQueued {
		t.Fatalf("unexpected video: %+v", res.Video)
	}
	if res.Quota.VideosCreated != 1 {
		t.Fatalf("quota used = %d, want 1", res.Quota.VideosCreated)
	}

	stored, err := st.store.GetByID(ctx, res.Video.ID)
	if err != nil {
		t.Fatalf("stored lookup: %v", err)
	}
	if stored.OwnerID != "user-1" || stored.Prompt != "a lighthouse in a storm" {
		t.Fatalf("stored video: %+v", stored)
	}

	if _, ok := st.cache.Get(ctx, res.Video.ID); !ok {
		t.Fatalf("created video not cached")
	}
	if got := st.log.typed(res.Video.ID, domain.EventCreated); len(got) != 1 {
		t.Fatalf("created events = %d, want 1", len(got))
	}
}

func TestCreateValidation(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty prompt", CreateInput{Prompt: ""}},
		{"whitespace prompt", CreateInput{Prompt: "   "}},
		{"long prompt", CreateInput{Prompt: strings.Repeat("x", 1001)}},
		{"bad model", CreateInput{Prompt: "ok", Model: "dall-e"}},
		{"bad size", CreateInput{Prompt: "ok", Size: "640x480"}},
		{"bad seconds", CreateInput{Prompt: "ok", Seconds: "30"}},
		{"bad quality", CreateInput{Prompt: "ok", Quality: "ultra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.videos.Create(ctx, "user-1", tt.in)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}

	if len(st.store.videos) != 0 {
		t.Fatalf("validation failures must not persist videos")
	}
	if q, err := st.quotas.Get(ctx, "user-1"); err == nil && q.VideosCreated != 0 {
		t.Fatalf("validation failures must not consume quota: %+v", q)
	}
}

func TestCreateBoundaryPromptAccepted(t *testing.T) {
	st := newMockStack()

	if _, err := st.videos.Create(context.Background(), "user-1", CreateInput{
		Prompt: strings.Repeat("x", 1000),
	}); err != nil {
		t.Fatalf("1000-char prompt rejected: %v", err)
	}
}

func TestCreateQuotaExceeded(t *testing.T) {
	up := &fakeUpstream{createFn: func(sora.CreateRequest) (*domain.Video, error) {
		t.Fatalf("upstream must not be contacted when quota is exhausted")
		return nil, nil
	}}
	st := newTestStack(up)
	ctx := context.Background()

	st.quotas.quotas["user-1"] = &domain.Quota{
		OwnerID:       "user-1",
		VideosCreated: 5,
		VideosLimit:   5,
		ResetAt:       time.Now().Add(24 * time.Hour),
	}

	_, err := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "over the line"})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if up.createCalls != 0 {
		t.Fatalf("upstream called %d times", up.createCalls)
	}
}

// raceQuotaRepo admits the advisory check but loses the conditional
// increment, simulating a concurrent creation taking the final slot.
type raceQuotaRepo struct {
	*memQuotaRepo
}

func (r *raceQuotaRepo) IncrementUsage(context.Context, string) (*domain.Quota, error) {
	return nil, domain.ErrQuotaExceeded
}

func TestCreateQuotaRaceRollsBack(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	race := &raceQuotaRepo{memQuotaRepo: st.quotas}
	st.videos.quota = NewQuotaLedger(race, nopLogger())

	_, err := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "the last slot"})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	// The persisted row must not survive as a live job.
	pending, _ := st.store.ListPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("rolled-back creation still pending: %+v", pending)
	}
}

func TestGetServesCacheThenStore(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	res, err := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "cache me"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v, cached, err := st.videos.Get(ctx, res.Video.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !cached {
		t.Fatalf("expected cache hit after create")
	}

	st.cache.Invalidate(ctx, res.Video.ID)
	v, cached, err = st.videos.Get(ctx, res.Video.ID)
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if cached {
		t.Fatalf("expected store read after invalidate")
	}
	if v.ID != res.Video.ID {
		t.Fatalf("wrong video: %+v", v)
	}
	if _, ok := st.cache.Get(ctx, res.Video.ID); !ok {
		t.Fatalf("store read must repopulate the cache")
	}
}

func TestGetRefreshesNonTerminalJob(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	res, err := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "keep polling"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Video.ID

	// Drive the simulated job to completion through the read path.
	var v *domain.Video
	for i := 0; i < 5; i++ {
		st.cache.Invalidate(ctx, id)
		v, _, err = st.videos.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if v.Status == domain.StatusCompleted {
			break
		}
	}
	if v.Status != domain.StatusCompleted || v.FileURL == "" {
		t.Fatalf("job did not complete: %+v", v)
	}

	stored, _ := st.store.GetByID(ctx, id)
	if stored.Status != domain.StatusCompleted || stored.Progress != 100 {
		t.Fatalf("completion not persisted: %+v", stored)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("completed_at not persisted")
	}

	// Every persisted step leaves a trail entry, including the
	// progress-only one in the middle of the simulated lifecycle.
	changes := st.log.typed(id, domain.EventStatusChanged)
	if len(changes) != 3 {
		t.Fatalf("status_changed events = %d, want 3", len(changes))
	}
	if changes[1].Data["from"] != "in_progress" || changes[1].Data["to"] != "in_progress" {
		t.Fatalf("progress-only step not recorded: %+v", changes[1].Data)
	}
}

func TestGetServesStoredStateWhenUpstreamDown(t *testing.T) {
	up := &fakeUpstream{statusFn: func(string) (*domain.Video, error) {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamUnavailable, Message: "connection refused"}
	}}
	st := newTestStack(up)
	ctx := context.Background()

	seed := &domain.Video{ID: "video_1", OwnerID: "user-1", Model: "sora-2", Status: domain.StatusInProgress, Progress: 42, Prompt: "stale"}
	if err := st.store.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	v, cached, err := st.videos.Get(ctx, "video_1")
	if err != nil {
		t.Fatalf("get with upstream down: %v", err)
	}
	if cached || v.Status != domain.StatusInProgress || v.Progress != 42 {
		t.Fatalf("expected stored state: %+v cached=%v", v, cached)
	}
}

func TestGetUnknownAndDeleted(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	if _, _, err := st.videos.Get(ctx, "video_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}

	res, _ := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "short lived"})
	if err := st.videos.Delete(ctx, res.Video.ID, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := st.videos.Get(ctx, res.Video.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted id: %v", err)
	}
}

func TestDeleteIsIdempotentlyNotFound(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	res, _ := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "delete me"})
	if err := st.videos.Delete(ctx, res.Video.ID, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.videos.Delete(ctx, res.Video.ID, "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}

	if got := st.log.typed(res.Video.ID, domain.EventDeleted); len(got) != 1 {
		t.Fatalf("deleted events = %d, want 1", len(got))
	}
	// The row survives for the audit trail.
	if v, ok := st.store.videos[res.Video.ID]; !ok || v.Status != domain.StatusDeleted {
		t.Fatalf("soft delete must keep the row: %+v", v)
	}
}

func TestRemixRequiresCompletedSource(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	res, _ := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "still cooking"})

	_, err := st.videos.Remix(ctx, "user-1", res.Video.ID, RemixInput{Prompt: "variation"})
	if !errors.Is(err, domain.ErrSourceNotCompleted) {
		t.Fatalf("err = %v, want ErrSourceNotCompleted", err)
	}

	if _, err := st.videos.Remix(ctx, "user-1", "video_missing", RemixInput{Prompt: "variation"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown source: %v", err)
	}
}

func TestRemixHappyPath(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	res, _ := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "the original"})
	completeViaPolling(t, st, res.Video.ID)

	remix, err := st.videos.Remix(ctx, "user-1", res.Video.ID, RemixInput{Prompt: "now in winter"})
	if err != nil {
		t.Fatalf("remix: %v", err)
	}
	if remix.Video.RemixedFromID != res.Video.ID {
		t.Fatalf("remixed_from = %q", remix.Video.RemixedFromID)
	}
	if remix.Quota.VideosCreated != 2 {
		t.Fatalf("quota used = %d, want 2", remix.Quota.VideosCreated)
	}
	if got := st.log.typed(remix.Video.ID, domain.EventRemixed); len(got) != 1 {
		t.Fatalf("remixed events = %d, want 1", len(got))
	}
}

func TestDownloadGating(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	res, _ := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "wait for it"})

	if _, err := st.videos.Download(ctx, res.Video.ID, DownloadMeta{}); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("download before completion: %v", err)
	}

	completeViaPolling(t, st, res.Video.ID)

	dl, err := st.videos.Download(ctx, res.Video.ID, DownloadMeta{IP: "203.0.113.9", UserAgent: "curl/8.0", Country: "DE"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if dl.URL == "" {
		t.Fatalf("empty download url")
	}

	events := st.log.typed(res.Video.ID, domain.EventDownloaded)
	if len(events) != 1 {
		t.Fatalf("downloaded events = %d, want 1", len(events))
	}
	if events[0].Data["country"] != "DE" || events[0].Data["ip"] != "203.0.113.9" {
		t.Fatalf("download event data: %+v", events[0].Data)
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	st := newMockStack()
	ctx := context.Background()

	a, _ := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "first"})
	completeViaPolling(t, st, a.Video.ID)
	if _, err := st.videos.Create(ctx, "user-1", CreateInput{Prompt: "second"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.videos.Create(ctx, "user-2", CreateInput{Prompt: "other owner"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	stats, err := st.videos.Stats(ctx, "user-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Completed != 1 || stats.Queued != 1 {
		t.Fatalf("stats: %+v", stats)
	}
}

func TestAdvancesGuard(t *testing.T) {
	tests := []struct {
		name   string
		stored domain.Video
		live   domain.Video
		want   bool
	}{
		{"progress forward", domain.Video{Status: domain.StatusInProgress, Progress: 33}, domain.Video{Status: domain.StatusInProgress, Progress: 67}, true},
		{"status forward", domain.Video{Status: domain.StatusQueued}, domain.Video{Status: domain.StatusInProgress, Progress: 10}, true},
		{"completion", domain.Video{Status: domain.StatusInProgress, Progress: 67}, domain.Video{Status: domain.StatusCompleted, Progress: 100}, true},
		{"unchanged", domain.Video{Status: domain.StatusInProgress, Progress: 50}, domain.Video{Status: domain.StatusInProgress, Progress: 50}, false},
		{"stale progress", domain.Video{Status: domain.StatusInProgress, Progress: 67}, domain.Video{Status: domain.StatusInProgress, Progress: 33}, false},
		{"stale status", domain.Video{Status: domain.StatusInProgress, Progress: 33}, domain.Video{Status: domain.StatusQueued, Progress: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := advances(&tt.stored, &tt.live); got != tt.want {
				t.Fatalf("advances = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshRecordsFailure(t *testing.T) {
	errMsg := "content policy violation"
	up := &fakeUpstream{statusFn: func(id string) (*domain.Video, error) {
		return &domain.Video{ID: id, Status: domain.StatusFailed, Progress: 50, ErrorMessage: errMsg}, nil
	}}
	st := newTestStack(up)
	ctx := context.Background()

	seed := &domain.Video{ID: "video_1", OwnerID: "user-1", Status: domain.StatusInProgress, Progress: 50}
	if err := st.store.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh, changed, err := st.videos.Refresh(ctx, seed)
	if err != nil || !changed {
		t.Fatalf("refresh: changed=%v err=%v", changed, err)
	}
	if fresh.Status != domain.StatusFailed || fresh.ErrorMessage != errMsg {
		t.Fatalf("refreshed video: %+v", fresh)
	}

	if got := st.log.typed("video_1", domain.EventFailed); len(got) != 1 {
		t.Fatalf("failed events = %d, want 1", len(got))
	}
	if got := st.log.typed("video_1", domain.EventStatusChanged); len(got) != 1 {
		t.Fatalf("status_changed events = %d, want 1", len(got))
	}
}

func TestRefreshRecordsProgressOnlyChange(t *testing.T) {
	up := &fakeUpstream{statusFn: func(id string) (*domain.Video, error) {
		return &domain.Video{ID: id, Status: domain.StatusInProgress, Progress: 60}, nil
	}}
	st := newTestStack(up)
	ctx := context.Background()

	seed := &domain.Video{ID: "video_1", OwnerID: "user-1", Status: domain.StatusInProgress, Progress: 30}
	if err := st.store.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh, changed, err := st.videos.Refresh(ctx, seed)
	if err != nil || !changed {
		t.Fatalf("refresh: changed=%v err=%v", changed, err)
	}
	if fresh.Progress != 60 {
		t.Fatalf("progress = %d, want 60", fresh.Progress)
	}

	changes := st.log.typed("video_1", domain.EventStatusChanged)
	if len(changes) != 1 {
		t.Fatalf("status_changed events = %d, want 1", len(changes))
	}
	if changes[0].Data["from"] != "in_progress" || changes[0].Data["to"] != "in_progress" || changes[0].Data["progress"] != 60 {
		t.Fatalf("status_changed data: %+v", changes[0].Data)
	}
}

// completeViaPolling drives a simulated job to completion through the read
// path.
func completeViaPolling(t *testing.T, st *testStack, id string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		st.cache.Invalidate(ctx, id)
		v, _, err := st.videos.Get(ctx, id)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if v.Status == domain.StatusCompleted {
			return
		}
	}
	t.Fatalf("job %s did not complete", id)
}
