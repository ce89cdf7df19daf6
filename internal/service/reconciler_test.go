package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"sorastudio/internal/domain"
	"sorastudio/internal/providers/sora"
)

func TestTickRefreshesPendingJobs(t *testing.T) {
	up := &fakeUpstream{statusFn: func(id string) (*domain.Video, error) {
		now := time.Now().UTC()
		return &domain.Video{
			ID:          id,
			Status:      domain.StatusCompleted,
			Progress:    100,
			FileURL:     "https://cdn/" + id + ".mp4",
			CompletedAt: &now,
		}, nil
	}}
	st := newTestStack(up)
	ctx := context.Background()

	for _, id := range []string{"video_1", "video_2", "video_3"} {
		if err := st.store.Create(ctx, &domain.Video{ID: id, OwnerID: "user-1", Status: domain.StatusQueued}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	r := NewReconciler(st.videos, st.store, time.Minute, nopLogger())
	r.Tick(ctx)

	pending, _ := st.store.ListPending(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending after tick: %+v", pending)
	}
	for _, id := range []string{"video_1", "video_2", "video_3"} {
		v, err := st.store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if v.Status != domain.StatusCompleted || v.FileURL == "" {
			t.Fatalf("%s not reconciled: %+v", id, v)
		}
	}

	// A second pass has nothing to do and must not poll upstream again.
	polls := up.statusCalls
	r.Tick(ctx)
	if up.statusCalls != polls {
		t.Fatalf("terminal jobs were polled again: %d -> %d", polls, up.statusCalls)
	}
}

func TestTickSkipsUnchangedJobs(t *testing.T) {
	up := &fakeUpstream{statusFn: func(id string) (*domain.Video, error) {
		return &domain.Video{ID: id, Status: domain.StatusInProgress, Progress: 40}, nil
	}}
	st := newTestStack(up)
	ctx := context.Background()

	if err := st.store.Create(ctx, &domain.Video{ID: "video_1", OwnerID: "user-1", Status: domain.StatusInProgress, Progress: 40}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, _ := st.store.GetByID(ctx, "video_1")

	r := NewReconciler(st.videos, st.store, time.Minute, nopLogger())
	r.Tick(ctx)

	after, _ := st.store.GetByID(ctx, "video_1")
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("unchanged job was rewritten")
	}
}

func TestTickIsolatesPerJobFailures(t *testing.T) {
	up := &fakeUpstream{statusFn: func(id string) (*domain.Video, error) {
		if id == "video_bad" {
			return nil, &domain.UpstreamError{Kind: domain.UpstreamUnavailable, Message: "timeout"}
		}
		now := time.Now().UTC()
		return &domain.Video{ID: id, Status: domain.StatusCompleted, Progress: 100, CompletedAt: &now}, nil
	}}
	st := newTestStack(up)
	ctx := context.Background()

	for _, id := range []string{"video_bad", "video_good"} {
		if err := st.store.Create(ctx, &domain.Video{ID: id, OwnerID: "user-1", Status: domain.StatusInProgress, Progress: 10}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	r := NewReconciler(st.videos, st.store, time.Minute, nopLogger())
	r.Tick(ctx)

	good, _ := st.store.GetByID(ctx, "video_good")
	if good.Status != domain.StatusCompleted {
		t.Fatalf("healthy job not reconciled: %+v", good)
	}
	bad, _ := st.store.GetByID(ctx, "video_bad")
	if bad.Status != domain.StatusInProgress || bad.Progress != 10 {
		t.Fatalf("failing job must keep its stored state: %+v", bad)
	}
}

func TestTickDoesNotOverlap(t *testing.T) {
	up := &fakeUpstream{statusFn: func(id string) (*domain.Video, error) {
		return &domain.Video{ID: id, Status: domain.StatusInProgress, Progress: 99}, nil
	}}
	st := newTestStack(up)
	ctx := context.Background()

	if err := st.store.Create(ctx, &domain.Video{ID: "video_1", OwnerID: "user-1", Status: domain.StatusQueued}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewReconciler(st.videos, st.store, time.Minute, nopLogger())

	// Simulate a pass still in flight.
	r.mu.Lock()
	r.Tick(ctx)
	r.mu.Unlock()

	if up.statusCalls != 0 {
		t.Fatalf("overlapping tick polled upstream %d times", up.statusCalls)
	}

	r.Tick(ctx)
	if up.statusCalls != 1 {
		t.Fatalf("unblocked tick polled upstream %d times, want 1", up.statusCalls)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	st := newTestStack(sora.NewClient(sora.Options{}))
	r := NewReconciler(st.videos, st.store, 10*time.Millisecond, nopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
