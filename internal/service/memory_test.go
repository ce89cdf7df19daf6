package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
	"sorastudio/internal/providers/sora"
)

func nopLogger() zerolog.Logger { return zerolog.Nop() }

// In-memory fakes mirroring the postgres repositories' contracts.

type memVideoRepo struct {
	mu     sync.Mutex
	videos map[string]*domain.Video
	order  []string
}

func newMemVideoRepo() *memVideoRepo {
	return &memVideoRepo{videos: make(map[string]*domain.Video)}
}

func (r *memVideoRepo) Create(_ context.Context, v *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *v
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.videos[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	return nil
}

func (r *memVideoRepo) GetByID(_ context.Context, id string) (*domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (r *memVideoRepo) UpdateStatus(_ context.Context, id string, status domain.Status, u domain.StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return domain.ErrNotFound
	}
	v.Status = status
	v.UpdatedAt = time.Now().UTC()
	if u.Progress != nil {
		v.Progress = *u.Progress
	}
	if u.FileURL != nil {
		v.FileURL = *u.FileURL
	}
	if u.ThumbnailURL != nil {
		v.ThumbnailURL = *u.ThumbnailURL
	}
	if u.ErrorMessage != nil {
		v.ErrorMessage = *u.ErrorMessage
	}
	if u.CompletedAt != nil {
		v.CompletedAt = u.CompletedAt
	}
	if u.ExpiresAt != nil {
		v.ExpiresAt = u.ExpiresAt
	}
	return nil
}

func (r *memVideoRepo) SoftDelete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok || v.Status == domain.StatusDeleted {
		return false, nil
	}
	v.Status = domain.StatusDeleted
	return true, nil
}

func (r *memVideoRepo) ListByOwner(_ context.Context, owner string, f domain.VideoFilter) ([]domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Video
	for i := len(r.order) - 1; i >= 0; i-- {
		v := r.videos[r.order[i]]
		if v.OwnerID != owner {
			continue
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		out = append(out, *v)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (r *memVideoRepo) ListPending(_ context.Context) ([]domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Video
	for _, id := range r.order {
		v := r.videos[id]
		if v.Status == domain.StatusQueued || v.Status == domain.StatusInProgress {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (r *memVideoRepo) Stats(_ context.Context, owner string) (*domain.VideoStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s domain.VideoStats
	for _, v := range r.videos {
		if v.OwnerID != owner {
			continue
		}
		s.Total++
		switch v.Status {
		case domain.StatusCompleted:
			s.Completed++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusInProgress:
			s.InProgress++
		case domain.StatusQueued:
			s.Queued++
		}
	}
	return &s, nil
}

type memQuotaRepo struct {
	mu     sync.Mutex
	quotas map[string]*domain.Quota
}

func newMemQuotaRepo() *memQuotaRepo {
	return &memQuotaRepo{quotas: make(map[string]*domain.Quota)}
}

func (r *memQuotaRepo) Get(_ context.Context, owner string) (*domain.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[owner]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *q
	return &copied, nil
}

func (r *memQuotaRepo) CreateDefault(_ context.Context, quota *domain.Quota) (*domain.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.quotas[quota.OwnerID]; ok {
		copied := *q
		return &copied, nil
	}
	stored := *quota
	r.quotas[quota.OwnerID] = &stored
	copied := stored
	return &copied, nil
}

func (r *memQuotaRepo) IncrementUsage(_ context.Context, owner string) (*domain.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[owner]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if q.VideosCreated >= q.VideosLimit {
		return nil, domain.ErrQuotaExceeded
	}
	q.VideosCreated++
	copied := *q
	return &copied, nil
}

func (r *memQuotaRepo) Reset(_ context.Context, owner string, resetAt time.Time) (*domain.Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotas[owner]
	if !ok {
		return nil, domain.ErrNotFound
	}
	q.VideosCreated = 0
	q.ResetAt = resetAt
	copied := *q
	return &copied, nil
}

type memEventRepo struct {
	mu     sync.Mutex
	events []domain.Event
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{}
}

func (r *memEventRepo) Append(_ context.Context, videoID string, eventType domain.EventType, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domain.Event{
		ID:        int64(len(r.events) + 1),
		VideoID:   videoID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *memEventRepo) ListByVideo(_ context.Context, videoID string) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].VideoID == videoID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

func (r *memEventRepo) ListByOwner(_ context.Context, _ string, limit int) ([]domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for i := len(r.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, r.events[i])
	}
	return out, nil
}

// typed returns the video's events of one type, oldest-first.
func (r *memEventRepo) typed(videoID string, t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.VideoID == videoID && e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memCache struct {
	mu     sync.Mutex
	videos map[string]*domain.Video
}

func newMemCache() *memCache {
	return &memCache{videos: make(map[string]*domain.Video)}
}

func (c *memCache) Get(_ context.Context, id string) (*domain.Video, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.videos[id]
	if !ok {
		return nil, false
	}
	copied := *v
	return &copied, true
}

func (c *memCache) Set(_ context.Context, v *domain.Video) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *v
	c.videos[copied.ID] = &copied
}

func (c *memCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.videos, id)
}

// fakeUpstream scripts provider behavior per test. Unset funcs fail loudly.
type fakeUpstream struct {
	mu          sync.Mutex
	createCalls int
	statusCalls int

	createFn   func(req sora.CreateRequest) (*domain.Video, error)
	statusFn   func(id string) (*domain.Video, error)
	downloadFn func(id string) (*sora.DownloadResult, error)
	remixFn    func(sourceID string, req sora.CreateRequest) (*domain.Video, error)
}

func (f *fakeUpstream) Create(_ context.Context, req sora.CreateRequest) (*domain.Video, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	return f.createFn(req)
}

func (f *fakeUpstream) GetStatus(_ context.Context, id string) (*domain.Video, error) {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	return f.statusFn(id)
}

func (f *fakeUpstream) Download(_ context.Context, id string) (*sora.DownloadResult, error) {
	return f.downloadFn(id)
}

func (f *fakeUpstream) Remix(_ context.Context, sourceID string, req sora.CreateRequest) (*domain.Video, error) {
	return f.remixFn(sourceID, req)
}

// testStack bundles a full service wired over in-memory fakes and the
// simulated provider.
type testStack struct {
	videos *Videos
	quota  *QuotaLedger
	events *EventLog
	store  *memVideoRepo
	quotas *memQuotaRepo
	log    *memEventRepo
	cache  *memCache
}

func newTestStack(upstream Upstream) *testStack {
	st := &testStack{
		store:  newMemVideoRepo(),
		quotas: newMemQuotaRepo(),
		log:    newMemEventRepo(),
		cache:  newMemCache(),
	}
	logger := nopLogger()
	st.quota = NewQuotaLedger(st.quotas, logger)
	st.events = NewEventLog(st.log, logger)
	st.videos = NewVideos(st.store, st.quota, st.events, st.cache, upstream, logger)
	return st
}

// newMockStack wires the service over the provider's simulated mode, where
// jobs advance one step per status poll.
func newMockStack() *testStack {
	return newTestStack(sora.NewClient(sora.Options{}))
}
