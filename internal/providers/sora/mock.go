package sora

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sorastudio/internal/domain"
)

// mockState simulates the provider in memory. Each job advances one step per
// status poll: queued -> in_progress 33 -> in_progress 67 -> completed.
// Progress is strictly non-decreasing, matching the real provider.
type mockState struct {
	mu   sync.Mutex
	jobs map[string]*mockJob
}

type mockJob struct {
	video domain.Video
	polls int
}

func newMockState() *mockState {
	return &mockState{jobs: make(map[string]*mockJob)}
}

func (m *mockState) create(req CreateRequest, sourceID string) *domain.Video {
	m.mu.Lock()
	defer m.mu.Unlock()

	model := req.Model
	if model == "" {
		model = "sora-2"
	}
	v := domain.Video{
		ID:            "video_" + uuid.NewString(),
		Model:         model,
		Status:        domain.StatusQueued,
		Progress:      0,
		Prompt:        req.Prompt,
		Size:          req.Size,
		Seconds:       req.Seconds,
		Quality:       req.Quality,
		RemixedFromID: sourceID,
		CreatedAt:     time.Now().UTC(),
	}
	m.jobs[v.ID] = &mockJob{video: v}
	copied := v
	return &copied
}

func (m *mockState) getStatus(id string) (*domain.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamNotFound, Status: 404, Message: "video not found"}
	}

	if !job.video.Status.Terminal() {
		job.polls++
		switch job.polls {
		case 1:
			job.video.Status = domain.StatusInProgress
			job.video.Progress = 33
		case 2:
			job.video.Progress = 67
		default:
			job.video.Status = domain.StatusCompleted
			job.video.Progress = 100
			job.video.FileURL = fmt.Sprintf("https://cdn.sora.local/%s.mp4", id)
			job.video.ThumbnailURL = fmt.Sprintf("https://cdn.sora.local/%s.webp", id)
			now := time.Now().UTC()
			expires := now.Add(24 * time.Hour)
			job.video.CompletedAt = &now
			job.video.ExpiresAt = &expires
		}
	}

	copied := job.video
	return &copied, nil
}

func (m *mockState) list(limit int) *ListResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &ListResult{}
	for _, job := range m.jobs {
		if limit > 0 && len(res.Videos) >= limit {
			res.HasMore = true
			break
		}
		res.Videos = append(res.Videos, job.video)
	}
	return res
}

func (m *mockState) delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return &domain.UpstreamError{Kind: domain.UpstreamNotFound, Status: 404, Message: "video not found"}
	}
	delete(m.jobs, id)
	return nil
}

func (m *mockState) download(id string) (*DownloadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, &domain.UpstreamError{Kind: domain.UpstreamNotFound, Status: 404, Message: "video not found"}
	}
	if job.video.Status != domain.StatusCompleted {
		return nil, domain.ErrNotReady
	}
	return &DownloadResult{URL: job.video.FileURL, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockState) remix(sourceID string, req CreateRequest) (*domain.Video, error) {
	m.mu.Lock()
	job, ok := m.jobs[sourceID]
	if !ok {
		m.mu.Unlock()
		return nil, &domain.UpstreamError{Kind: domain.UpstreamNotFound, Status: 404, Message: "source video not found"}
	}
	if job.video.Status != domain.StatusCompleted {
		m.mu.Unlock()
		return nil, domain.ErrSourceNotCompleted
	}
	m.mu.Unlock()

	return m.create(req, sourceID), nil
}
