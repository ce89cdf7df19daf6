package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sorastudio/internal/domain"
	"sorastudio/internal/service"
)

type videoJSON struct {
	ID                 string     `json:"id"`
	OwnerID            string     `json:"owner_id"`
	Model              string     `json:"model"`
	Status             string     `json:"status"`
	Progress           int        `json:"progress"`
	Prompt             string     `json:"prompt"`
	Size               string     `json:"size,omitempty"`
	Seconds            string     `json:"seconds,omitempty"`
	Quality            string     `json:"quality,omitempty"`
	RemixedFromVideoID string     `json:"remixed_from_video_id,omitempty"`
	FileURL            string     `json:"file_url,omitempty"`
	ThumbnailURL       string     `json:"thumbnail_url,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

func toVideoJSON(v *domain.Video) videoJSON {
	return videoJSON{
		ID:                 v.ID,
		OwnerID:            v.OwnerID,
		Model:              v.Model,
		Status:             string(v.Status),
		Progress:           v.Progress,
		Prompt:             v.Prompt,
		Size:               v.Size,
		Seconds:            v.Seconds,
		Quality:            v.Quality,
		RemixedFromVideoID: v.RemixedFromID,
		FileURL:            v.FileURL,
		ThumbnailURL:       v.ThumbnailURL,
		ErrorMessage:       v.ErrorMessage,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
		CompletedAt:        v.CompletedAt,
		ExpiresAt:          v.ExpiresAt,
	}
}

func quotaJSON(q *domain.Quota) map[string]int {
	return map[string]int{
		"current_usage": q.VideosCreated,
		"limit":         q.VideosLimit,
		"remaining":     q.Remaining(),
	}
}

// CreateVideo handles POST /api/videos.
func (a *App) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var in service.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.fail(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}
	owner := ownerID(r)

	res, err := a.Videos.Create(r.Context(), owner, in)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			a.writeQuotaExceeded(w, r, owner)
			return
		}
		a.writeError(w, r, err)
		return
	}

	a.json(w, http.StatusCreated, envelope{
		Success: true,
		Data:    toVideoJSON(res.Video),
		Quota:   quotaJSON(res.Quota),
	})
}

// GetVideo handles GET /api/videos/{id}.
func (a *App) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	video, cached, err := a.Videos.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, envelope{
		Success: true,
		Data:    toVideoJSON(video),
		Cached:  &cached,
	})
}

// ListVideos handles GET /api/videos.
func (a *App) ListVideos(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	q := r.URL.Query()

	limit := intParam(q.Get("limit"), 20)
	if limit > 100 {
		limit = 100
	}
	offset := intParam(q.Get("offset"), 0)

	filter := domain.VideoFilter{
		Status: domain.Status(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if from, ok := timeParam(q.Get("from_date")); ok {
		filter.From = &from
	}
	if to, ok := timeParam(q.Get("to_date")); ok {
		filter.To = &to
	}

	videos, err := a.Videos.List(r.Context(), owner, filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]videoJSON, 0, len(videos))
	for i := range videos {
		out = append(out, toVideoJSON(&videos[i]))
	}

	a.json(w, http.StatusOK, envelope{
		Success: true,
		Data:    out,
		Pagination: map[string]any{
			"limit":    limit,
			"offset":   offset,
			"count":    len(out),
			"has_more": len(out) == limit,
		},
	})
}

// DeleteVideo handles DELETE /api/videos/{id}.
func (a *App) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.Videos.Delete(r.Context(), id, ownerID(r)); err != nil {
		a.writeError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, envelope{
		Success: true,
		Data:    map[string]any{"id": id, "deleted": true},
	})
}

// DownloadVideo handles GET /api/videos/{id}/download. It resolves a
// time-limited content URL rather than proxying the bytes.
func (a *App) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ip := clientIP(r)
	meta := service.DownloadMeta{IP: ip, UserAgent: r.UserAgent()}
	if country, err := a.Geo.CountryCode(ip); err == nil {
		meta.Country = country
	}

	res, err := a.Videos.Download(r.Context(), id, meta)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]any{
			"url":        res.URL,
			"expires_at": res.ExpiresAt,
		},
	})
}

// RemixVideo handles POST /api/videos/{id}/remix.
func (a *App) RemixVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owner := ownerID(r)

	var in service.RemixInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.fail(w, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be valid JSON")
		return
	}

	res, err := a.Videos.Remix(r.Context(), owner, id, in)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExceeded) {
			a.writeQuotaExceeded(w, r, owner)
			return
		}
		a.writeError(w, r, err)
		return
	}

	a.json(w, http.StatusCreated, envelope{
		Success: true,
		Data:    toVideoJSON(res.Video),
		Quota:   quotaJSON(res.Quota),
	})
}

// VideoStats handles GET /api/videos/stats.
func (a *App) VideoStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Videos.Stats(r.Context(), ownerID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, envelope{Success: true, Data: stats})
}

// VideoEvents handles GET /api/videos/{id}/events.
func (a *App) VideoEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := a.Events.ListByVideo(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	a.json(w, http.StatusOK, envelope{Success: true, Data: events})
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func timeParam(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
