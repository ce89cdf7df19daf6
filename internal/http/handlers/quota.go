package handlers

import "net/http"

// GetQuota handles GET /api/quota.
func (a *App) GetQuota(w http.ResponseWriter, r *http.Request) {
	q, err := a.Quota.Get(r.Context(), ownerID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.json(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]any{
			"owner_id":      q.OwnerID,
			"current_usage": q.VideosCreated,
			"limit":         q.VideosLimit,
			"remaining":     q.Remaining(),
			"reset_at":      q.ResetAt,
		},
	})
}

// CheckQuota handles GET /api/quota/check.
func (a *App) CheckQuota(w http.ResponseWriter, r *http.Request) {
	check, err := a.Quota.Check(r.Context(), ownerID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, envelope{Success: true, Data: check})
}
