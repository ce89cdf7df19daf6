package handlers

import (
	"net/http"

	"sorastudio/internal/domain"
)

// OwnerEvents handles GET /api/events, the owner's recent activity feed.
func (a *App) OwnerEvents(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r.URL.Query().Get("limit"), 50)
	if limit > 200 {
		limit = 200
	}

	events, err := a.Events.ListByOwner(r.Context(), ownerID(r), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	a.json(w, http.StatusOK, envelope{Success: true, Data: events})
}
