package domain

import "time"

// Default monthly video limits per owner.
const (
	DefaultVideoLimit   = 100
	AnonymousVideoLimit = 10
)

// AnonymousOwner is the sentinel owner id for unauthenticated requests.
const AnonymousOwner = "anonymous"

// Quota is the monthly usage record for one owner.
type Quota struct {
	OwnerID       string
	VideosCreated int
	VideosLimit   int
	ResetAt       time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Remaining returns the number of videos the owner may still create this period.
func (q *Quota) Remaining() int {
	if r := q.VideosLimit - q.VideosCreated; r > 0 {
		return r
	}
	return 0
}

// QuotaCheck is the result of evaluating an owner's quota against the
// current period.
type QuotaCheck struct {
	Allowed   bool   `json:"allowed"`
	Used      int    `json:"current_usage"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Message   string `json:"message,omitempty"`
}
