// Package models defines data structures and domain types.
package models

// ModelQuota is a read-only snapshot of one model's remaining quota.
type ModelQuota struct {
	ModelID    string  `json:"modelId"`
	ModelName  string  `json:"modelName"`
	ResetText  string  `json:"resetText"`
	Percentage float64 `json:"percentage"`
}

// AccountQuota is the result of one quota fetch for one account.
// When Error is set Models is empty and percentages must not be trusted.
type AccountQuota struct {
	Email  string       `json:"email"`
	Plan   string       `json:"plan"`
	Error  string       `json:"error,omitempty"`
	Models []ModelQuota `json:"models"`
}

// Valid reports whether the fetch succeeded.
func (q *AccountQuota) Valid() bool {
	return q.Error == ""
}

// ClampPercentage bounds p to [0, 100].
func ClampPercentage(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
