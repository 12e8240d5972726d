package models

import "time"

// Notification is one delivered notification as kept in history.
type Notification struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
}

// PreheatAttempt is one recorded preheat network attempt.
type PreheatAttempt struct {
	CreatedAt time.Time `json:"createdAt"`
	Email     string    `json:"email"`
	ModelID   string    `json:"modelId"`
	Error     string    `json:"error,omitempty"`
	ID        int64     `json:"id"`
	Attempt   int       `json:"attempt"`
	Success   bool      `json:"success"`
}

// QuotaSnapshot is one recorded remaining-quota reading for a model.
type QuotaSnapshot struct {
	CreatedAt  time.Time `json:"createdAt"`
	Email      string    `json:"email"`
	ModelID    string    `json:"modelId"`
	ModelName  string    `json:"modelName"`
	Percentage float64   `json:"percentage"`
}
