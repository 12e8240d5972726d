package models

import "time"

// ResetSchedule tracks one account+model reset cycle and what already fired for it.
type ResetSchedule struct {
	ResetTime   time.Time `json:"reset_time"`
	LastRetry   time.Time `json:"last_retry"`
	Email       string    `json:"email"`
	ModelID     string    `json:"model_id"`
	ModelName   string    `json:"model_name"`
	RetryCount  int       `json:"retry_count"`
	PreNotified bool      `json:"pre_notified"`
	Notified    bool      `json:"notified"`
	Triggered   bool      `json:"triggered"`
}

// ScheduleKey builds the composite store key "<email>|<model_name>".
func ScheduleKey(email, modelName string) string {
	return email + "|" + modelName
}

// Key returns the composite store key of the schedule.
func (s *ResetSchedule) Key() string {
	return ScheduleKey(s.Email, s.ModelName)
}

// Until returns the time remaining until reset relative to now.
func (s *ResetSchedule) Until(now time.Time) time.Duration {
	return s.ResetTime.Sub(now)
}

// Done reports whether every action of the cycle has fired.
func (s *ResetSchedule) Done() bool {
	return s.Notified && s.Triggered
}

// Status returns a short label for the furthest state the cycle reached.
func (s *ResetSchedule) Status() string {
	switch {
	case s.Triggered:
		return "triggered"
	case s.Notified:
		return "notified"
	case s.PreNotified:
		return "pre-warned"
	default:
		return "pending"
	}
}
