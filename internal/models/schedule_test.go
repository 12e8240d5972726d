package models

import (
	"testing"
	"time"
)

func TestScheduleKey(t *testing.T) {
	s := ResetSchedule{Email: "a@example.com", ModelName: "Gemini 3 Flash"}
	if got := s.Key(); got != "a@example.com|Gemini 3 Flash" {
		t.Errorf("Key() = %q", got)
	}
	if ScheduleKey("a@example.com", "Gemini 3 Flash") != s.Key() {
		t.Error("ScheduleKey and Key disagree")
	}
}

func TestResetSchedule_Status(t *testing.T) {
	tests := []struct {
		name string
		s    ResetSchedule
		want string
	}{
		{"Pending", ResetSchedule{}, "pending"},
		{"PreWarned", ResetSchedule{PreNotified: true}, "pre-warned"},
		{"Notified", ResetSchedule{PreNotified: true, Notified: true}, "notified"},
		{"Triggered", ResetSchedule{Notified: true, Triggered: true}, "triggered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResetSchedule_UntilAndDone(t *testing.T) {
	now := time.Date(2026, 1, 8, 22, 0, 0, 0, time.UTC)
	s := ResetSchedule{ResetTime: now.Add(6 * time.Minute)}
	if got := s.Until(now); got != 6*time.Minute {
		t.Errorf("Until() = %v, want 6m", got)
	}
	if s.Done() {
		t.Error("fresh schedule should not be done")
	}
	s.Notified, s.Triggered = true, true
	if !s.Done() {
		t.Error("notified+triggered schedule should be done")
	}
}

func TestClampPercentage(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {18.67, 18.67}, {100, 100}, {120, 100},
	}
	for _, tt := range tests {
		if got := ClampPercentage(tt.in); got != tt.want {
			t.Errorf("ClampPercentage(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAccountQuota_Valid(t *testing.T) {
	ok := AccountQuota{Email: "a@example.com"}
	if !ok.Valid() {
		t.Error("quota without error should be valid")
	}
	bad := AccountQuota{Email: "a@example.com", Error: "no project id"}
	if bad.Valid() {
		t.Error("quota with error should be invalid")
	}
}

func TestAccount_HasState(t *testing.T) {
	if (&Account{}).HasState() {
		t.Error("empty account should have no state")
	}
	if !(&Account{State: "abc"}).HasState() {
		t.Error("account with blob should have state")
	}
}
