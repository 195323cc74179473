package chat

import (
	"testing"
	"time"

	"avatarchat/pkg/models"
)

func TestIsLongPause(t *testing.T) {
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC).UnixNano()
	at := func(offset time.Duration) models.Message {
		return models.Message{ID: "m", ChatID: "U1_A1", CreatedAt: base + offset.Nanoseconds()}
	}

	cases := []struct {
		name     string
		previous *models.Message
		current  models.Message
		want     bool
	}{
		{"first message never pauses", nil, at(0), false},
		{"same instant", ptr(at(0)), at(0), false},
		{"just under the gap", ptr(at(0)), at(45*time.Minute - time.Second), false},
		{"exactly the gap is not a pause", ptr(at(0)), at(45 * time.Minute), false},
		{"one second over", ptr(at(0)), at(45*time.Minute + time.Second), true},
		{"hours apart", ptr(at(0)), at(6 * time.Hour), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsLongPause(tc.previous, tc.current); got != tc.want {
				t.Fatalf("IsLongPause = %v, want %v", got, tc.want)
			}
		})
	}
}

func ptr(m models.Message) *models.Message { return &m }
