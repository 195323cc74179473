package chat

import (
	"time"

	"avatarchat/pkg/models"
)

// LongPauseGap is the separation between consecutive messages beyond which
// the UI shows a timestamp banner.
const LongPauseGap = 45 * time.Minute

// IsLongPause reports whether the gap between previous and current strictly
// exceeds LongPauseGap. The first message of a thread (previous == nil) is
// never a long pause. Pure; presentation only.
func IsLongPause(previous *models.Message, current models.Message) bool {
	if previous == nil {
		return false
	}
	return current.CreatedAt-previous.CreatedAt > LongPauseGap.Nanoseconds()
}
