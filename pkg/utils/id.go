package utils

import (
	"github.com/google/uuid"
)

// GenMessageID returns a fresh globally unique message id.
func GenMessageID() string {
	return "msg-" + uuid.NewString()
}

// GenReportID returns a fresh report id.
func GenReportID() string {
	return "rep-" + uuid.NewString()
}
