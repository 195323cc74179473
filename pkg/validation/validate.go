// Package validation checks outgoing message text before any side effect
// occurs. Rules are plain data so they can come straight from config.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"avatarchat/pkg/errs"
)

// DefaultMinLength applies when Rules.MinLength is zero.
const DefaultMinLength = 4

// Rules describes the accepted shape of user-sent text.
type Rules struct {
	// MinLength is the minimum rune count; shorter texts are rejected.
	MinLength int
	// Denylist holds disallowed exact-match terms, compared
	// case-insensitively against the whole trimmed text.
	Denylist []string
}

// Check validates text against r. Violations come back as KindValidation
// errors; the caller reports them and performs no writes.
func (r Rules) Check(text string) error {
	min := r.MinLength
	if min <= 0 {
		min = DefaultMinLength
	}
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < min {
		return errs.Validation(fmt.Sprintf("message must be at least %d characters", min))
	}
	lowered := strings.ToLower(trimmed)
	for _, term := range r.Denylist {
		if lowered == strings.ToLower(strings.TrimSpace(term)) {
			return errs.Validation("message contains disallowed content")
		}
	}
	return nil
}
