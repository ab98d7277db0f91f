// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"regexp"
	"strings"
)

// TriggerPattern compiles a group's trigger name into the match
// applied to inbound text: case-insensitive, anchored at the start,
// the name auto-prefixed with "@" and followed by a word boundary.
// The name may use regular-expression syntax; a name that fails to
// compile is matched literally instead.
func TriggerPattern(trigger string) *regexp.Regexp {
	normalized := strings.TrimSpace(trigger)
	if !strings.HasPrefix(normalized, "@") {
		normalized = "@" + normalized
	}
	if pattern, err := regexp.Compile(`(?i)^` + normalized + `\b`); err == nil {
		return pattern
	}
	return regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(normalized) + `\b`)
}

// ShouldProcess decides whether inbound text wakes the group's agent.
// The main group processes everything; other groups require the
// trigger mention at the start of the message.
func ShouldProcess(isMain bool, trigger, text string) bool {
	if isMain {
		return true
	}
	return TriggerPattern(trigger).MatchString(strings.TrimSpace(text))
}
