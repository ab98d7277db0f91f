// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Reply markers frame the structured result on the agent's stdout.
// Each marker must appear alone on its own line; everything between a
// pair is one JSON reply body. Lines outside markers are progress
// output.
const (
	replyMarker    = "<<<NANOCLAW_REPLY>>>"
	replyEndMarker = "<<<NANOCLAW_REPLY_END>>>"
)

// maxReplyBytes bounds one reply body. A runaway agent cannot make the
// host buffer unbounded output.
const maxReplyBytes = 4 << 20

// Usage reports token accounting from one agent run.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Reply is the structured result the agent emits between markers.
type Reply struct {
	// Status is "ok" or "error".
	Status string `json:"status"`

	// Result is the message text to deliver back to the chat.
	Result string `json:"result"`

	// SessionID is the agent session token to persist for the next
	// run. Empty means unchanged.
	SessionID string `json:"session_id,omitempty"`

	// Error describes the failure when Status is "error".
	Error string `json:"error,omitempty"`

	// Usage is the token accounting for this run.
	Usage Usage `json:"usage"`
}

// scanReplies consumes the agent's stdout line by line. Marker-framed
// JSON bodies are parsed and passed to onReply; all other lines go to
// onPartial. Returns the number of well-formed replies and the last
// framing or parse error, if any.
//
// A marker inside a body would have to be an exact full-line match to
// confuse the framing; ordinary reply text cannot collide.
func scanReplies(reader io.Reader, onPartial func(string), onReply func(Reply)) (int, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxReplyBytes)

	var (
		inBody    bool
		body      strings.Builder
		delivered int
		lastErr   error
	)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == replyMarker:
			if inBody {
				lastErr = fmt.Errorf("sandbox: reply marker repeated inside body")
			}
			inBody = true
			body.Reset()

		case line == replyEndMarker:
			if !inBody {
				lastErr = fmt.Errorf("sandbox: end marker without opening marker")
				continue
			}
			inBody = false

			var reply Reply
			if err := json.Unmarshal([]byte(body.String()), &reply); err != nil {
				lastErr = fmt.Errorf("sandbox: malformed reply body: %w", err)
				continue
			}
			delivered++
			if onReply != nil {
				onReply(reply)
			}

		case inBody:
			if body.Len()+len(line) > maxReplyBytes {
				lastErr = fmt.Errorf("sandbox: reply body exceeds %d bytes", maxReplyBytes)
				inBody = false
				continue
			}
			body.WriteString(line)
			body.WriteByte('\n')

		default:
			if onPartial != nil && line != "" {
				onPartial(line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		lastErr = fmt.Errorf("sandbox: reading agent output: %w", err)
	}
	if inBody && lastErr == nil {
		lastErr = fmt.Errorf("sandbox: output ended inside an unterminated reply body")
	}
	return delivered, lastErr
}
