// Package streamparse decodes an accumulating raw-text buffer into discrete
// JSON events, hiding the difference between the wire framings upstream
// providers use for the same logical chunk stream: SSE "data:" lines, bare
// newline-delimited JSON / JSON-array fragments, or a single JSON value.
//
// Parse is called once per received network chunk with the previous call's
// remainder prefixed, so a network read never has to align with a JSON-value
// boundary.
package streamparse

import (
	"encoding/json"
	"strings"
)

const (
	ssePrefix    = "data:"
	doneSentinel = "[DONE]"
)

// Parse decodes every complete JSON event in buffer and returns the
// unconsumed tail. final marks the end of the stream: leftover partial
// payloads are force-parsed as a last resort instead of carried over.
//
// Framing is sniffed per call, first matching rule wins:
//  1. a "data:" marker anywhere selects SSE framing
//  2. a buffer starting with '{' or '[' selects bare incremental JSON
//  3. otherwise the whole trimmed buffer is tried as one JSON value
func Parse(buffer string, final bool) (events []json.RawMessage, remaining string) {
	if strings.Contains(buffer, ssePrefix) {
		return parseSSE(buffer, final)
	}

	trimmed := strings.TrimSpace(buffer)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return parseBareJSON(buffer, final)
	}

	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return []json.RawMessage{json.RawMessage(trimmed)}, ""
	}
	// Not decodable yet; hold everything until more data arrives.
	return nil, buffer
}

// parseSSE handles "data: {json}" framing. A single JSON payload may span
// several physical lines (a value split at a chunk boundary), so non-data
// lines are appended to the in-progress payload until it parses. Pure-hex
// lines are chunked-transfer-encoding size indicators and are skipped.
func parseSSE(buffer string, final bool) (events []json.RawMessage, remaining string) {
	lines := strings.Split(buffer, "\n")
	endsComplete := strings.HasSuffix(buffer, "\n")

	var pending string
	inProgress := false

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		// A buffer not ending in a newline was cut mid-line; its last line
		// is a fragment whose identity is unknown yet.
		partial := !final && !endsComplete && i == len(lines)-1

		if strings.HasPrefix(line, ssePrefix) {
			pending = strings.TrimSpace(line[len(ssePrefix):])
			inProgress = true
			if pending == doneSentinel {
				pending = ""
				inProgress = false
				continue
			}
			if pending != "" && json.Valid([]byte(pending)) {
				events = append(events, json.RawMessage(pending))
				pending = ""
				inProgress = false
			}
			continue
		}

		if !inProgress {
			if partial && strings.TrimSpace(line) != "" {
				remaining = raw
			}
			continue
		}
		if strings.TrimSpace(line) == "" || (!partial && isHexLine(line)) {
			continue
		}

		pending += line
		if json.Valid([]byte(pending)) {
			events = append(events, json.RawMessage(pending))
			pending = ""
			inProgress = false
		}
	}

	if inProgress {
		if final {
			// Last resort: the stream is over, either it parses now or it
			// was a comment/garbage tail.
			if pending != "" && json.Valid([]byte(pending)) {
				events = append(events, json.RawMessage(pending))
			}
		} else {
			// Re-prefix so the next call sniffs SSE framing again.
			remaining = ssePrefix + " " + pending
		}
	}

	return events, remaining
}

// parseBareJSON handles newline-delimited JSON and incrementally delivered
// JSON arrays (Gemini's default non-SSE framing): one element per line with
// array punctuation attached.
func parseBareJSON(buffer string, final bool) (events []json.RawMessage, remaining string) {
	lines := strings.Split(buffer, "\n")

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		stripped := stripArrayPunctuation(line)
		if stripped == "" {
			continue
		}

		if json.Valid([]byte(stripped)) {
			events = append(events, json.RawMessage(stripped))
			continue
		}

		// An unparsable last line is an incomplete element: keep the raw
		// line (punctuation included) so a later concatenation reparses
		// cleanly. Anything unparsable mid-buffer is dropped.
		if i == len(lines)-1 && !final {
			remaining = raw
		}
	}

	return events, remaining
}

// stripArrayPunctuation removes a single leading '[' or ',' and a single
// trailing ']' or ',' from a line, so array elements parse standalone.
func stripArrayPunctuation(line string) string {
	if strings.HasPrefix(line, "[") || strings.HasPrefix(line, ",") {
		line = line[1:]
	}
	if strings.HasSuffix(line, "]") || strings.HasSuffix(line, ",") {
		line = line[:len(line)-1]
	}
	return strings.TrimSpace(line)
}

// isHexLine reports whether the line is only hex digits, i.e. a
// chunked-transfer-encoding size indicator that leaked into the body.
func isHexLine(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
