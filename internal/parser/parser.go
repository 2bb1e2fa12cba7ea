// Package parser decodes raw message envelopes and extracts the key=value
// pairs that senders embed in message bodies. All functions are pure over
// immutable inputs; the package holds no state.
package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/HerbHall/pushlink/internal/pushover"
	"go.uber.org/zap"
)

// DecodeError indicates a malformed message envelope. The frame is dropped
// and logged; the connection is unaffected.
type DecodeError struct {
	err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("malformed message envelope: %v", e.err) }
func (e *DecodeError) Unwrap() error { return e.err }

// Reserved field names that extracted key=value pairs must never overwrite.
var reservedFields = map[string]struct{}{
	"id":       {},
	"title":    {},
	"message":  {},
	"app":      {},
	"priority": {},
}

// Reserved reports whether key names a top-level message attribute.
func Reserved(key string) bool {
	_, ok := reservedFields[key]
	return ok
}

// Decode parses one raw message envelope into a Message. The provider
// sends numeric ids; test fixtures and older payloads use strings. Both
// are accepted and canonicalized to the string form.
func Decode(raw []byte) (pushover.Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return pushover.Message{}, &DecodeError{err: err}
	}

	id := stringField(fields, "id")
	if id == "" {
		return pushover.Message{}, &DecodeError{err: fmt.Errorf("missing id field")}
	}

	msg := pushover.Message{
		ID:    id,
		Title: stringField(fields, "title"),
		Body:  stringField(fields, "message"),
		App:   stringField(fields, "app"),
		Raw:   fields,
	}
	if p, ok := fields["priority"].(float64); ok {
		msg.Priority = pushover.Priority(int(p))
	}
	return msg, nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode to float64; ids are integral.
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// ExtractKV scans body line by line and returns the embedded key=value
// pairs. A line matches when it contains exactly one '=' and the
// left-hand side, trimmed of whitespace, is non-empty. Lines with no '='
// or more than one '=' are ignored: a second '=' makes the split
// ambiguous, so the line is treated as prose. When a key repeats, the
// last occurrence wins.
func ExtractKV(body string) map[string]string {
	kv := make(map[string]string)
	for _, line := range strings.Split(body, "\n") {
		if strings.Count(line, "=") != 1 {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		kv[key] = strings.TrimSpace(value)
	}
	return kv
}

// ParsedMessage is a message plus the key=value pairs extracted from its
// body. Extracted holds only the pairs that survived the reserved-field
// collision rule.
type ParsedMessage struct {
	pushover.Message
	Extracted map[string]string
}

// Merge combines a message with extracted pairs, dropping any pair whose
// key collides with a reserved field. Collisions are logged, never applied:
// the original envelope fields always win.
func Merge(msg pushover.Message, kv map[string]string, logger *zap.Logger) ParsedMessage {
	extracted := make(map[string]string, len(kv))
	for key, value := range kv {
		if Reserved(key) {
			logger.Warn("dropping extracted pair colliding with reserved field",
				zap.String("message_id", msg.ID),
				zap.String("key", key),
			)
			continue
		}
		extracted[key] = value
	}
	return ParsedMessage{Message: msg, Extracted: extracted}
}

// Parse is the full pipeline for one raw envelope: decode, extract, merge.
func Parse(raw []byte, logger *zap.Logger) (ParsedMessage, error) {
	msg, err := Decode(raw)
	if err != nil {
		return ParsedMessage{}, err
	}
	return Merge(msg, ExtractKV(msg.Body), logger), nil
}

// Fields flattens a parsed message into the event payload published to
// sinks: the reserved fields first, then every extracted pair.
func (p ParsedMessage) Fields() map[string]any {
	fields := map[string]any{
		"id":       p.ID,
		"title":    p.Title,
		"message":  p.Body,
		"app":      p.App,
		"priority": p.Priority.String(),
	}
	for key, value := range p.Extracted {
		fields[key] = value
	}
	return fields
}
