package wire

import (
	"encoding/json"
	"strings"

	"github.com/arenabridge/bridge/internal/errors"
)

// Decoder parses the browser peer's line-tagged stream into Events. It is
// not safe for concurrent use; one Decoder is owned by the single consumer
// of one request's response channel.
//
// Parsing is a streaming buffer-scan per spec.md §4.A: each Feed call
// appends its frame to buffer, then greedily consumes the longest prefix
// of complete records (tagged lines terminated by '\n', or a standalone
// JSON object), leaving any incomplete tail — a tagged line or JSON
// object still missing bytes — buffered for the next call.
type Decoder struct {
	modality string // "chat", "image", or "video"
	buffer   string
}

// NewDecoder returns a Decoder for the given model modality.
func NewDecoder(modality string) *Decoder {
	if modality == "" {
		modality = "chat"
	}
	return &Decoder{modality: modality}
}

// Feed appends raw to the decoder's buffer and parses zero or more
// complete Events out of it.
func (d *Decoder) Feed(raw string) []Event {
	d.buffer += raw

	trimmed := strings.TrimSpace(d.buffer)
	if trimmed == "" || trimmed == `"[DONE]"` || trimmed == "[DONE]" {
		d.buffer = ""
		return nil
	}

	// A Cloudflare interstitial is delivered as an HTML blob rather than a
	// record line; a single match anywhere in the accumulated buffer is
	// enough to raise it, per spec.md §4.A.
	if looksLikeCloudflareChallenge(d.buffer) {
		d.buffer = ""
		return []Event{errorEvent(errors.KindCloudflareChallenge, "the peer's browser tab hit a Cloudflare challenge")}
	}

	// A free-form JSON object carrying "error" is an upstream-reported
	// failure, not a tagged record. It must be fully received before it
	// can be classified, so an incomplete object is left buffered.
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			if isIncompleteJSON(err) {
				return nil
			}
			d.buffer = ""
			return nil
		}
		d.buffer = ""
		if e, ok := obj["error"]; ok {
			return []Event{d.classifyError(e)}
		}
		return nil
	}

	// Tagged record lines: every line but the last is newline-terminated
	// and therefore complete. The last line may still be accumulating, so
	// it is only consumed once its payload parses as complete JSON.
	lines := strings.Split(d.buffer, "\n")
	last := lines[len(lines)-1]
	complete := lines[:len(lines)-1]

	var events []Event
	for _, line := range complete {
		if strings.TrimSpace(line) == "" {
			continue
		}
		events = append(events, d.parseRecord(line)...)
	}

	if strings.TrimSpace(last) == "" {
		d.buffer = ""
		return events
	}

	tail, ok := d.tryParseRecord(last)
	if !ok {
		d.buffer = last
		return events
	}
	d.buffer = ""
	return append(events, tail...)
}

// tryParseRecord attempts to parse line as a complete tagged record. The
// second return value is false only when line's JSON payload is truncated
// and more bytes are needed; any other line (malformed payload, unknown
// prefix) is treated as complete so a garbled record can never wedge the
// buffer open forever.
func (d *Decoder) tryParseRecord(line string) ([]Event, bool) {
	_, payload, ok := strings.Cut(line, ":")
	if !ok {
		return nil, false
	}

	var probe interface{}
	if err := json.Unmarshal([]byte(payload), &probe); err != nil && isIncompleteJSON(err) {
		return nil, false
	}
	return d.parseRecord(line), true
}

// isIncompleteJSON reports whether err indicates json input that was
// truncated mid-value, as opposed to input that is simply malformed.
func isIncompleteJSON(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unexpected end of JSON input")
}

// parseRecord parses one `prefix:payload` line.
func (d *Decoder) parseRecord(line string) []Event {
	prefix, payload, ok := strings.Cut(line, ":")
	if !ok {
		return nil
	}

	switch prefix {
	case "a0", "b0":
		if d.modality != "chat" {
			return nil
		}
		var delta string
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			return nil
		}
		return []Event{contentEvent(delta)}

	case "a2", "b2":
		if d.modality == "chat" {
			return nil
		}
		var items []map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			return nil
		}
		key := "url"
		kind := MediaVideo
		if d.modality == "image" {
			key = "image"
			kind = MediaImage
		}
		var events []Event
		for _, item := range items {
			if url, ok := item[key].(string); ok && url != "" {
				events = append(events, mediaEvent(url, kind))
			}
		}
		return events

	case "ad":
		var finish struct {
			FinishReason string `json:"finishReason"`
		}
		if err := json.Unmarshal([]byte(payload), &finish); err != nil {
			return nil
		}
		reason := finish.FinishReason
		if reason == "" {
			reason = "stop"
		}
		return []Event{finishEvent(reason)}

	default:
		return nil
	}
}

// classifyError turns a raw upstream error value into an Event, applying
// the attachment-too-large and Cloudflare classifications from spec.md §4.A.
func (d *Decoder) classifyError(raw interface{}) Event {
	message := errorMessageString(raw)
	if looksLikeAttachmentTooLarge(message) {
		return errorEvent(errors.KindAttachmentTooLarge, message)
	}
	if looksLikeCloudflareChallenge(message) {
		return errorEvent(errors.KindCloudflareChallenge, message)
	}
	return errorEvent(errors.KindBridgeError, message)
}

// errorMessageString renders an upstream error value (string, or an
// OpenAI-shaped {message,type,code} object) as a plain message string.
func errorMessageString(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	b, _ := json.Marshal(raw)
	return string(b)
}
