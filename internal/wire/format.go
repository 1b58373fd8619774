package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// coalesceMinChars is the minimum buffered size before a streaming
	// text chunk is flushed, per spec.md §4.A.
	coalesceMinChars = 40
	// coalesceMaxDelay is the maximum time a streaming text chunk may sit
	// buffered before being flushed regardless of size.
	coalesceMaxDelay = 500 * time.Millisecond

	contentFilterSuffix = "\n\n[response stopped: content filter]"
)

// Formatter accumulates Events for one request and renders them as
// OpenAI-compatible SSE frames (streaming) or a single JSON object
// (non-streaming), applying the chunk-coalescing rule from spec.md §4.A.
type Formatter struct {
	responseID string
	model      string
	modality   string
	streaming  bool

	buffer       strings.Builder
	lastFlush    time.Time
	accumulated  strings.Builder
	mediaURLs    []string
	finishReason string
}

// NewFormatter returns a Formatter for one request.
func NewFormatter(model, modality string, streaming bool) *Formatter {
	if modality == "" {
		modality = "chat"
	}
	return &Formatter{
		responseID: "chatcmpl-" + uuid.NewString(),
		model:      model,
		modality:   modality,
		streaming:  streaming,
		lastFlush:  time.Now(),
	}
}

// Push processes one decoded Event and returns zero or more ready-to-write
// SSE frames (streaming mode only; non-streaming mode always returns nil
// here and produces output from Final instead).
func (f *Formatter) Push(ev Event) []string {
	switch ev.Kind {
	case KindContent:
		return f.pushContent(ev.Content)
	case KindMedia:
		f.mediaURLs = append(f.mediaURLs, ev.MediaURL)
		return nil
	case KindFinish:
		return f.pushFinish(ev.FinishReason)
	case KindError:
		return nil
	}
	return nil
}

func (f *Formatter) pushContent(delta string) []string {
	if f.modality != "chat" {
		f.accumulated.WriteString(delta)
		return nil
	}

	f.buffer.WriteString(delta)
	if !f.streaming {
		return nil
	}

	if f.buffer.Len() >= coalesceMinChars {
		return []string{f.flushBuffer()}
	}
	return nil
}

// Tick is called periodically by the orchestrator's read loop so that a
// buffered chunk under coalesceMinChars is still flushed within
// coalesceMaxDelay, per spec.md §4.A.
func (f *Formatter) Tick(now time.Time) []string {
	if f.modality != "chat" || !f.streaming || f.buffer.Len() == 0 {
		return nil
	}
	if now.Sub(f.lastFlush) < coalesceMaxDelay {
		return nil
	}
	return []string{f.flushBuffer()}
}

func (f *Formatter) flushBuffer() string {
	content := f.buffer.String()
	f.accumulated.WriteString(content)
	f.buffer.Reset()
	f.lastFlush = time.Now()
	return f.chunkFrame(content, nil)
}

func (f *Formatter) pushFinish(reason string) []string {
	if reason == "" {
		reason = "stop"
	}
	f.finishReason = reason

	var frames []string
	if reason == "content-filter" {
		f.buffer.WriteString(contentFilterSuffix)
	}
	if f.modality == "chat" && f.buffer.Len() > 0 {
		content := f.buffer.String()
		f.accumulated.WriteString(content)
		f.buffer.Reset()
		if f.streaming {
			frames = append(frames, f.chunkFrame(content, nil))
		}
	}
	return frames
}

// Final flushes any remaining buffered content, renders media content for
// image/video modalities, and returns the terminating frame(s): the
// finish chunk and "[DONE]" for streaming, or the single aggregate JSON
// object for non-streaming.
func (f *Formatter) Final() []string {
	reason := f.finishReason
	if reason == "" {
		reason = "stop"
	}

	content := f.finalContent()

	if !f.streaming {
		return []string{f.aggregateJSON(content, reason)}
	}

	var frames []string
	if f.modality != "chat" {
		frames = append(frames, f.chunkFrame(content, nil))
	}
	frames = append(frames, f.finishFrame(reason))
	frames = append(frames, "data: [DONE]\n\n")
	return frames
}

// finalContent renders accumulated text, or for image/video modality the
// markdown/URL-list rendering of collected media URLs.
func (f *Formatter) finalContent() string {
	switch f.modality {
	case "video":
		return strings.Join(f.mediaURLs, "\n")
	case "image":
		lines := make([]string, len(f.mediaURLs))
		for i, url := range f.mediaURLs {
			lines[i] = fmt.Sprintf("![Generated Image](%s)", url)
		}
		return strings.Join(lines, "\n")
	default:
		return f.accumulated.String()
	}
}

type chatChunk struct {
	ID                string         `json:"id"`
	Object            string         `json:"object"`
	Created           int64          `json:"created"`
	Model             string         `json:"model"`
	Choices           []chunkChoice  `json:"choices"`
	SystemFingerprint string         `json:"system_fingerprint"`
}

type chunkChoice struct {
	Index        int             `json:"index"`
	Delta        chunkChoiceDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type chunkChoiceDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (f *Formatter) chunkFrame(content string, finishReason *string) string {
	chunk := chatChunk{
		ID:                f.responseID,
		Object:            "chat.completion.chunk",
		Created:           time.Now().Unix(),
		Model:             f.model,
		SystemFingerprint: fingerprint(),
		Choices: []chunkChoice{{
			Index:        0,
			Delta:        chunkChoiceDelta{Role: "assistant", Content: content},
			FinishReason: finishReason,
		}},
	}
	b, _ := json.Marshal(chunk)
	return fmt.Sprintf("data: %s\n\n", b)
}

func (f *Formatter) finishFrame(reason string) string {
	chunk := chatChunk{
		ID:                f.responseID,
		Object:            "chat.completion.chunk",
		Created:           time.Now().Unix(),
		Model:             f.model,
		SystemFingerprint: fingerprint(),
		Choices: []chunkChoice{{
			Index:        0,
			Delta:        chunkChoiceDelta{},
			FinishReason: &reason,
		}},
	}
	b, _ := json.Marshal(chunk)
	return fmt.Sprintf("data: %s\n\n", b)
}

type chatCompletion struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	Created           int64             `json:"created"`
	Model             string            `json:"model"`
	Choices           []completionChoice `json:"choices"`
	Usage             usage             `json:"usage"`
	SystemFingerprint string            `json:"system_fingerprint"`
}

type completionChoice struct {
	Index        int                `json:"index"`
	Message      completionMessage  `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (f *Formatter) aggregateJSON(content, reason string) string {
	resp := chatCompletion{
		ID:      f.responseID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   f.model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      completionMessage{Role: "assistant", Content: content},
			FinishReason: reason,
		}},
		Usage:             usage{},
		SystemFingerprint: fingerprint(),
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func fingerprint() string {
	id := uuid.NewString()
	return "fp_" + id[:8]
}

// ErrorFrame renders a codec/registry error as OpenAI error-envelope SSE
// frames (streaming) or a single JSON body (non-streaming). Spec.md §7:
// codec errors always result in a final [DONE] even after an error frame.
func ErrorFrame(streaming bool, message string) string {
	payload := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "server_error",
			"code":    nil,
		},
	}
	b, _ := json.Marshal(payload)
	if streaming {
		return fmt.Sprintf("data: %s\n\ndata: [DONE]\n\n", b)
	}
	return string(b)
}
