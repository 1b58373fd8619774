// Package wire implements the browser peer's line-tagged wire protocol:
// parsing `a0:`/`a2:`/`ad:`/error-JSON/Cloudflare-challenge records into a
// typed event sequence, and formatting that sequence back out as
// OpenAI-compatible SSE or JSON responses.
package wire

import "github.com/arenabridge/bridge/internal/errors"

// Kind discriminates the variants of Event. Modeled as a tagged struct
// rather than an interface hierarchy so the codec's consumer can exhaustively
// switch on one field, per the re-architecting notes on inbound message
// dispatch.
type Kind int

const (
	// KindContent is a text delta for chat modality.
	KindContent Kind = iota
	// KindMedia is an image or video URL for image/video modality.
	KindMedia
	// KindFinish marks the end of a turn.
	KindFinish
	// KindError is an upstream-reported or codec-detected failure.
	KindError
)

// MediaKind identifies the modality of a media event.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Event is one decoded unit of the browser peer's stream.
type Event struct {
	Kind Kind

	// Content is the text delta, set when Kind == KindContent.
	Content string

	// MediaURL and MediaKind are set when Kind == KindMedia.
	MediaURL  string
	MediaKind MediaKind

	// FinishReason is set when Kind == KindFinish.
	FinishReason string

	// ErrorKind and ErrorMessage are set when Kind == KindError.
	ErrorKind    errors.Kind
	ErrorMessage string
}

func contentEvent(text string) Event { return Event{Kind: KindContent, Content: text} }

func mediaEvent(url string, kind MediaKind) Event {
	return Event{Kind: KindMedia, MediaURL: url, MediaKind: kind}
}

func finishEvent(reason string) Event { return Event{Kind: KindFinish, FinishReason: reason} }

func errorEvent(kind errors.Kind, message string) Event {
	return Event{Kind: KindError, ErrorKind: kind, ErrorMessage: message}
}
