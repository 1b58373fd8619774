// Package payload translates OpenAI chat-completion requests into the
// upstream conversation-graph payload the browser peer expects, and back
// again for the retry/reuse variant used against an already-warmed session.
package payload

import "encoding/json"

// ChatRequest is the subset of the OpenAI chat-completions request body
// this bridge understands.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Message is one OpenAI chat message. Content is either a plain string or
// a list of ContentPart, so it is decoded manually from raw JSON.
type Message struct {
	Role    string
	Text    string
	Parts   []ContentPart
	IsParts bool
}

// UnmarshalJSON decodes a message, capturing whether content arrived as a
// string or a multimodal part list.
func (m *Message) UnmarshalJSON(data []byte) error {
	var aux struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Role = aux.Role

	if len(aux.Content) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(aux.Content, &asString); err == nil {
		m.Text = asString
		return nil
	}
	var asParts []ContentPart
	if err := json.Unmarshal(aux.Content, &asParts); err != nil {
		return nil
	}
	m.Parts = asParts
	m.IsParts = true
	return nil
}

// ContentPart is one element of a multimodal message content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries a data: URI or remote URL, and optionally an original
// filename smuggled through the OpenAI "detail" field.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}
