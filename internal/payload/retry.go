package payload

// RetryMessage is the single-message body of a retry/reuse request sent
// against an already-warmed session.
type RetryMessage struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

// RetryPayload is produced when dispatching on a warmed session instead of
// minting a fresh conversation graph, per spec.md §4.B's retry/reuse
// variant.
type RetryPayload struct {
	Message             RetryMessage `json:"message"`
	Stream              bool         `json:"stream"`
	MessageID           string       `json:"messageId"`
	EvaluationSessionID string       `json:"evaluationSessionId"`
}

// LastUserText returns the content of the last user message in req, or ""
// if there is none.
func LastUserText(req ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			if req.Messages[i].IsParts {
				return processMessage(req.Messages[i]).content
			}
			return req.Messages[i].Text
		}
	}
	return ""
}

// BuildRetryPayload constructs the retry/reuse variant for an acquired
// session: the last user message's text with its attachments cleared from
// the embedded message (the upstream peer message wraps filesToUpload
// separately, per spec.md §4.B), bound to the existing messageId and
// evaluationSessionId.
func BuildRetryPayload(req ChatRequest, sessionID, messageID string) (RetryPayload, []Attachment) {
	var lastUser *Message
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = &req.Messages[i]
			break
		}
	}

	var content string
	var attachments []Attachment
	if lastUser != nil {
		processed := processMessage(*lastUser)
		content = processed.content
		attachments = processed.attachments
	}

	return RetryPayload{
		Message: RetryMessage{
			Role:        "user",
			Content:     content,
			Attachments: []Attachment{},
		},
		Stream:              true,
		MessageID:           messageID,
		EvaluationSessionID: sessionID,
	}, nonNilAttachments(attachments)
}
