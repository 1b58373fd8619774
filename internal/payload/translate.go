package payload

import (
	"strings"

	"github.com/google/uuid"
)

// Mode mirrors config.Mode without importing internal/config, keeping this
// package translator-pure.
type Mode string

const (
	ModeDirectChat Mode = "direct_chat"
	ModeBattle     Mode = "battle"
)

// Options carries the read-only request-time configuration snapshot the
// translator needs; it is a narrow view of *config.Config.
type Options struct {
	Modality        string // "chat", "image", or "video"
	TavernEnabled   bool
	BypassEnabled   bool
	InsertEmptyTurn bool
	Mode            Mode
	BattleTarget    string // "A" or "B"
	UpstreamModelID string
}

// ArenaMessage is one node of the upstream conversation graph.
type ArenaMessage struct {
	ID                  string       `json:"id"`
	Role                string       `json:"role"`
	Content             string       `json:"content"`
	Attachments         []Attachment `json:"attachments"`
	ParentMessageIDs    []string     `json:"parentMessageIds"`
	ParticipantPosition string       `json:"participantPosition"`
	ModelID             *string      `json:"modelId"`
	EvaluationSessionID string       `json:"evaluationSessionId"`
	Status              string       `json:"status"`
}

// ArenaPayload is the full upstream conversation-graph payload, per
// spec.md §3: `{id, mode, modelAId, userMessageId, modelAMessageId,
// messages[], modality}`.
type ArenaPayload struct {
	ID              string         `json:"id"`
	Mode            string         `json:"mode"`
	ModelAID        string         `json:"modelAId"`
	UserMessageID   string         `json:"userMessageId"`
	ModelAMessageID string         `json:"modelAMessageId"`
	Messages        []ArenaMessage `json:"messages"`
	Modality        string         `json:"modality"`
}

type processedMessage struct {
	role        string
	content     string
	attachments []Attachment
}

// Translate converts an OpenAI chat request into the upstream conversation
// graph payload, applying role normalization, multimodal/code-block
// attachment extraction, the empty-user rewrite, tavern mode, bypass mode,
// and participant positions, per spec.md §4.B.
func Translate(req ChatRequest, opts Options) ArenaPayload {
	processed := make([]processedMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		processed = append(processed, processMessage(msg))
	}
	applyAttachmentSafetyValve(processed)

	if opts.Modality == "" {
		opts.Modality = "chat"
	}

	if opts.Modality == "chat" && opts.InsertEmptyTurn {
		processed = insertEmptyUserTurn(processed)
	}

	if opts.TavernEnabled {
		processed = applyTavernMode(processed)
	}

	if opts.Modality == "chat" && opts.BypassEnabled {
		processed = append(processed, processedMessage{role: "user", content: " "})
	}

	return assembleGraph(processed, opts)
}

// processMessage applies role normalization and the multimodal/text split.
func processMessage(msg Message) processedMessage {
	role := msg.Role
	if role == "developer" {
		role = "system"
	}

	if !msg.IsParts {
		content := msg.Text
		var attachments []Attachment
		if role == "user" {
			content, attachments = extractDataURICandidates(content)
		}
		return processedMessage{role: role, content: content, attachments: attachments}
	}

	var textParts []string
	var attachments []Attachment
	for _, part := range msg.Parts {
		switch part.Type {
		case "text":
			textParts = append(textParts, part.Text)
		case "image_url":
			if att, ok := extractFromPart(part.ImageURL); ok {
				attachments = append(attachments, att)
			}
		}
	}

	return processedMessage{
		role:        role,
		content:     strings.Join(textParts, "\n\n"),
		attachments: attachments,
	}
}

// applyAttachmentSafetyValve totals every message's extracted attachments
// across the whole request and, if the combined set looks like source code
// mistaken for uploads, clears every message's attachments in place. The
// already-redacted message text is left as is, matching the original's
// behavior of only discarding files_to_upload, never restoring the text.
func applyAttachmentSafetyValve(messages []processedMessage) {
	total := 0
	for _, msg := range messages {
		total += len(msg.attachments)
	}
	if total == 0 {
		return
	}

	all := make([]Attachment, 0, total)
	for _, msg := range messages {
		all = append(all, msg.attachments...)
	}
	if !rejectAsCodeBlockMistake(all) {
		return
	}

	for i := range messages {
		messages[i].attachments = nil
	}
}

// insertEmptyUserTurn ensures the last user message is non-empty and
// inserts a fresh space-only user turn immediately after it.
func insertEmptyUserTurn(messages []processedMessage) []processedMessage {
	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].role == "user" {
			lastUser = i
			break
		}
	}
	if lastUser == -1 {
		return messages
	}

	if strings.TrimSpace(messages[lastUser].content) == "" {
		messages[lastUser].content = " "
	}

	out := make([]processedMessage, 0, len(messages)+1)
	out = append(out, messages[:lastUser+1]...)
	out = append(out, processedMessage{role: "user", content: " "})
	out = append(out, messages[lastUser+1:]...)
	return out
}

// applyTavernMode merges all system messages, in original order and
// blank-line separated, into a single synthetic system message placed
// before the first non-system message.
func applyTavernMode(messages []processedMessage) []processedMessage {
	var systemParts []string
	var rest []processedMessage
	for _, msg := range messages {
		if msg.role == "system" {
			systemParts = append(systemParts, msg.content)
			continue
		}
		rest = append(rest, msg)
	}

	if len(systemParts) == 0 {
		return rest
	}

	merged := processedMessage{role: "system", content: strings.Join(systemParts, "\n\n")}
	return append([]processedMessage{merged}, rest...)
}

// assembleGraph mints UUIDs, chains parentMessageIds, assigns
// participantPosition per spec.md §4.B.7, and appends the
// terminal empty assistant message per spec.md §4.B.8 / §3.
func assembleGraph(messages []processedMessage, opts Options) ArenaPayload {
	evaluationID := uuid.NewString()

	target := strings.ToLower(opts.BattleTarget)
	if target == "" {
		target = "a"
	}

	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = uuid.NewString()
	}

	arenaMessages := make([]ArenaMessage, 0, len(messages)+1)
	for i, msg := range messages {
		var parents []string
		if i > 0 {
			parents = []string{ids[i-1]}
		}

		position := "a"
		if opts.Mode == ModeBattle {
			position = target
		} else if msg.role == "system" {
			position = "b"
		}

		role := msg.role
		if role != "user" && role != "assistant" && role != "system" && role != "data" {
			role = "user"
		}

		var modelID *string
		if role == "assistant" {
			id := opts.UpstreamModelID
			modelID = &id
		}

		arenaMessages = append(arenaMessages, ArenaMessage{
			ID:                  ids[i],
			Role:                role,
			Content:             msg.content,
			Attachments:         nonNilAttachments(msg.attachments),
			ParentMessageIDs:    nonNilStrings(parents),
			ParticipantPosition: position,
			ModelID:             modelID,
			EvaluationSessionID: evaluationID,
			Status:              "pending",
		})
	}

	userMessageID := evaluationID
	if len(ids) > 0 {
		userMessageID = ids[len(ids)-1]
	}

	modelAMessageID := uuid.NewString()
	terminalPosition := "a"
	if opts.Mode == ModeBattle {
		terminalPosition = target
	}
	arenaMessages = append(arenaMessages, ArenaMessage{
		ID:                  modelAMessageID,
		Role:                "assistant",
		Content:             "",
		Attachments:         []Attachment{},
		ParentMessageIDs:    []string{userMessageID},
		ParticipantPosition: terminalPosition,
		ModelID:             &opts.UpstreamModelID,
		EvaluationSessionID: evaluationID,
		Status:              "pending",
	})

	return ArenaPayload{
		ID:              evaluationID,
		Mode:            "direct",
		ModelAID:        opts.UpstreamModelID,
		UserMessageID:   userMessageID,
		ModelAMessageID: modelAMessageID,
		Messages:        arenaMessages,
		Modality:        opts.Modality,
	}
}

func nonNilAttachments(a []Attachment) []Attachment {
	if a == nil {
		return []Attachment{}
	}
	return a
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
