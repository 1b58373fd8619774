// Package errors implements the OpenAI-compatible error envelope used by
// every HTTP response the bridge returns, and the error kinds from the
// bridge's failure taxonomy.
package errors

// APIError is the OpenAI-compatible error envelope: {"error": {...}}.
type APIError struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the inner error object of an APIError.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// Kind identifies one entry of the bridge's error taxonomy.
type Kind string

const (
	KindPeerMissing         Kind = "peer-missing"
	KindModelUnknown        Kind = "model-unknown"
	KindAuth                Kind = "auth"
	KindSessionWaitTimeout  Kind = "session-wait-timeout"
	KindPayloadTranslate    Kind = "payload-translate"
	KindAttachmentTooLarge  Kind = "attachment-too-large"
	KindCloudflareChallenge Kind = "cloudflare-challenge"
	KindPeerDisconnect      Kind = "peer-disconnect"
	KindRequestTimeout      Kind = "request-timeout"
	KindClientCancelled     Kind = "client-cancelled"
	KindShutdown            Kind = "shutdown"
	KindBridgeError         Kind = "bridge_error"
	KindCapacity            Kind = "capacity"
)

// New builds an APIError for the given kind and message.
func New(kind Kind, message string) *APIError {
	return &APIError{Error: ErrorBody{
		Message: message,
		Type:    "server_error",
		Code:    string(kind),
	}}
}
