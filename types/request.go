package types

import "encoding/json"

// ResponseStatus is the outcome classification of a request.
type ResponseStatus string

const (
	StatusSuccess              ResponseStatus = "success"
	StatusError                ResponseStatus = "error"
	StatusContinuationRequired ResponseStatus = "continuation_required"
	StatusTimeout              ResponseStatus = "timeout"
	StatusNotFound             ResponseStatus = "not_found"
	StatusUnavailable          ResponseStatus = "unavailable"
)

// Request is an inference request routed to an agent. A non-empty ThreadID
// marks the request as a continuation of an existing conversation.
type Request struct {
	Prompt       string            `json:"prompt"`
	ThreadID     string            `json:"thread_id,omitempty"`
	Files        []string          `json:"files,omitempty"`
	Images       []string          `json:"images,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	MaxTokens    int               `json:"max_tokens"`
	Temperature  float32           `json:"temperature"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
}

// Response is the result of processing a Request.
type Response struct {
	Status       ResponseStatus    `json:"status"`
	Content      string            `json:"content"`
	ThreadID     string            `json:"thread_id,omitempty"`
	TokensUsed   int               `json:"tokens_used"`
	ErrorKind    ErrorKind         `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ErrorResponse builds a failed response with the given kind and message.
func ErrorResponse(kind ErrorKind, message string) Response {
	return Response{
		Status:       StatusError,
		ErrorKind:    kind,
		ErrorMessage: message,
	}
}

// OK reports whether the response carries a success status.
func (r Response) OK() bool {
	return r.Status == StatusSuccess
}

// ContinuationOffer invites the caller to continue a multi-turn conversation.
type ContinuationOffer struct {
	ContinuationID string `json:"continuation_id"`
	Note           string `json:"note,omitempty"`
	RemainingTurns int    `json:"remaining_turns"`
	ExpiresAt      int64  `json:"expires_at"`
}

// Encode serializes the request to JSON.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses a request from JSON.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	err := json.Unmarshal(data, &r)
	return r, err
}
