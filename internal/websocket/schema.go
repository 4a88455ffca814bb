package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSave   Action = "save"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SaveRequest is sent by the client to persist one or more answers.
type SaveRequest struct {
	Action               Action       `json:"action"`
	Answers              []SaveAnswer `json:"answers"`
	CurrentQuestionIndex *int         `json:"current_question_index,omitempty"`
}

type SaveAnswer struct {
	AssignedQuestionID string `json:"assigned_question_id"`
	Value              string `json:"value"`
}

// SubmitRequest is sent by the client to finish the exam early.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventCountdown  Event = "countdown"
	EventCompletion Event = "completion"
	EventSaved      Event = "saved"
	EventSubmitted  Event = "submitted"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// CountdownEvent forwards a countdown topic message. Value is the remaining
// seconds or a marker such as "paused" or "stopped".
type CountdownEvent struct {
	Event Event  `json:"event"`
	Value string `json:"value"`
}

// CompletionEvent forwards a completion topic marker.
type CompletionEvent struct {
	Event  Event  `json:"event"`
	Marker string `json:"marker"`
}

type SavedResponse struct {
	Event Event `json:"event"`
	Saved int   `json:"saved"`
}

type SubmittedResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
	Graded bool   `json:"graded"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
