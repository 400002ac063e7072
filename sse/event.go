package sse

import "encoding/json"

// Event types named in §6's wire format.
const (
	EventStage    = "stage"
	EventResume   = "resume"
	EventComplete = "complete"
	EventError    = "error"
)

// Stage payload values for the "stage" event type.
const (
	StageDrafting = "DRAFTING"
	StageComplete = "COMPLETE"
)

// StagePayload is the {stage, payload?} body of a "stage" event.
type StagePayload struct {
	Stage   string      `json:"stage"`
	Payload interface{} `json:"payload,omitempty"`
}

// ResumePayload is the {token} body of the first "resume" event every
// stream emits, carrying the signed capability to replay or live-follow
// it.
type ResumePayload struct {
	Token string `json:"token"`
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
