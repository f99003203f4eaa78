package comfy

import (
	"errors"
	"fmt"
)

// ErrNoOutput means the event stream finished cleanly but no executed
// message ever carried an image. The server-side generation produced
// nothing; distinct from a transport failure so the UI can say so.
var ErrNoOutput = errors.New("generation finished but produced no output image")

// ErrInterrupted resolves a job that was cancelled with Interrupt and whose
// stream then ended without a completion signal.
var ErrInterrupted = errors.New("generation interrupted")

// ErrBaseURLNotSet means no tunnel endpoint has been configured yet.
var ErrBaseURLNotSet = errors.New("ComfyUI base URL not set - tunnel not established")

// SubmitError is a non-success response to a job submission. Body carries
// the server's error text verbatim.
type SubmitError struct {
	Status int
	Body   string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("prompt submission failed (HTTP %d): %s", e.Status, e.Body)
}

// ProtocolError means a response was missing a field the protocol requires,
// such as the prompt_id on submission.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}
