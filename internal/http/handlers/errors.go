package handlers

// Error codes carried in ErrorResponse.Code. Clients branch on these, not on
// messages.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Failures of a chat operation after its input was accepted.
	ErrCodeSummarizeFailed = "summarize_failed"
	ErrCodeSendFailed      = "send_failed"
	ErrCodeListFailed      = "list_failed"
)
