package log

// Canonical field name constants for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"

	// Request pipeline
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"

	// Stream manager
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldAttempt  = "attempt"
	FieldDelay    = "delay"
	FieldCategory = "category"
	FieldURL      = "url"
)
