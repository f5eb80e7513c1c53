package errors

// APIError is the uniform error body every endpoint returns.
type APIError struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details map[string]any) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}
