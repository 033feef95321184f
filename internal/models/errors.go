package models

// ValidationError reports malformed or out-of-range input. It is always
// returned before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError for field
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
