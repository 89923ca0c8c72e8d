package images

// Error is an application-layer error that can be mapped to an HTTP response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func vinRequired() *Error {
	return &Error{Status: 400, Code: "VIN_REQUIRED", Message: "vin is required"}
}

func imageNotFound() *Error {
	return &Error{Status: 404, Code: "IMAGE_NOT_FOUND", Message: "image not found"}
}

func validationFailed(fields map[string]any) *Error {
	return &Error{
		Status:  422,
		Code:    "VALIDATION_ERROR",
		Message: "validation failed",
		Details: map[string]any{"fields": fields},
	}
}
