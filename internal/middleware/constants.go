package middleware

// Common header and content type constants.
const (
	HeaderContentType = "Content-Type"
	HeaderRetryAfter  = "Retry-After"
	ContentTypeJSON   = "application/json"
)

// Canned JSON error bodies.
const (
	ErrServiceUnavailable = `{"error":"service unavailable"}`
	ErrTooManyRequests    = `{"error":"rate limit exceeded"}`
	ErrInternalServer     = `{"error":"internal server error"}`
)
