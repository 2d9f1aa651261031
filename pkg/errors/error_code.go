package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidState         ErrorCode = 102

	// Dataset errors (200-299)
	ErrCodeDatasetIO       ErrorCode = 200
	ErrCodeMalformedRecord ErrorCode = 201

	// Source errors (300-399)
	ErrCodeSourceUnavailable ErrorCode = 300
	ErrCodeRateLimited       ErrorCode = 301

	// Publish errors (400-499)
	ErrCodePublishFailed  ErrorCode = 400
	ErrCodeDownloadFailed ErrorCode = 401
)
