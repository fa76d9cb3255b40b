package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Data errors (100-199)
	ErrCodeDataNotMonotonic     ErrorCode = 100
	ErrCodeDataMalformed        ErrorCode = 101
	ErrCodeDataReadFailed       ErrorCode = 102
	ErrCodeDataNotFound         ErrorCode = 103
	ErrCodeDataSourceExhausted  ErrorCode = 104
	ErrCodeDataSourceNotReady   ErrorCode = 105
	ErrCodeUnsupportedTimeframe ErrorCode = 106

	// Order errors (200-299)
	ErrCodeInvalidOrder         ErrorCode = 200
	ErrCodeInvalidQuantity      ErrorCode = 201
	ErrCodeInvalidPrice         ErrorCode = 202
	ErrCodeOrderNotFound        ErrorCode = 203
	ErrCodeOrderNotPending      ErrorCode = 204
	ErrCodeOrderOutsideWindow   ErrorCode = 205
	ErrCodeInvalidBracket       ErrorCode = 206
	ErrCodePositionLimitReached ErrorCode = 207

	// Funds errors (300-399)
	ErrCodeInsufficientCash   ErrorCode = 300
	ErrCodeInsufficientMargin ErrorCode = 301

	// Strategy errors (400-499)
	ErrCodeStrategyConfigError  ErrorCode = 400
	ErrCodeStrategyRuntimeError ErrorCode = 401
	ErrCodeStrategyPanic        ErrorCode = 402
	ErrCodeStrategyNotLoaded    ErrorCode = 403

	// Matching errors (500-599)
	ErrCodeMatchingFailed    ErrorCode = 500
	ErrCodeMarketDataMissing ErrorCode = 501

	// State errors (600-699)
	ErrCodeStateInitFailed  ErrorCode = 600
	ErrCodeStateWriteFailed ErrorCode = 601
	ErrCodeStateQueryFailed ErrorCode = 602
	ErrCodeConfigInvalid    ErrorCode = 603
	ErrCodeVersionMismatch  ErrorCode = 604
)
