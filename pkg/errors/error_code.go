package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidPeriod        ErrorCode = 102
	ErrCodeInvalidQuantile      ErrorCode = 103
	ErrCodeMissingParameter     ErrorCode = 104
	ErrCodeInvalidType          ErrorCode = 105
	ErrCodeInvalidTimeRange     ErrorCode = 106

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound  ErrorCode = 200
	ErrCodeQueryFailed   ErrorCode = 201
	ErrCodeEmptyTable    ErrorCode = 202
	ErrCodeDataParse     ErrorCode = 203
	ErrCodeUnsortedTable ErrorCode = 204

	// Indicator errors (300-399)
	ErrCodeIndicatorNotFound    ErrorCode = 300
	ErrCodeIndicatorCalculation ErrorCode = 301

	// Rule errors (400-499)
	ErrCodeRuleSyntax     ErrorCode = 400
	ErrCodeRuleSemantic   ErrorCode = 401
	ErrCodeUnknownColumn  ErrorCode = 402
	ErrCodeBadArity       ErrorCode = 403
	ErrCodeRecursionLimit ErrorCode = 404
	ErrCodeRuleEmpty      ErrorCode = 405

	// Trading errors (500-599)
	ErrCodeOrderRejected     ErrorCode = 500
	ErrCodeZeroQuantity      ErrorCode = 501
	ErrCodeNonPositivePrice  ErrorCode = 502
	ErrCodeInsufficientCash  ErrorCode = 503
	ErrCodeInsufficientUnits ErrorCode = 504
	ErrCodePositionNotFound  ErrorCode = 505

	// Backtest errors (600-699)
	ErrCodeBacktestInitFailed   ErrorCode = 600
	ErrCodeBacktestConfigError  ErrorCode = 601
	ErrCodeBacktestNoStrategies ErrorCode = 602
	ErrCodeBacktestNoData       ErrorCode = 603
	ErrCodeBacktestStateNil     ErrorCode = 604
	ErrCodeCrossSectionRequired ErrorCode = 605
)
