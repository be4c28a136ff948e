package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Transport errors
	ErrTransportOpen    ErrorCode = "transport_open_failed"
	ErrTransportRuntime ErrorCode = "transport_runtime_failed"

	// Session lifecycle errors
	ErrSessionActive   ErrorCode = "session_already_active"
	ErrNoActiveSession ErrorCode = "session_not_active"
	ErrSessionMismatch ErrorCode = "session_mismatch"

	// Persistence errors
	ErrPersistence ErrorCode = "persistence_failed"
	ErrNotFound    ErrorCode = "not_found"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrTransportOpen:    "Receiver not connected",
	ErrTransportRuntime: "Receiver connection lost",
	ErrSessionActive:    "A flight is already in progress",
	ErrNoActiveSession:  "No flight in progress",
	ErrSessionMismatch:  "Flight is not the active flight",
	ErrPersistence:      "Failed to store flight data",
	ErrNotFound:         "Not found",
	ErrTimeout:          "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
