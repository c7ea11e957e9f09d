package errors

const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"
	ErrInvalidChannel  ErrorCode = "invalid_channel"
	ErrInvalidRange    ErrorCode = "invalid_range"

	// Instrument errors
	ErrInstrumentOpen  ErrorCode = "instrument_open_failed"
	ErrInstrumentClose ErrorCode = "instrument_close_failed"
	ErrStepFailed      ErrorCode = "step_failed"
	ErrSampleFailed    ErrorCode = "sample_failed"

	// Sweep errors
	ErrSweepRunning ErrorCode = "sweep_running"
	ErrNoDataset    ErrorCode = "no_dataset"

	// Export errors
	ErrExportFailed      ErrorCode = "export_failed"
	ErrUnsupportedFormat ErrorCode = "unsupported_export_format"

	// History errors
	ErrInitHistory   ErrorCode = "init_history_failed"
	ErrRecordHistory ErrorCode = "record_history_failed"
	ErrQueryHistory  ErrorCode = "query_history_failed"
	ErrCloseHistory  ErrorCode = "close_history_failed"
	ErrSweepNotFound ErrorCode = "sweep_not_found"

	// Recipe errors
	ErrReadRecipe ErrorCode = "read_recipe_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrUnavailable:       "Service unavailable",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInvalidConfig:     "Invalid configuration",
	ErrReadConfig:        "Failed to read config file",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInvalidChannel:    "Invalid oscilloscope channel",
	ErrInvalidRange:      "Invalid wavelength range",
	ErrInstrumentOpen:    "Failed to open instrument",
	ErrInstrumentClose:   "Failed to close instrument",
	ErrStepFailed:        "Monochromator step failed",
	ErrSampleFailed:      "Oscilloscope sample failed",
	ErrSweepRunning:      "A sweep is already running",
	ErrNoDataset:         "No finished dataset available",
	ErrExportFailed:      "Failed to export dataset",
	ErrUnsupportedFormat: "Unsupported export format",
	ErrInitHistory:       "Failed to initialize sweep history",
	ErrRecordHistory:     "Failed to record sweep",
	ErrQueryHistory:      "Failed to query sweep history",
	ErrCloseHistory:      "Failed to close sweep history",
	ErrSweepNotFound:     "Sweep not found",
	ErrReadRecipe:        "Failed to read recipe",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
