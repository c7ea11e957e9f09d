package history

import "codeberg.org/mutker/specsweep/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("history_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("history_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("history_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("history_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("history_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitHistory
	ErrStorageClose = errors.ErrCloseHistory
	ErrRecord       = errors.ErrRecordHistory
	ErrQuery        = errors.ErrQueryHistory
	ErrNotFound     = errors.ErrSweepNotFound

	// Input Errors
	ErrInvalidDataset = errors.ErrorCode("history_invalid_dataset")
)
