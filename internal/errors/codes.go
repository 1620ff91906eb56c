// Package errors provides structured error handling for wsb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, archive, shard)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, archive and shard I/O errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"
	ErrCodeBookNotFound     = "ERR_104_BOOK_NOT_FOUND"

	// IO errors (200-299)
	ErrCodeFileNotFound          = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission        = "ERR_202_FILE_PERMISSION"
	ErrCodeArchiveCorrupt        = "ERR_204_ARCHIVE_CORRUPT"
	ErrCodeCorruptShard          = "ERR_205_CORRUPT_SHARD"
	ErrCodeShardWrite            = "ERR_206_SHARD_WRITE"
	ErrCodeBackupFailed          = "ERR_207_BACKUP_FAILED"
	ErrCodeCollectionUnreachable = "ERR_210_COLLECTION_UNREACHABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidDataURL = "ERR_402_INVALID_DATA_URL"
	ErrCodeInvalidPath    = "ERR_406_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_500_INTERNAL"
	ErrCodeLockTimeout      = "ERR_501_LOCK_TIMEOUT"
	ErrCodeExtractionFailed = "ERR_504_EXTRACTION_FAILED"
	ErrCodeIndexFailed      = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptShard, ErrCodeLockTimeout, ErrCodeCollectionUnreachable, ErrCodeShardWrite:
		return SeverityFatal
	case ErrCodeArchiveCorrupt, ErrCodeInvalidDataURL, ErrCodeBackupFailed:
		return SeverityWarning
	}
	return SeverityError
}
