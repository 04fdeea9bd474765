// Package errors provides structured error handling for pgwsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and pipeline composition errors
//   - 2XX: Storage errors (documents, indexes, artifacts)
//   - 3XX: Backend errors (stores and model servers that can't be reached)
//   - 4XX: Validation errors
//   - 5XX: Internal errors and degraded results
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration or pipeline composition errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates document store and index errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates an unreachable or failing backend.
	CategoryBackend Category = "BACKEND"
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound        = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid         = "ERR_102_CONFIG_INVALID"
	ErrCodeNoSearchers           = "ERR_110_NO_SEARCHERS"
	ErrCodeRedundantFusionMethod = "ERR_111_REDUNDANT_FUSION_METHOD"
	ErrCodeNoFusionMethod        = "ERR_112_NO_FUSION_METHOD"

	// Storage errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission   = "ERR_202_FILE_PERMISSION"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexUnavailable = "ERR_207_INDEX_UNAVAILABLE"
	ErrCodeDocumentNotFound = "ERR_208_DOCUMENT_NOT_FOUND"

	// Backend errors (300-399)
	ErrCodeBackendUnavailable = "ERR_301_BACKEND_UNAVAILABLE"
	ErrCodeBackendTimeout     = "ERR_302_BACKEND_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery      = "ERR_403_INVALID_QUERY"
	ErrCodeModelNotFound     = "ERR_407_MODEL_NOT_FOUND"
	ErrCodeEmptyFusionInput  = "ERR_410_EMPTY_FUSION_INPUT"
	ErrCodeUndefinedMetric   = "ERR_411_UNDEFINED_METRIC"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
	ErrCodePartialRerank   = "ERR_510_PARTIAL_RERANK"
	ErrCodeRerankFailed    = "ERR_511_RERANK_FAILED"
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
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodePartialRerank:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendUnavailable, ErrCodeBackendTimeout:
		return true
	default:
		return false
	}
}
