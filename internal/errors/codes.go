// Package errors provides the structured error type used across kbsearch.
//
// Codes follow ERR_XXX_DESCRIPTION where the hundreds digit selects the
// category:
//   - 1XX: configuration
//   - 2XX: corpus and index I/O
//   - 3XX: network and remote services
//   - 4XX: caller input
//   - 5XX: internal
package errors

// Category classifies an error for presentation and handling.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity describes how a caller should react to an error.
type Severity string

const (
	// SeverityFatal aborts the current process phase (startup, index build).
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the current operation.
	SeverityError Severity = "ERROR"
	// SeverityWarning marks a degraded but recoverable condition.
	SeverityWarning Severity = "WARNING"
)

const (
	// Config errors (100-199)
	ErrCodeConfigNotFound    = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "ERR_102_CONFIG_INVALID"
	ErrCodeVectorUnavailable = "ERR_103_VECTOR_UNAVAILABLE"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"
	ErrCodeCorpusRead   = "ERR_206_CORPUS_READ"
	ErrCodeIndexBuild   = "ERR_207_INDEX_BUILD"
	ErrCodeIndexLocked  = "ERR_208_INDEX_LOCKED"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeEmbedderRejected   = "ERR_303_EMBEDDER_REJECTED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidMode       = "ERR_407_INVALID_MODE"
	ErrCodeInvalidLimit      = "ERR_408_INVALID_LIMIT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
)

func categoryFromCode(code string) Category {
	// "ERR_" prefix plus at least one digit
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeConfigInvalid, ErrCodeVectorUnavailable:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable:
		return true
	default:
		return false
	}
}
