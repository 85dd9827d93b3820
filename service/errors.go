package service

import (
	"errors"
	"fmt"
)

// ErrorKind groups errors by how the pipeline treats them
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindExtraction  ErrorKind = "extraction"
	KindModel       ErrorKind = "model"
	KindParse       ErrorKind = "parse"
	KindPersistence ErrorKind = "persistence"
)

// AppError is the error type surfaced by the analysis services
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on the error code so sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

func newError(kind ErrorKind, code, message string, cause error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Validation errors
var (
	ErrEmptyUpload      = &AppError{Kind: KindValidation, Code: "EmptyUpload", Message: "uploaded file is empty"}
	ErrUploadTooLarge   = &AppError{Kind: KindValidation, Code: "UploadTooLarge", Message: "uploaded file exceeds the size limit"}
	ErrUnsupportedType  = &AppError{Kind: KindValidation, Code: "UnsupportedType", Message: "only PDF and DOCX files are allowed"}
	ErrContractNotFound = &AppError{Kind: KindValidation, Code: "ContractNotFound", Message: "contract not found"}
	ErrContractBusy     = &AppError{Kind: KindValidation, Code: "ContractBusy", Message: "contract is still being analyzed"}
)

// Extraction errors
var (
	ErrUnsupportedFormat = &AppError{Kind: KindExtraction, Code: "UnsupportedFormat", Message: "unsupported document format"}
	ErrEmptyFile         = &AppError{Kind: KindExtraction, Code: "EmptyFile", Message: "file contains no data"}
	ErrNoTextExtracted   = &AppError{Kind: KindExtraction, Code: "NoTextExtracted", Message: "no text could be extracted from the document"}
	ErrInvalidFormat     = &AppError{Kind: KindExtraction, Code: "InvalidFormat", Message: "file is not a valid document of its declared type"}
	ErrEmptyDocument     = &AppError{Kind: KindExtraction, Code: "EmptyDocument", Message: "document has no pages or content"}
	ErrCorruptedFile     = &AppError{Kind: KindExtraction, Code: "CorruptedFile", Message: "document appears to be corrupted"}
	ErrPasswordProtected = &AppError{Kind: KindExtraction, Code: "PasswordProtected", Message: "document is password protected"}
	ErrDocumentTooLarge  = &AppError{Kind: KindExtraction, Code: "DocumentTooLarge", Message: "document content exceeds the extraction limit"}
)

// Model errors
var (
	ErrModelAuth          = &AppError{Kind: KindModel, Code: "AuthError", Message: "model API rejected the credentials"}
	ErrRateLimited        = &AppError{Kind: KindModel, Code: "RateLimited", Message: "model API rate limit reached"}
	ErrServiceUnavailable = &AppError{Kind: KindModel, Code: "ServiceUnavailable", Message: "model API unavailable"}
	ErrAllModelsFailed    = &AppError{Kind: KindModel, Code: "AllModelsFailed", Message: "every candidate model failed"}
)

// Parse errors
var (
	ErrUnparsableOutput = &AppError{Kind: KindParse, Code: "ParseError", Message: "model output is not valid JSON"}
	ErrSchemaMismatch   = &AppError{Kind: KindParse, Code: "SchemaValidationFailure", Message: "model output is missing required fields"}
)

// ErrPersistence wraps repository failures
var ErrPersistence = &AppError{Kind: KindPersistence, Code: "PersistenceError", Message: "failed to persist analysis state"}

// wrap returns a copy of a sentinel carrying cause.
func wrap(sentinel *AppError, cause error) *AppError {
	return newError(sentinel.Kind, sentinel.Code, sentinel.Message, cause)
}

// KindOf returns the kind of err, or "" when err is not an AppError.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
