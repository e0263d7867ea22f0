package anchoring

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeValidation = "VALIDATION_FAILED"
	ErrCodeTransport  = "LEDGER_TRANSPORT"
	ErrCodeAmbiguous  = "CONFIRMATION_AMBIGUOUS"
	ErrCodeReadFailed = "LEDGER_READ_FAILED"
)

var (
	// ErrValidation rejects input before anything is submitted.
	ErrValidation = apperrors.New("invalid activity", apperrors.CategoryValidation).
			WithTextCode(ErrCodeValidation)
	// ErrTransport means the write was refused or never reached the ledger.
	ErrTransport = apperrors.New("ledger write failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeTransport)
	// ErrAmbiguous means the write was submitted but its confirmation was not observed.
	ErrAmbiguous = apperrors.New("ledger write unconfirmed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeAmbiguous)
	ErrReadFailed = apperrors.New("ledger read failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeReadFailed)
)

func newError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of an anchoring error, or "" for foreign errors.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func IsValidation(err error) bool { return ErrorCode(err) == ErrCodeValidation }
func IsTransport(err error) bool  { return ErrorCode(err) == ErrCodeTransport }
func IsAmbiguous(err error) bool  { return ErrorCode(err) == ErrCodeAmbiguous }
