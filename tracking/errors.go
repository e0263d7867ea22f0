package tracking

import (
	"farmtrace/anchoring"

	apperrors "github.com/goliatone/go-errors"
)

const ErrCodeBacklogFull = "TRACKING_BACKLOG_FULL"

var (
	// ErrRejected wraps every refusal caused by the caller's input, including illegal transitions.
	// It shares the anchoring validation code so callers classify both layers the same way.
	ErrRejected = apperrors.New("activity rejected", apperrors.CategoryValidation).
			WithTextCode(anchoring.ErrCodeValidation)
	// ErrBacklogFull means the anchoring queue cannot accept more requests right now.
	ErrBacklogFull = apperrors.New("anchoring backlog full", apperrors.CategoryExternal).
			WithTextCode(ErrCodeBacklogFull)
)

func reject(message string, source error, metadata map[string]any) *apperrors.Error {
	err := ErrRejected.Clone()
	err.Message = message
	if source != nil {
		err.Source = source
	}
	return err.WithMetadata(metadata)
}
