package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SyncErrorBadInput           = "SYNC_BAD_INPUT"
	SyncErrorAuthFailed         = "SYNC_AUTH_FAILED"
	SyncErrorRetriableResponse  = "SYNC_RETRIABLE_RESPONSE"
	SyncErrorFatalResponse      = "SYNC_FATAL_RESPONSE"
	SyncErrorCounterpartMissing = "SYNC_COUNTERPART_MISSING"
	SyncErrorCompositeWrite     = "SYNC_COMPOSITE_WRITE_FAILED"
	SyncErrorInternal           = "SYNC_INTERNAL_ERROR"
)

// MapError normalizes any error into the sync error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSyncErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "token endpoint"):
		return newSyncError(err.Error(), goerrors.CategoryAuth, SyncErrorAuthFailed)
	case strings.Contains(msg, "vendor") && strings.Contains(msg, "doesn't exist"):
		return newSyncError(err.Error(), goerrors.CategoryNotFound, SyncErrorCounterpartMissing)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newSyncError(err.Error(), goerrors.CategoryRateLimit, SyncErrorRetriableResponse)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newSyncError(err.Error(), goerrors.CategoryBadInput, SyncErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSyncErrorEnvelope(mapped)
}

// IsAuthError reports whether err carries the authentication text code; such
// errors abort the whole run.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == SyncErrorAuthFailed || richErr.Category == goerrors.CategoryAuth
}

func newSyncError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSyncErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureSyncErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = syncHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSyncTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSyncTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SyncErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SyncErrorAuthFailed
	case goerrors.CategoryNotFound:
		return SyncErrorCounterpartMissing
	case goerrors.CategoryRateLimit, goerrors.CategoryExternal:
		return SyncErrorRetriableResponse
	case goerrors.CategoryOperation:
		return SyncErrorFatalResponse
	default:
		return SyncErrorInternal
	}
}

func syncHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
