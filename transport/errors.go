package transport

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dynsync/core"
)

func retriableError(status int, body []byte) error {
	return goerrors.New(
		fmt.Sprintf("transport: retriable response status %d", status),
		goerrors.CategoryExternal,
	).
		WithCode(status).
		WithTextCode(core.SyncErrorRetriableResponse).
		WithMetadata(map[string]any{
			"status_code": status,
			"body":        strings.TrimSpace(string(body)),
		})
}

func fatalError(status int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = fmt.Sprintf("transport: request failed with status %d", status)
	}
	return goerrors.New(message, goerrors.CategoryOperation).
		WithCode(status).
		WithTextCode(core.SyncErrorFatalResponse).
		WithMetadata(map[string]any{
			"status_code": status,
		})
}

func connectionError(source error, method string, url string) error {
	return goerrors.Wrap(source, goerrors.CategoryExternal, "transport: execute http request").
		WithCode(http.StatusBadGateway).
		WithTextCode(core.SyncErrorRetriableResponse).
		WithMetadata(map[string]any{
			"method": method,
			"url":    url,
		})
}

// IsRetriable reports whether err came from a 429/5xx response or a
// connection level failure.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == core.SyncErrorRetriableResponse
}
