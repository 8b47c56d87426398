package sinks

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dynsync/core"
)

func counterpartNotFoundError(vendorName string) error {
	return goerrors.New(
		fmt.Sprintf("sinks: vendor %q does not exist in the remote system, skipping record", strings.TrimSpace(vendorName)),
		goerrors.CategoryNotFound,
	).
		WithCode(http.StatusNotFound).
		WithTextCode(core.SyncErrorCounterpartMissing).
		WithMetadata(map[string]any{
			"vendor_name": strings.TrimSpace(vendorName),
		})
}

func counterpartIncompleteError(vendorName string, missingField string) error {
	return goerrors.New(
		fmt.Sprintf(
			"sinks: vendor %q resolved without %s, skipping record",
			strings.TrimSpace(vendorName),
			strings.TrimSpace(missingField),
		),
		goerrors.CategoryNotFound,
	).
		WithCode(http.StatusNotFound).
		WithTextCode(core.SyncErrorCounterpartMissing).
		WithMetadata(map[string]any{
			"vendor_name":   strings.TrimSpace(vendorName),
			"missing_field": strings.TrimSpace(missingField),
		})
}

// compositeWriteError carries both the child failure and the rollback
// outcome of the freshly created parent.
func compositeWriteError(headerID string, lineErr error, rollbackErr error) error {
	metadata := map[string]any{
		"header_id":   strings.TrimSpace(headerID),
		"rolled_back": rollbackErr == nil,
	}
	message := fmt.Sprintf("sinks: line write failed, created header %q rolled back", headerID)
	if rollbackErr != nil {
		message = fmt.Sprintf("sinks: line write failed and rollback of header %q also failed", headerID)
		metadata["rollback_error"] = rollbackErr.Error()
	}
	return goerrors.Wrap(lineErr, goerrors.CategoryOperation, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.SyncErrorCompositeWrite).
		WithMetadata(metadata)
}
