package sinks

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/resolve"
	"github.com/goliatone/go-dynsync/transport"
	glog "github.com/goliatone/go-logger/glog"
)

// InvoiceSink writes vendor invoice headers with their line and attachment
// collections. The header is written first, lines second; a line failure
// deletes the header it belongs to. Attachment failures leave the header and
// lines in place.
type InvoiceSink struct {
	spec      EndpointSpec
	executor  Executor
	lookup    resolve.Lookuper
	logger    core.Logger
	inputPath string
}

// NewInvoiceSink builds the composite sink for the invoice header stream.
func NewInvoiceSink(spec EndpointSpec, executor Executor, lookup resolve.Lookuper, inputPath string, logger core.Logger) (*InvoiceSink, error) {
	if executor == nil {
		return nil, fmt.Errorf("sinks: executor is required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("sinks: lookup is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &InvoiceSink{
		spec:      spec,
		executor:  executor,
		lookup:    lookup,
		logger:    logger,
		inputPath: strings.TrimSpace(inputPath),
	}, nil
}

func (s *InvoiceSink) Preprocess(record core.Record) core.Record {
	return cleanRecord(record)
}

func (s *InvoiceSink) Upsert(ctx context.Context, record core.Record) (core.UpsertResult, error) {
	if s == nil || s.executor == nil {
		return core.UpsertResult{}, fmt.Errorf("sinks: invoice sink is not initialized")
	}

	record = record.Clone()
	lines := record.PopChildren(s.spec.LinesEndpoint)
	attachments := record.PopChildren(s.spec.AttachmentsEndpoint)

	if err := s.resolveCounterpart(ctx, record); err != nil {
		return core.UpsertResult{}, err
	}

	plan, err := planWrite(ctx, s.lookup, s.spec, record)
	if err != nil {
		return core.UpsertResult{}, err
	}

	req := transport.Request{
		Method:   plan.Method,
		Endpoint: plan.Endpoint,
		Body:     writePayload(s.spec, record, plan.IsUpdate()),
	}
	if plan.IsUpdate() {
		req.Query = crossCompanyQuery()
	}

	result, err := s.executor.Execute(ctx, req)
	if err != nil {
		return core.UpsertResult{}, err
	}
	if result.Outcome == transport.OutcomeNotFoundOnUpdate {
		s.logger.Warn("skipping invoice update, header no longer present",
			"stream", record.Stream,
			"endpoint", plan.Endpoint,
		)
		return core.UpsertResult{
			Success: false,
			Extras:  map[string]any{"existing": true},
		}, nil
	}

	if plan.IsUpdate() {
		// A header-only update does not touch lines already on the
		// remote side.
		id := record.RemoteID()
		if id == "" {
			id = stringValue(plan.Existing, s.spec.PrimaryKey())
		}
		return core.UpsertResult{
			ID:      id,
			Success: true,
			Extras:  map[string]any{"is_updated": true},
		}, nil
	}

	headerID := s.createdHeaderID(result, record)
	parentKey, err := s.parentKey(record, headerID)
	if err != nil {
		return core.UpsertResult{}, err
	}

	if err := s.postLines(ctx, parentKey, lines); err != nil {
		rollbackErr := s.deleteHeader(ctx, parentKey)
		return core.UpsertResult{}, compositeWriteError(headerID, err, rollbackErr)
	}

	s.postAttachments(ctx, parentKey, headerID, attachments)

	return core.UpsertResult{ID: headerID, Success: true, Extras: map[string]any{}}, nil
}

// resolveCounterpart requires the named vendor to exist remotely before any
// write, and stamps its account onto the invoice.
func (s *InvoiceSink) resolveCounterpart(ctx context.Context, record core.Record) error {
	vendorName := stringValue(record.Data, "VendorName")
	if vendorName == "" {
		return nil
	}

	filter := fmt.Sprintf("VendorOrganizationName eq '%s'", escapeODataLiteral(vendorName))
	if area := stringValue(record.Data, "dataAreaId"); area != "" {
		filter += fmt.Sprintf(" and dataAreaId eq '%s'", escapeODataLiteral(area))
	}
	vendor, err := s.lookup.Lookup(ctx, vendorsEndpoint, map[string]string{"$filter": filter})
	if err != nil {
		return err
	}
	if vendor == nil {
		return counterpartNotFoundError(vendorName)
	}
	account := stringValue(vendor, "VendorAccountNumber")
	if account == "" {
		return counterpartIncompleteError(vendorName, "VendorAccountNumber")
	}

	record.Data["InvoiceAccount"] = account
	delete(record.Data, "VendorName")
	return nil
}

func (s *InvoiceSink) createdHeaderID(result transport.Result, record core.Record) string {
	if body, err := result.JSON(); err == nil {
		if id := stringValue(body, s.spec.PrimaryKey()); id != "" {
			return id
		}
	}
	return stringValue(record.Data, s.spec.PrimaryKey())
}

// parentKey carries the composite header key attached to every child write.
func (s *InvoiceSink) parentKey(record core.Record, headerID string) (map[string]any, error) {
	if headerID == "" {
		return nil, fmt.Errorf("sinks: created invoice header has no %s", s.spec.PrimaryKey())
	}
	key := map[string]any{s.spec.PrimaryKey(): headerID}
	for _, field := range s.spec.PrimaryKeys {
		if field == s.spec.PrimaryKey() {
			continue
		}
		if value := stringValue(record.Data, field); value != "" {
			key[field] = value
		}
	}
	return key, nil
}

func (s *InvoiceSink) postLines(ctx context.Context, parentKey map[string]any, lines []map[string]any) error {
	for i, line := range lines {
		body := cloneData(line)
		for field, value := range parentKey {
			body[field] = value
		}
		_, err := s.executor.Execute(ctx, transport.Request{
			Method:   http.MethodPost,
			Endpoint: "/" + s.spec.LinesEndpoint,
			Body:     body,
		})
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *InvoiceSink) deleteHeader(ctx context.Context, parentKey map[string]any) error {
	predicate, err := s.spec.KeyPredicate(parentKey)
	if err != nil {
		return err
	}
	_, err = s.executor.Execute(ctx, transport.Request{
		Method:   http.MethodDelete,
		Endpoint: fmt.Sprintf("%s(%s)", s.spec.Endpoint(), predicate),
		Query:    crossCompanyQuery(),
	})
	return err
}

// postAttachments uploads document payloads for a created header. Failures
// are logged and absorbed: a bad scan never takes the invoice down with it.
func (s *InvoiceSink) postAttachments(ctx context.Context, parentKey map[string]any, headerID string, attachments []map[string]any) {
	for _, attachment := range attachments {
		if err := s.postAttachment(ctx, parentKey, attachment); err != nil {
			s.logger.Error("attachment upload failed",
				"header_id", headerID,
				"name", stringValue(attachment, "Name"),
				"error", err,
			)
		}
	}
}

func (s *InvoiceSink) postAttachment(ctx context.Context, parentKey map[string]any, attachment map[string]any) error {
	name := stringValue(attachment, "Name")
	if name == "" {
		return fmt.Errorf("attachment has no Name")
	}

	contents, err := s.readAttachmentFile(stringValue(attachment, "id"), name)
	if err != nil {
		return err
	}

	body := cloneData(attachment)
	delete(body, "id")
	body["FileContents"] = base64.StdEncoding.EncodeToString(contents)
	for field, value := range parentKey {
		body[field] = value
	}

	_, err = s.executor.Execute(ctx, transport.Request{
		Method:         http.MethodPost,
		Endpoint:       "/" + s.spec.AttachmentsEndpoint,
		Body:           body,
		HasFileContent: true,
	})
	return err
}

// readAttachmentFile looks for the staged file under the input path, first
// with the record id prefix, then by bare name.
func (s *InvoiceSink) readAttachmentFile(id, name string) ([]byte, error) {
	candidates := []string{}
	if id != "" {
		candidates = append(candidates, filepath.Join(s.inputPath, id+"_"+name))
	}
	candidates = append(candidates, filepath.Join(s.inputPath, name))

	var lastErr error
	for _, path := range candidates {
		contents, err := os.ReadFile(path)
		if err == nil {
			return contents, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("sinks: attachment file %q not found under %q: %w", name, s.inputPath, lastErr)
}
