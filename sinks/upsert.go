package sinks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-dynsync/core"
	"github.com/goliatone/go-dynsync/resolve"
)

// writePlan is the resolved create-vs-update decision for one record.
type writePlan struct {
	Method   string
	Endpoint string
	// Existing holds the looked-up entity when the update path came from a
	// natural-key match.
	Existing map[string]any
}

func (p writePlan) IsUpdate() bool {
	return p.Method == http.MethodPatch
}

// planWrite decides create vs update. An explicit remote id forces the
// update path without a lookup; otherwise the configured natural key is
// resolved remotely, optionally scoped by the tenant partition field.
func planWrite(
	ctx context.Context,
	lookup resolve.Lookuper,
	spec EndpointSpec,
	record core.Record,
) (writePlan, error) {
	if remoteID := record.RemoteID(); remoteID != "" {
		keyValues := cloneData(record.Data)
		keyValues[spec.PrimaryKey()] = remoteID
		predicate, err := spec.KeyPredicate(keyValues)
		if err != nil {
			return writePlan{}, err
		}
		return writePlan{
			Method:   http.MethodPatch,
			Endpoint: fmt.Sprintf("%s(%s)", spec.Endpoint(), predicate),
		}, nil
	}

	externalRef := strings.TrimSpace(spec.ExternalRef)
	if externalRef == "" || lookup == nil {
		return writePlan{Method: http.MethodPost, Endpoint: spec.Endpoint()}, nil
	}
	refValue := strings.TrimSpace(fmt.Sprint(record.Data[externalRef]))
	if refValue == "" || refValue == "<nil>" {
		return writePlan{Method: http.MethodPost, Endpoint: spec.Endpoint()}, nil
	}

	filter := fmt.Sprintf("%s eq '%s'", externalRef, escapeODataLiteral(refValue))
	if area := strings.TrimSpace(fmt.Sprint(record.Data["dataAreaId"])); area != "" && area != "<nil>" {
		filter += fmt.Sprintf(" and dataAreaId eq '%s'", escapeODataLiteral(area))
	}
	existing, err := lookup.Lookup(ctx, spec.Endpoint(), map[string]string{"$filter": filter})
	if err != nil {
		return writePlan{}, err
	}
	if existing == nil {
		return writePlan{Method: http.MethodPost, Endpoint: spec.Endpoint()}, nil
	}

	predicate, err := spec.KeyPredicate(existing)
	if err != nil {
		return writePlan{}, err
	}
	return writePlan{
		Method:   http.MethodPatch,
		Endpoint: fmt.Sprintf("%s(%s)", spec.Endpoint(), predicate),
		Existing: existing,
	}, nil
}

// writePayload strips correlation-only and server-managed fields. Creates
// never send the primary key; updates additionally drop the block-list.
func writePayload(spec EndpointSpec, record core.Record, update bool) map[string]any {
	payload := cloneData(record.Data)
	delete(payload, "id")
	delete(payload, "externalId")
	if update {
		for _, field := range spec.PrimaryKeys {
			delete(payload, field)
		}
		for _, field := range spec.PatchBlocklist {
			delete(payload, field)
		}
		return payload
	}
	if primaryKey := spec.PrimaryKey(); primaryKey != "" {
		delete(payload, primaryKey)
	}
	return payload
}

// crossCompanyQuery scopes a write beyond the caller's default company.
func crossCompanyQuery() map[string]string {
	return map[string]string{"cross-company": "true"}
}

func cloneData(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

func stringValue(data map[string]any, key string) string {
	if len(data) == 0 {
		return ""
	}
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "<nil>" {
		return ""
	}
	return text
}
