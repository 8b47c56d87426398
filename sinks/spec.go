package sinks

import (
	"fmt"
	"strings"
)

const (
	StreamVendorInvoiceHeaders = "VendorInvoiceHeaders"

	vendorsEndpoint            = "/VendorsV3"
	invoiceLinesEndpoint       = "VendorInvoiceLines"
	invoiceAttachmentsEndpoint = "VendorInvoiceDocumentAttachments"
)

// EndpointSpec describes how one entity family maps onto the remote API:
// where it lives, how it is keyed, and which fields the server manages.
type EndpointSpec struct {
	Name                string
	LinesEndpoint       string
	AttachmentsEndpoint string
	// PrimaryKeys are the composite key fields, tenant partition first.
	// The last entry is the record identifier assigned by the server.
	PrimaryKeys []string
	// ExternalRef is the natural lookup key used for the create-vs-update
	// decision when no remote id is carried.
	ExternalRef string
	// PatchBlocklist fields are stripped before a PATCH; the server owns
	// them.
	PatchBlocklist []string
}

func (s EndpointSpec) Endpoint() string {
	return "/" + strings.TrimSpace(s.Name)
}

// PrimaryKey returns the server-assigned identifier field.
func (s EndpointSpec) PrimaryKey() string {
	if len(s.PrimaryKeys) == 0 {
		return ""
	}
	return s.PrimaryKeys[len(s.PrimaryKeys)-1]
}

// KeyPredicate builds the OData key-equality expression for the composite
// key, e.g. dataAreaId='us01',HeaderReference='INV-1'.
func (s EndpointSpec) KeyPredicate(values map[string]any) (string, error) {
	if len(s.PrimaryKeys) == 0 {
		return "", fmt.Errorf("sinks: %s has no primary keys configured", s.Name)
	}
	parts := make([]string, 0, len(s.PrimaryKeys))
	for _, key := range s.PrimaryKeys {
		value := strings.TrimSpace(fmt.Sprint(values[key]))
		if value == "" || value == "<nil>" {
			return "", fmt.Errorf("sinks: missing key field %q for %s update", key, s.Name)
		}
		parts = append(parts, fmt.Sprintf("%s='%s'", key, escapeODataLiteral(value)))
	}
	return strings.Join(parts, ","), nil
}

// DefaultSpecs returns the entity families with dedicated handling.
func DefaultSpecs() map[string]EndpointSpec {
	return map[string]EndpointSpec{
		StreamVendorInvoiceHeaders: {
			Name:                StreamVendorInvoiceHeaders,
			LinesEndpoint:       invoiceLinesEndpoint,
			AttachmentsEndpoint: invoiceAttachmentsEndpoint,
			PrimaryKeys:         []string{"dataAreaId", "HeaderReference"},
			ExternalRef:         "InvoiceNumber",
			PatchBlocklist:      []string{"HeaderReference", "dataAreaId"},
		},
	}
}

func escapeODataLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
