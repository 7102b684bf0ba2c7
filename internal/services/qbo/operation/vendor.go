package operation

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/qbo-mcp/internal/platform/errors"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

const (
	vendorSearchLimit     = 10
	ambiguousMatchesShown = 5
)

// Vendor is a vendor summary.
type Vendor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	CompanyName string `json:"companyName,omitempty"`
	Active      bool   `json:"active"`
}

// VendorQuery identifies a vendor by id or by name. ID wins when both are set.
type VendorQuery struct {
	ID   string
	Name string
}

// ResolveVendor finds exactly one vendor. Names resolve by exact match, then
// by a single partial match; several partial matches are ambiguous.
func (e *Executor) ResolveVendor(ctx context.Context, query VendorQuery) Envelope[*Vendor] {
	ctx, finish := e.span(ctx, "resolve_vendor", "Vendor")
	result, err := e.resolveVendor(ctx, query)
	finish(err)
	if err != nil {
		return Failure[*Vendor](err)
	}
	return Success(result)
}

func (e *Executor) resolveVendor(ctx context.Context, query VendorQuery) (*Vendor, error) {
	id := strings.TrimSpace(query.ID)
	name := strings.TrimSpace(query.Name)
	switch {
	case id != "":
		row, err := e.get(ctx, "Vendor", id)
		if err != nil {
			if Classify(err) == apperrors.CodeEntityNotFound {
				return nil, apperrors.WithMetadata(apperrors.CodeVendorNotFound,
					"vendor not found: "+id, map[string]string{"vendor_id": id})
			}
			return nil, err
		}
		vendor := vendorFromRow(row)
		return &vendor, nil
	case name != "":
		return e.resolveVendorName(ctx, name)
	default:
		return nil, validation("vendor id or name is required")
	}
}

func (e *Executor) resolveVendorName(ctx context.Context, name string) (*Vendor, error) {
	entity, _ := upstream.Lookup("Vendor")
	limit := vendorSearchLimit
	c := criteria.Normalize(criteria.SearchOptions{
		Filters: []criteria.FilterClause{
			{Field: "Active", Value: true, Operator: criteria.OpEqual},
			{Field: "DisplayName", Value: "%" + name + "%", Operator: criteria.OpLike},
		},
		Limit: &limit,
	})
	query, err := criteria.BuildQuery(entity.Name, c)
	if err != nil {
		return nil, validation("%v", err)
	}
	raw, err := call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
		return api.Query(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	var matches []Vendor
	for _, row := range criteria.ExtractRows(raw, entity.Name) {
		if fields, ok := row.(map[string]any); ok {
			matches = append(matches, vendorFromRow(fields))
		}
	}
	if len(matches) == 0 {
		return nil, apperrors.WithMetadata(apperrors.CodeVendorNotFound,
			"vendor not found: "+name, map[string]string{"vendor_name": name})
	}

	var exact []Vendor
	for _, match := range matches {
		if strings.EqualFold(match.DisplayName, name) {
			exact = append(exact, match)
		}
	}
	if len(exact) == 1 {
		return &exact[0], nil
	}
	if len(matches) == 1 {
		return &matches[0], nil
	}

	shown := matches[:min(len(matches), ambiguousMatchesShown)]
	options := make([]string, 0, len(shown))
	for _, match := range shown {
		options = append(options, match.ID+":"+match.DisplayName)
	}
	return nil, apperrors.WithMetadata(apperrors.CodeAmbiguousVendor,
		"multiple vendors match '"+name+"'; specify the vendor id ("+strings.Join(options, ", ")+")",
		map[string]string{"vendor_name": name, "matches": strings.Join(options, ",")},
	)
}

func vendorFromRow(row map[string]any) Vendor {
	displayName, _ := row["DisplayName"].(string)
	companyName, _ := row["CompanyName"].(string)
	active, ok := row["Active"].(bool)
	if !ok {
		active = true
	}
	return Vendor{
		ID:          stringID(row["Id"]),
		DisplayName: displayName,
		CompanyName: companyName,
		Active:      active,
	}
}
