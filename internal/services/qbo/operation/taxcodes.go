package operation

import (
	"context"
	"sort"
	"strings"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

// TaxCode is a sales tax code summary.
type TaxCode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	Taxable     *bool  `json:"taxable,omitempty"`
	TaxGroup    *bool  `json:"taxGroup,omitempty"`
}

// TaxCodeFilter selects tax codes.
type TaxCodeFilter struct {
	// Search matches name or description, ignoring case.
	Search          string
	IncludeInactive bool
}

// ListTaxCodes returns tax codes sorted by name.
func (e *Executor) ListTaxCodes(ctx context.Context, filter TaxCodeFilter) Envelope[[]TaxCode] {
	ctx, finish := e.span(ctx, "list_tax_codes", "TaxCode")
	result, err := e.listTaxCodes(ctx, filter)
	finish(err)
	if err != nil {
		return Failure[[]TaxCode](err)
	}
	return Success(result)
}

func (e *Executor) listTaxCodes(ctx context.Context, filter TaxCodeFilter) ([]TaxCode, error) {
	query := criteria.Query{Entity: "TaxCode", FetchAll: true}
	if !filter.IncludeInactive {
		query.Conditions = []string{"Active = true"}
	}
	raw, err := call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
		return api.Query(ctx, query)
	})
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	rows := criteria.ExtractRows(raw, "TaxCode")
	out := make([]TaxCode, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.(map[string]any)
		if !ok {
			continue
		}
		code := taxCodeFromRow(fields)
		if search != "" &&
			!strings.Contains(strings.ToLower(code.Name), search) &&
			!strings.Contains(strings.ToLower(code.Description), search) {
			continue
		}
		out = append(out, code)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func taxCodeFromRow(row map[string]any) TaxCode {
	text := func(key string) string {
		s, _ := row[key].(string)
		return s
	}
	flag := func(key string) *bool {
		b, ok := row[key].(bool)
		if !ok {
			return nil
		}
		return &b
	}
	active, ok := row["Active"].(bool)
	if !ok {
		active = true
	}
	return TaxCode{
		ID:          stringID(row["Id"]),
		Name:        text("Name"),
		Description: text("Description"),
		Active:      active,
		Taxable:     flag("Taxable"),
		TaxGroup:    flag("TaxGroup"),
	}
}
