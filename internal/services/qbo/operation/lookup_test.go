package operation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/qbo-mcp/internal/platform/errors"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

func chartOfAccountsResponse() map[string]any {
	return map[string]any{"QueryResponse": map[string]any{"Account": []any{
		map[string]any{"Id": "1", "Name": "Travel", "AccountType": "Expense", "Active": true, "FullyQualifiedName": "Travel"},
		map[string]any{"Id": "2", "Name": "checking", "AccountType": "Bank", "Active": true},
		map[string]any{"Id": "3", "Name": "Amex", "AccountType": "Credit Card", "Active": true},
		map[string]any{"Id": "4", "Name": "Old Meals", "AccountType": "Expense", "Active": false},
		map[string]any{"Id": "5", "Name": "Materials", "AccountType": "Cost of Goods Sold", "Active": true},
		map[string]any{"Id": "6", "Name": "Equity", "AccountType": "Equity", "Active": true},
	}}}
}

func TestListAccountsByKind(t *testing.T) {
	h := newHarness(t)
	h.api.query = func(q criteria.Query) (map[string]any, error) {
		if q.Entity != "Account" || !q.FetchAll {
			t.Errorf("query = %+v, want fetch-all Account", q)
		}
		return chartOfAccountsResponse(), nil
	}
	ctx := context.Background()

	tests := []struct {
		filter AccountFilter
		want   []string
	}{
		{filter: AccountFilter{Kind: "expense"}, want: []string{"Materials", "Travel"}},
		{filter: AccountFilter{Kind: "payment_accounts"}, want: []string{"Amex", "checking"}},
		{filter: AccountFilter{}, want: []string{"Amex", "checking", "Equity", "Materials", "Travel"}},
		{filter: AccountFilter{Kind: "expense", IncludeInactive: true}, want: []string{"Materials", "Old Meals", "Travel"}},
		{filter: AccountFilter{Search: "TRAV"}, want: []string{"Travel"}},
	}
	for _, tt := range tests {
		env := h.exec.ListAccounts(ctx, tt.filter)
		if env.IsError {
			t.Fatalf("ListAccounts(%+v): %s", tt.filter, *env.Error)
		}
		var names []string
		for _, account := range env.Result {
			names = append(names, account.Name)
		}
		if strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Fatalf("ListAccounts(%+v) = %v, want %v", tt.filter, names, tt.want)
		}
	}
	if calls := h.api.count("query"); calls != 1 {
		t.Fatalf("query calls = %d, want 1 with cache", calls)
	}
}

func TestListAccountsCacheExpiresAndRefreshes(t *testing.T) {
	h := newHarness(t)
	h.api.query = func(criteria.Query) (map[string]any, error) { return chartOfAccountsResponse(), nil }
	ctx := context.Background()

	h.exec.ListAccounts(ctx, AccountFilter{})
	h.clock.Advance(DefaultAccountCacheTTL + time.Second)
	h.exec.ListAccounts(ctx, AccountFilter{})
	h.exec.ListAccounts(ctx, AccountFilter{Refresh: true})
	if calls := h.api.count("query"); calls != 3 {
		t.Fatalf("query calls = %d, want 3", calls)
	}
}

func TestListAccountsConcurrentMissesShareFetch(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.api.query = func(criteria.Query) (map[string]any, error) {
		<-release
		return chartOfAccountsResponse(), nil
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.exec.ListAccounts(context.Background(), AccountFilter{})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls := h.api.count("query"); calls < 1 || calls > 8 {
		t.Fatalf("query calls = %d", calls)
	}
	if env := h.exec.ListAccounts(context.Background(), AccountFilter{}); len(env.Result) != 5 {
		t.Fatalf("cached accounts = %d, want 5", len(env.Result))
	}
}

func vendorRows(names ...string) map[string]any {
	rows := make([]any, 0, len(names))
	for i, name := range names {
		rows = append(rows, map[string]any{"Id": string(rune('1' + i)), "DisplayName": name, "Active": true})
	}
	return map[string]any{"QueryResponse": map[string]any{"Vendor": rows}}
}

func TestResolveVendorByName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		rows    []string
		wantID  string
		wantErr apperrors.Code
	}{
		{name: "exact among several", input: "acme", rows: []string{"Acme", "Acme Supplies"}, wantID: "1"},
		{name: "single fuzzy", input: "Sup", rows: []string{"Acme Supplies"}, wantID: "1"},
		{name: "ambiguous", input: "Ac", rows: []string{"Acme", "Acme Supplies"}, wantErr: apperrors.CodeAmbiguousVendor},
		{name: "none", input: "Zed", wantErr: apperrors.CodeVendorNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.api.query = func(criteria.Query) (map[string]any, error) { return vendorRows(tt.rows...), nil }
			env := h.exec.ResolveVendor(context.Background(), VendorQuery{Name: tt.input})
			if tt.wantErr != "" {
				assertFailure(t, env, tt.wantErr)
				return
			}
			if env.IsError || env.Result == nil || env.Result.ID != tt.wantID {
				t.Fatalf("env = %+v, want vendor %s", env, tt.wantID)
			}
		})
	}
}

func TestResolveVendorQuery(t *testing.T) {
	h := newHarness(t)
	h.exec.ResolveVendor(context.Background(), VendorQuery{Name: "O'Brien"})
	want := `SELECT * FROM Vendor WHERE Active = true AND DisplayName LIKE '%O\'Brien%' MAXRESULTS 10`
	if h.api.queries[0] != want {
		t.Fatalf("query = %q, want %q", h.api.queries[0], want)
	}
}

func TestResolveVendorByID(t *testing.T) {
	h := newHarness(t)
	h.api.read = func(entity upstream.Entity, id string) (map[string]any, error) {
		if id == "404" {
			return nil, &upstream.HTTPError{Status: 400, Faults: []upstream.Fault{{Message: "Object Not Found", Code: "610"}}}
		}
		return map[string]any{"Id": id, "DisplayName": "Acme", "CompanyName": "Acme Inc"}, nil
	}
	ctx := context.Background()

	env := h.exec.ResolveVendor(ctx, VendorQuery{ID: "5", Name: "ignored"})
	if env.IsError || env.Result.DisplayName != "Acme" || !env.Result.Active {
		t.Fatalf("env = %+v", env)
	}
	assertFailure(t, h.exec.ResolveVendor(ctx, VendorQuery{ID: "404"}), apperrors.CodeVendorNotFound)
	if h.api.count("query") != 0 {
		t.Fatal("id lookups must not search by name")
	}
}
