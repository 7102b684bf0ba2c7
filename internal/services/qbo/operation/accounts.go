package operation

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
)

// DefaultAccountCacheTTL bounds how stale the chart of accounts may be.
const DefaultAccountCacheTTL = 15 * time.Minute

// Account kinds accepted by ListAccounts.
const (
	AccountKindAll     = "all"
	AccountKindExpense = "expense"
	AccountKindPayment = "payment"
)

var (
	expenseAccountTypes = []string{"Expense", "Cost of Goods Sold", "Other Expense"}
	paymentAccountTypes = []string{"Bank", "Credit Card"}
)

// Account is the summary of a chart-of-accounts entry.
type Account struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Type               string `json:"type"`
	SubType            string `json:"subtype,omitempty"`
	Classification     string `json:"classification,omitempty"`
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
	Active             bool   `json:"active"`
}

// AccountFilter selects accounts.
type AccountFilter struct {
	// Kind is all, expense or payment.
	Kind string
	// Search matches name or fully qualified name, ignoring case.
	Search          string
	IncludeInactive bool
	// Refresh bypasses the cache.
	Refresh bool
}

type accountCache struct {
	ttl time.Duration

	mu        sync.Mutex
	accounts  []Account
	fetchedAt time.Time
}

func (c *accountCache) get(now time.Time) ([]Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accounts == nil || now.Sub(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.accounts, true
}

func (c *accountCache) set(accounts []Account, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = accounts
	c.fetchedAt = now
}

// ListAccounts returns accounts of one kind sorted by name.
func (e *Executor) ListAccounts(ctx context.Context, filter AccountFilter) Envelope[[]Account] {
	ctx, finish := e.span(ctx, "list_accounts", "Account")
	result, err := e.listAccounts(ctx, filter)
	finish(err)
	if err != nil {
		return Failure[[]Account](err)
	}
	return Success(result)
}

func (e *Executor) listAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	var types []string
	switch strings.ToLower(strings.TrimSpace(filter.Kind)) {
	case "", AccountKindAll:
	case AccountKindExpense, "expense_categories":
		types = expenseAccountTypes
	case AccountKindPayment, "payment_accounts":
		types = paymentAccountTypes
	default:
		return nil, validation("unknown account kind %q; want all, expense or payment", filter.Kind)
	}

	accounts, err := e.chartOfAccounts(ctx, filter.Refresh)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]Account, 0, len(accounts))
	for _, account := range accounts {
		if !filter.IncludeInactive && !account.Active {
			continue
		}
		if types != nil && !slices.Contains(types, account.Type) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(account.Name), search) &&
			!strings.Contains(strings.ToLower(account.FullyQualifiedName), search) {
			continue
		}
		out = append(out, account)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// chartOfAccounts returns every account, from cache when fresh. Concurrent
// misses share one upstream fetch.
func (e *Executor) chartOfAccounts(ctx context.Context, refresh bool) ([]Account, error) {
	if !refresh {
		if accounts, ok := e.accounts.get(e.now()); ok {
			return accounts, nil
		}
	}
	value, err, _ := e.flight.Do("accounts", func() (any, error) {
		raw, err := call(ctx, e, func(ctx context.Context, api upstream.API) (map[string]any, error) {
			return api.Query(ctx, criteria.Query{Entity: "Account", FetchAll: true})
		})
		if err != nil {
			return nil, err
		}
		rows := criteria.ExtractRows(raw, "Account")
		accounts := make([]Account, 0, len(rows))
		for _, row := range rows {
			if fields, ok := row.(map[string]any); ok {
				accounts = append(accounts, accountFromRow(fields))
			}
		}
		e.accounts.set(accounts, e.now())
		e.logger.Info("account cache refreshed", "accounts", len(accounts))
		return accounts, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]Account), nil
}

func accountFromRow(row map[string]any) Account {
	text := func(key string) string {
		s, _ := row[key].(string)
		return s
	}
	active, ok := row["Active"].(bool)
	if !ok {
		active = true
	}
	return Account{
		ID:                 stringID(row["Id"]),
		Name:               text("Name"),
		Type:               text("AccountType"),
		SubType:            text("AccountSubType"),
		Classification:     text("Classification"),
		FullyQualifiedName: text("FullyQualifiedName"),
		Active:             active,
	}
}
