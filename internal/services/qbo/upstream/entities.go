package upstream

import (
	"sort"
	"strings"
)

// Entity describes one QBO entity the server exposes.
type Entity struct {
	// Name is the QBO entity name and the JSON key of its payloads.
	Name string
	// Stem is the snake_case tool name stem.
	Stem string
	// PluralStem names the search tool.
	PluralStem string
	// SoftDelete entities are deactivated instead of deleted.
	SoftDelete bool
	// ReadOnly entities support only read and query.
	ReadOnly bool
}

// Path is the lowercase REST path segment.
func (e Entity) Path() string {
	return strings.ToLower(e.Name)
}

var registry = []Entity{
	{Name: "Account", Stem: "account", PluralStem: "accounts", SoftDelete: true},
	{Name: "Bill", Stem: "bill", PluralStem: "bills"},
	{Name: "BillPayment", Stem: "bill_payment", PluralStem: "bill_payments"},
	{Name: "Class", Stem: "class", PluralStem: "classes", SoftDelete: true},
	{Name: "CreditMemo", Stem: "credit_memo", PluralStem: "credit_memos"},
	{Name: "Customer", Stem: "customer", PluralStem: "customers", SoftDelete: true},
	{Name: "Department", Stem: "department", PluralStem: "departments", SoftDelete: true},
	{Name: "Deposit", Stem: "deposit", PluralStem: "deposits"},
	{Name: "Employee", Stem: "employee", PluralStem: "employees", SoftDelete: true},
	{Name: "Estimate", Stem: "estimate", PluralStem: "estimates"},
	{Name: "Invoice", Stem: "invoice", PluralStem: "invoices"},
	{Name: "Item", Stem: "item", PluralStem: "items", SoftDelete: true},
	{Name: "JournalEntry", Stem: "journal_entry", PluralStem: "journal_entries"},
	{Name: "Payment", Stem: "payment", PluralStem: "payments"},
	{Name: "PaymentMethod", Stem: "payment_method", PluralStem: "payment_methods", SoftDelete: true},
	{Name: "Purchase", Stem: "purchase", PluralStem: "purchases"},
	{Name: "PurchaseOrder", Stem: "purchase_order", PluralStem: "purchase_orders"},
	{Name: "RefundReceipt", Stem: "refund_receipt", PluralStem: "refund_receipts"},
	{Name: "SalesReceipt", Stem: "sales_receipt", PluralStem: "sales_receipts"},
	{Name: "TaxCode", Stem: "tax_code", PluralStem: "tax_codes", ReadOnly: true},
	{Name: "Term", Stem: "term", PluralStem: "terms", SoftDelete: true},
	{Name: "TimeActivity", Stem: "time_activity", PluralStem: "time_activities"},
	{Name: "Transfer", Stem: "transfer", PluralStem: "transfers"},
	{Name: "Vendor", Stem: "vendor", PluralStem: "vendors", SoftDelete: true},
	{Name: "VendorCredit", Stem: "vendor_credit", PluralStem: "vendor_credits"},
}

var byKey = func() map[string]Entity {
	index := make(map[string]Entity, len(registry)*2)
	for _, entity := range registry {
		index[strings.ToLower(entity.Name)] = entity
		index[entity.Stem] = entity
	}
	return index
}()

// Entities returns the registry sorted by name.
func Entities() []Entity {
	out := make([]Entity, len(registry))
	copy(out, registry)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds an entity by QBO name or stem, ignoring case.
func Lookup(name string) (Entity, bool) {
	entity, ok := byKey[strings.ToLower(strings.TrimSpace(name))]
	return entity, ok
}
