package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/qbo-mcp/internal/platform/logging"
	"github.com/louisbranch/qbo-mcp/internal/services/mcp/domain"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/breaker"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/criteria"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/operation"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/upstream"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeAPI is an in-memory QBO company.
type fakeAPI struct {
	mu      sync.Mutex
	creates int
	failing bool
}

func (f *fakeAPI) Create(_ context.Context, entity upstream.Entity, payload map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, &upstream.HTTPError{Status: 503}
	}
	f.creates++
	out := map[string]any{"Id": "100", "SyncToken": "0"}
	for k, v := range payload {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAPI) Read(_ context.Context, _ upstream.Entity, id string) (map[string]any, error) {
	return map[string]any{"Id": id, "SyncToken": "3"}, nil
}

func (f *fakeAPI) Update(_ context.Context, _ upstream.Entity, payload map[string]any) (map[string]any, error) {
	return payload, nil
}

func (f *fakeAPI) Delete(_ context.Context, _ upstream.Entity, id, _ string) (map[string]any, error) {
	return map[string]any{"Id": id, "status": "Deleted"}, nil
}

func (f *fakeAPI) Query(_ context.Context, q criteria.Query) (map[string]any, error) {
	if strings.Contains(q.String(), "COUNT(*)") {
		return map[string]any{"QueryResponse": map[string]any{"totalCount": float64(4)}}, nil
	}
	return map[string]any{"QueryResponse": map[string]any{}}, nil
}

func (f *fakeAPI) Upload(_ context.Context, upload upstream.Upload) (map[string]any, error) {
	return map[string]any{"Id": "900", "FileName": upload.FileName}, nil
}

type fakeProvider struct{ api upstream.API }

func (p fakeProvider) Authenticate(context.Context) error { return nil }
func (p fakeProvider) Client() (upstream.API, error)     { return p.api, nil }

func newTestExecutor(t *testing.T, api *fakeAPI) *operation.Executor {
	t.Helper()
	executor, err := operation.New(operation.Config{
		Auth:    fakeProvider{api: api},
		Breaker: breaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute},
		Logger:  logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return executor
}

func connect(t *testing.T, server *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("connect server: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func envelopeOf(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	var envelope map[string]any
	if err := json.Unmarshal([]byte(text.Text), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func TestNewRequiresOperations(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestServerListsGeneratedTools(t *testing.T) {
	server, err := New(newTestExecutor(t, &fakeAPI{}), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	want := 5
	for _, entity := range upstream.Entities() {
		if entity.ReadOnly {
			want += 2
		} else {
			want += 5
		}
	}
	if len(names) != want {
		t.Fatalf("expected %d tools, got %d", want, len(names))
	}
	for _, name := range []string{"create_invoice", "search_journal_entries", "delete_payment_method", "list_accounts", "resolve_vendor", "list_tax_codes", "attach_receipt", "get_tax_code", "search_tax_codes", "health_check"} {
		if !names[name] {
			t.Errorf("missing tool %q", name)
		}
	}
	for _, name := range []string{"create_tax_code", "update_tax_code", "delete_tax_code"} {
		if names[name] {
			t.Errorf("read-only entity exposes %q", name)
		}
	}
}

func TestCreateToolIsIdempotentEndToEnd(t *testing.T) {
	api := &fakeAPI{}
	server, err := New(newTestExecutor(t, api), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	params := &mcp.CallToolParams{
		Name: "create_bill",
		Arguments: map[string]any{
			"payload":        map[string]any{"VendorRef": map[string]any{"value": "5"}},
			"idempotencyKey": "bill-42",
		},
	}
	first, err := session.CallTool(context.Background(), params)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := session.CallTool(context.Background(), params)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.IsError || second.IsError {
		t.Fatalf("expected successes, got %v and %v", envelopeOf(t, first), envelopeOf(t, second))
	}
	if api.creates != 1 {
		t.Fatalf("expected one upstream create, got %d", api.creates)
	}
	replay := envelopeOf(t, second)
	if replay["wasIdempotent"] != true {
		t.Fatalf("expected idempotent replay, got %v", replay)
	}
	if got := replay["result"].(map[string]any)["Id"]; got != "100" {
		t.Fatalf("expected cached id 100, got %v", got)
	}
}

func TestToolFailuresAreResults(t *testing.T) {
	api := &fakeAPI{failing: true}
	server, err := New(newTestExecutor(t, api), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	call := func() map[string]any {
		result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      "create_invoice",
			Arguments: map[string]any{"payload": map[string]any{"Line": []any{}}},
		})
		if err != nil {
			t.Fatalf("call tool: %v", err)
		}
		if !result.IsError {
			t.Fatal("expected tool error result")
		}
		return envelopeOf(t, result)
	}

	for range 2 {
		if msg := call()["error"].(string); !strings.HasPrefix(msg, "[QBO_API_ERROR] ") {
			t.Fatalf("expected upstream failure, got %q", msg)
		}
	}
	if msg := call()["error"].(string); !strings.HasPrefix(msg, "[CIRCUIT_OPEN] ") {
		t.Fatalf("expected circuit open after threshold, got %q", msg)
	}
}

func TestSearchToolCounts(t *testing.T) {
	server, err := New(newTestExecutor(t, &fakeAPI{}), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search_customers",
		Arguments: map[string]any{"count": true},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if got := envelopeOf(t, result)["result"]; got != float64(4) {
		t.Fatalf("expected count 4, got %v", got)
	}
}

func TestAttachReceiptToolEndToEnd(t *testing.T) {
	server, err := New(newTestExecutor(t, &fakeAPI{}), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	path := filepath.Join(t.TempDir(), "receipt.png")
	if err := os.WriteFile(path, []byte("png"), 0o600); err != nil {
		t.Fatalf("write receipt: %v", err)
	}
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "attach_receipt",
		Arguments: map[string]any{"entityId": "12", "filePaths": []any{path}},
	})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	envelope := envelopeOf(t, result)
	if result.IsError {
		t.Fatalf("expected success, got %v", envelope)
	}
	ids := envelope["result"].(map[string]any)["attachedReceiptIds"].([]any)
	if len(ids) != 1 || ids[0] != "900" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestHealthResourceOverSession(t *testing.T) {
	server, err := New(newTestExecutor(t, &fakeAPI{}), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	session := connect(t, server)

	result, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "health://status"})
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	if len(result.Contents) != 1 || !strings.Contains(result.Contents[0].Text, `"circuitBreaker"`) {
		t.Fatalf("unexpected health contents %+v", result.Contents)
	}
}

type scriptedOps struct {
	domain.Operations
	statuses []string
}

func (s *scriptedOps) Health() operation.Health {
	status := s.statuses[0]
	s.statuses = s.statuses[1:]
	return operation.Health{Status: status}
}

func TestObserveHealthReportsTransitions(t *testing.T) {
	ops := &scriptedOps{statuses: []string{operation.StatusHealthy, operation.StatusUnhealthy, operation.StatusUnhealthy, operation.StatusHealthy}}
	server := &Server{ops: ops, logger: logging.Discard()}

	status := operation.StatusHealthy
	var seen []string
	for range 4 {
		status = server.observeHealth(status)
		seen = append(seen, status)
	}
	if got := strings.Join(seen, ","); got != "healthy,unhealthy,unhealthy,healthy" {
		t.Fatalf("unexpected statuses %s", got)
	}
}

func TestRunRejectsUnknownTransport(t *testing.T) {
	err := Run(context.Background(), Config{Transport: "carrier-pigeon"})
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected unsupported transport error, got %v", err)
	}
}

func TestServeWithTransportStopsOnCancel(t *testing.T) {
	server, err := New(newTestExecutor(t, &fakeAPI{}), logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	_, serverTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.serveWithTransport(ctx, serverTransport) }()
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
