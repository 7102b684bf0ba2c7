package requestctx

import (
	"context"
	"testing"
)

func TestInvocationFromContextRoundTrip(t *testing.T) {
	ctx := WithInvocation(context.Background(), Invocation{ID: "inv-1", Tool: "create_bill"})
	got, ok := InvocationFromContext(ctx)
	if !ok {
		t.Fatal("expected invocation")
	}
	if got.ID != "inv-1" || got.Tool != "create_bill" {
		t.Fatalf("InvocationFromContext = %+v", got)
	}
}

func TestInvocationFromContextEmpty(t *testing.T) {
	if _, ok := InvocationFromContext(context.Background()); ok {
		t.Fatal("expected no invocation")
	}
}

func TestInvocationFromContextNil(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract.
	if _, ok := InvocationFromContext(nil); ok {
		t.Fatal("expected no invocation for nil context")
	}
}

func TestWithInvocationNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract.
	ctx := WithInvocation(nil, Invocation{ID: "inv-2"})
	if got, ok := InvocationFromContext(ctx); !ok || got.ID != "inv-2" {
		t.Fatalf("expected inv-2, got %+v", got)
	}
}
