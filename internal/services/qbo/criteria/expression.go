package criteria

import (
	"fmt"
	"strings"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// ParseExpression parses an AIP-160 filter expression into filter clauses.
//
// Only conjunctions of comparisons are supported because QBO queries cannot
// express OR or NOT. The has operator (Name:"Acme*") becomes LIKE with '*'
// translated to '%'. Expressions are parsed without type checking so any QBO
// field name is accepted; field names are validated when the query is built.
func ParseExpression(filter string) ([]FilterClause, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, nil
	}
	var parser filtering.Parser
	parser.Init(filter)
	parsed, err := parser.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	return translateExpr(parsed.GetExpr())
}

func translateExpr(e *expr.Expr) ([]FilterClause, error) {
	if e == nil {
		return nil, nil
	}
	call, ok := e.GetExprKind().(*expr.Expr_CallExpr)
	if !ok {
		return nil, fmt.Errorf("unsupported expression type: %T", e.GetExprKind())
	}
	switch call.CallExpr.GetFunction() {
	case "_&&_", "AND", "FUZZY":
		return translateAnd(call.CallExpr.GetArgs())
	case "_||_", "OR":
		return nil, fmt.Errorf("OR is not supported by QBO queries")
	case "NOT", "-", "!_":
		return nil, fmt.Errorf("negation is not supported by QBO queries")
	case "_==_", "=":
		return translateComparison(call.CallExpr.GetArgs(), OpEqual)
	case "_<_", "<":
		return translateComparison(call.CallExpr.GetArgs(), OpLess)
	case "_<=_", "<=":
		return translateComparison(call.CallExpr.GetArgs(), OpLessEqual)
	case "_>_", ">":
		return translateComparison(call.CallExpr.GetArgs(), OpGreater)
	case "_>=_", ">=":
		return translateComparison(call.CallExpr.GetArgs(), OpGreaterEqual)
	case ":":
		return translateHas(call.CallExpr.GetArgs())
	case "_!=_", "!=":
		return nil, fmt.Errorf("!= is not supported by QBO queries")
	default:
		return nil, fmt.Errorf("unsupported function: %s", call.CallExpr.GetFunction())
	}
}

func translateAnd(args []*expr.Expr) ([]FilterClause, error) {
	var clauses []FilterClause
	for _, arg := range args {
		part, err := translateExpr(arg)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, part...)
	}
	return clauses, nil
}

func translateComparison(args []*expr.Expr, operator string) ([]FilterClause, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("comparison requires 2 arguments")
	}
	field, err := extractFieldName(args[0])
	if err != nil {
		return nil, err
	}
	value, err := extractValue(args[1])
	if err != nil {
		return nil, err
	}
	return []FilterClause{{Field: field, Value: value, Operator: operator}}, nil
}

func translateHas(args []*expr.Expr) ([]FilterClause, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("has operator requires 2 arguments")
	}
	field, err := extractFieldName(args[0])
	if err != nil {
		return nil, err
	}
	value, err := extractValue(args[1])
	if err != nil {
		return nil, err
	}
	pattern, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("has operator on %s requires a string", field)
	}
	if !strings.Contains(pattern, "*") {
		pattern = "*" + pattern + "*"
	}
	return []FilterClause{{Field: field, Value: strings.ReplaceAll(pattern, "*", "%"), Operator: OpLike}}, nil
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.GetName(), nil
	case *expr.Expr_SelectExpr:
		operand, err := extractFieldName(kind.SelectExpr.GetOperand())
		if err != nil {
			return "", err
		}
		return operand + "." + kind.SelectExpr.GetField(), nil
	default:
		return "", fmt.Errorf("expected field name, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_ConstExpr:
		return extractConstValue(kind.ConstExpr)
	case *expr.Expr_IdentExpr:
		// Unquoted words: booleans or bare enum-like values.
		switch name := kind.IdentExpr.GetName(); name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return name, nil
		}
	default:
		return nil, fmt.Errorf("expected constant, got %T", kind)
	}
}

func extractConstValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}
	switch kind := c.GetConstantKind().(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return kind.Uint64Value, nil
	case *expr.Constant_DoubleValue:
		return kind.DoubleValue, nil
	case *expr.Constant_BoolValue:
		return kind.BoolValue, nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}
