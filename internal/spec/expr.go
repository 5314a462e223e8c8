package spec

import (
	"fmt"
	"strings"
)

// Expr is a compiled guard or invariant expression.
//
// The grammar is closed: variable lookups, literals, the six comparison
// operators, and the boolean connectives !, && and ||. There are no
// function calls and no assignment, so evaluation is total and
// side-effect-free.
type Expr struct {
	src  string
	node exprNode
}

// ParseExpr compiles an expression from its textual form.
func ParseExpr(src string) (*Expr, error) {
	node, err := parseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", src, err)
	}
	return &Expr{src: src, node: node}, nil
}

// MustParseExpr is ParseExpr for statically known expressions.
// Panics on parse failure; intended for tests and catalog construction.
func MustParseExpr(src string) *Expr {
	e, err := ParseExpr(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the original textual form of the expression.
func (e *Expr) Source() string { return e.src }

// Negate returns a new expression equivalent to !(e).
// The receiver is not modified; used by falsification mutations.
func (e *Expr) Negate() *Expr {
	return &Expr{
		src:  "!(" + e.src + ")",
		node: notNode{inner: e.node},
	}
}

// Eval evaluates the expression against a variable environment.
// Unknown variables are an evaluation error, not false: a mistyped
// variable name in an invariant should surface loudly.
func (e *Expr) Eval(env Env) (Value, error) {
	return e.node.eval(env)
}

// EvalBool evaluates the expression and requires a boolean result.
func (e *Expr) EvalBool(env Env) (bool, error) {
	v, err := e.node.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(Bool)
	if !ok {
		return false, fmt.Errorf("expression %q: result is %T, want bool", e.src, v)
	}
	return bool(b), nil
}

type exprNode interface {
	eval(env Env) (Value, error)
}

type literalNode struct{ value Value }

func (n literalNode) eval(Env) (Value, error) { return n.value, nil }

type varNode struct{ name string }

func (n varNode) eval(env Env) (Value, error) {
	v, ok := env[n.name]
	if !ok {
		return nil, fmt.Errorf("undefined variable %q", n.name)
	}
	return v, nil
}

type notNode struct{ inner exprNode }

func (n notNode) eval(env Env) (Value, error) {
	v, err := n.inner.eval(env)
	if err != nil {
		return nil, err
	}
	b, ok := v.(Bool)
	if !ok {
		return nil, fmt.Errorf("operand of ! is %T, want bool", v)
	}
	return Bool(!b), nil
}

type boolOpNode struct {
	op          string // "&&" or "||"
	left, right exprNode
}

func (n boolOpNode) eval(env Env) (Value, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	lb, ok := lv.(Bool)
	if !ok {
		return nil, fmt.Errorf("left operand of %s is %T, want bool", n.op, lv)
	}
	// Short-circuit, matching the connectives' usual semantics.
	if n.op == "&&" && !bool(lb) {
		return Bool(false), nil
	}
	if n.op == "||" && bool(lb) {
		return Bool(true), nil
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	rb, ok := rv.(Bool)
	if !ok {
		return nil, fmt.Errorf("right operand of %s is %T, want bool", n.op, rv)
	}
	return Bool(bool(rb)), nil
}

type cmpNode struct {
	op          string // "==", "!=", "<", "<=", ">", ">="
	left, right exprNode
}

func (n cmpNode) eval(env Env) (Value, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return Bool(Equal(lv, rv)), nil
	case "!=":
		return Bool(!Equal(lv, rv)), nil
	}

	// Ordering comparisons work on numbers and strings.
	ln, lok := numeric(lv)
	rn, rok := numeric(rv)
	if lok && rok {
		return orderResult(n.op, compareFloat(ln, rn)), nil
	}
	ls, lok := lv.(String)
	rs, rok := rv.(String)
	if lok && rok {
		return orderResult(n.op, strings.Compare(string(ls), string(rs))), nil
	}
	return nil, fmt.Errorf("cannot order %T against %T with %s", lv, rv, n.op)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderResult(op string, cmp int) Bool {
	switch op {
	case "<":
		return Bool(cmp < 0)
	case "<=":
		return Bool(cmp <= 0)
	case ">":
		return Bool(cmp > 0)
	case ">=":
		return Bool(cmp >= 0)
	default:
		return Bool(false)
	}
}
