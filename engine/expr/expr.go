// Package expr implements the sandboxed expression evaluator used by
// condition, loop, and break-condition node fields, plus the
// {{path.dot}} prompt interpolation used by ai-step nodes.
//
// It deliberately cannot execute arbitrary code: the grammar supports
// only literals, member access, comparison/boolean/arithmetic
// operators, and a small allow-listed function set. There is no loop
// construct and no way to call anything but the allow-listed
// functions. Evaluation is bounded to a short per-call deadline so a
// pathological expression cannot stall a dispatch.
package expr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxEvalTime bounds a single Eval call, per spec §4.2.
const MaxEvalTime = 10 * time.Millisecond

// ValidationError is returned for malformed expressions or calls to an
// identifier that is not an allow-listed function.
type ValidationError struct {
	Expr string
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Expr, e.Msg)
}

// Undefined is the value produced by resolving an identifier or path
// that does not exist in the evaluation context.
type Undefined struct{}

func (Undefined) String() string { return "undefined" }

// Eval evaluates expr against ctxData, a map of bound identifiers
// (e.g. {"result": ..., "input": ..., "item": ...}). It returns an
// error for malformed syntax or disallowed function calls; it never
// panics and never runs attacker-controlled code.
func Eval(expr string, ctxData map[string]any) (any, error) {
	done := make(chan struct{})
	var (
		result any
		err    error
	)
	go func() {
		defer close(done)
		p := &parser{tokens: tokenize(expr), src: expr}
		node, perr := p.parseExpression()
		if perr != nil {
			err = perr
			return
		}
		if !p.atEnd() {
			err = &ValidationError{Expr: expr, Msg: "trailing tokens"}
			return
		}
		result, err = evalNode(node, ctxData)
	}()

	select {
	case <-done:
		return result, err
	case <-time.After(MaxEvalTime):
		return nil, &ValidationError{Expr: expr, Msg: "evaluation exceeded time budget"}
	}
}

// EvalBool evaluates expr and coerces the result to a bool the way
// condition/break-condition fields require.
func EvalBool(expr string, ctxData map[string]any) (bool, error) {
	v, err := Eval(expr, ctxData)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// EvalWithContext is Eval but also observing a caller-supplied
// context's cancellation (used when a node dispatch itself has been
// cancelled).
func EvalWithContext(ctx context.Context, expr string, ctxData map[string]any) (any, error) {
	type res struct {
		v   any
		err error
	}
	out := make(chan res, 1)
	go func() {
		v, err := Eval(expr, ctxData)
		out <- res{v, err}
	}()
	select {
	case r := <-out:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil, Undefined:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// --- interpolation ---

// Interpolate scans text for {{path}} occurrences and replaces each
// with the stringified value found by walking path (dot-separated)
// over ctxData. A path that resolves to nothing leaves the literal
// placeholder untouched.
func Interpolate(text string, ctxData map[string]any) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		start := strings.Index(text[i:], "{{")
		if start < 0 {
			b.WriteString(text[i:])
			break
		}
		start += i
		end := strings.Index(text[start:], "}}")
		if end < 0 {
			b.WriteString(text[i:])
			break
		}
		end += start
		b.WriteString(text[i:start])
		path := strings.TrimSpace(text[start+2 : end])
		val, ok := WalkPath(ctxData, path)
		if !ok {
			b.WriteString(text[start : end+2])
		} else {
			b.WriteString(Stringify(val))
		}
		i = end + 2
	}
	return b.String()
}

// WalkPath resolves a dot-separated path (e.g. "node1.items.0.id")
// against a nested map/slice structure. Numeric segments index into
// slices. Returns ok=false if any segment along the way is missing.
func WalkPath(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := data
	for _, seg := range strings.Split(path, ".") {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a value the way interpolation requires: plain
// text for scalars, Go's default formatting otherwise.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
