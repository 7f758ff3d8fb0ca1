package expr

import "strings"

func evalNode(n *astNode, ctxData map[string]any) (any, error) {
	switch n.kind {
	case nLit:
		return n.lit, nil
	case nIdent:
		v, ok := ctxData[n.name]
		if !ok {
			return Undefined{}, nil
		}
		return v, nil
	case nMember:
		obj, err := evalNode(n.obj, ctxData)
		if err != nil {
			return nil, err
		}
		m, ok := obj.(map[string]any)
		if !ok {
			return Undefined{}, nil
		}
		v, ok := m[n.name]
		if !ok {
			return Undefined{}, nil
		}
		return v, nil
	case nIndex:
		obj, err := evalNode(n.obj, ctxData)
		if err != nil {
			return nil, err
		}
		idx, err := evalNode(n.idx, ctxData)
		if err != nil {
			return nil, err
		}
		return indexInto(obj, idx), nil
	case nUnary:
		v, err := evalNode(n.left, ctxData)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "!":
			return !truthy(v), nil
		case "-":
			f, ok := toFloat(v)
			if !ok {
				return nil, &ValidationError{Msg: "unary - on non-numeric value"}
			}
			return -f, nil
		}
	case nBinary:
		return evalBinary(n, ctxData)
	case nCall:
		return evalCall(n, ctxData)
	}
	return nil, &ValidationError{Msg: "unhandled expression node"}
}

func indexInto(obj, idx any) any {
	switch c := obj.(type) {
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return Undefined{}
		}
		v, ok := c[key]
		if !ok {
			return Undefined{}
		}
		return v
	case []any:
		f, ok := toFloat(idx)
		if !ok {
			return Undefined{}
		}
		i := int(f)
		if i < 0 || i >= len(c) {
			return Undefined{}
		}
		return c[i]
	default:
		return Undefined{}
	}
}

func evalBinary(n *astNode, ctxData map[string]any) (any, error) {
	switch n.op {
	case "&&":
		left, err := evalNode(n.left, ctxData)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return false, nil
		}
		right, err := evalNode(n.right, ctxData)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case "||":
		left, err := evalNode(n.left, ctxData)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := evalNode(n.right, ctxData)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := evalNode(n.left, ctxData)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(n.right, ctxData)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if lok && rok {
			switch n.op {
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			}
		}
		ls, lsok := left.(string)
		rs, rsok := right.(string)
		if lsok && rsok {
			switch n.op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
		return false, nil
	case "+":
		if ls, ok := left.(string); ok {
			return ls + Stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return Stringify(left) + rs, nil
		}
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if lok && rok {
			return lf + rf, nil
		}
		return nil, &ValidationError{Msg: "+ requires numeric or string operands"}
	case "-", "*", "/", "%":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return nil, &ValidationError{Msg: n.op + " requires numeric operands"}
		}
		switch n.op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, &ValidationError{Msg: "division by zero"}
			}
			return lf / rf, nil
		case "%":
			if rf == 0 {
				return nil, &ValidationError{Msg: "modulo by zero"}
			}
			return float64(int64(lf) % int64(rf)), nil
		}
	}
	return nil, &ValidationError{Msg: "unknown operator " + n.op}
}

func evalCall(n *astNode, ctxData map[string]any) (any, error) {
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := evalNode(a, ctxData)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch n.name {
	case "length":
		if len(args) != 1 {
			return nil, &ValidationError{Msg: "length() takes exactly one argument"}
		}
		return float64(lengthOf(args[0])), nil
	case "contains":
		if len(args) != 2 {
			return nil, &ValidationError{Msg: "contains() takes exactly two arguments"}
		}
		return containsOf(args[0], args[1]), nil
	case "startsWith":
		if len(args) != 2 {
			return nil, &ValidationError{Msg: "startsWith() takes exactly two arguments"}
		}
		s, _ := args[0].(string)
		prefix, _ := args[1].(string)
		return strings.HasPrefix(s, prefix), nil
	case "endsWith":
		if len(args) != 2 {
			return nil, &ValidationError{Msg: "endsWith() takes exactly two arguments"}
		}
		s, _ := args[0].(string)
		suffix, _ := args[1].(string)
		return strings.HasSuffix(s, suffix), nil
	case "lower":
		if len(args) != 1 {
			return nil, &ValidationError{Msg: "lower() takes exactly one argument"}
		}
		s, _ := args[0].(string)
		return strings.ToLower(s), nil
	case "upper":
		if len(args) != 1 {
			return nil, &ValidationError{Msg: "upper() takes exactly one argument"}
		}
		s, _ := args[0].(string)
		return strings.ToUpper(s), nil
	}
	return nil, &ValidationError{Msg: "call to disallowed function " + n.name}
}

func lengthOf(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		return 0
	}
}

func containsOf(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if equal(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func equal(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	as, asok := a.(string)
	bs, bsok := b.(string)
	if asok && bsok {
		return as == bs
	}
	ab, abok := a.(bool)
	bb, bbok := b.(bool)
	if abok && bbok {
		return ab == bb
	}
	_, aU := a.(Undefined)
	_, bU := b.(Undefined)
	if aU || bU {
		return aU == bU
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
