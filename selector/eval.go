package selector

import (
	"math"
	"regexp"
)

type kind uint8

const (
	kindNull kind = iota // absent, unsupported or unknown
	kindBool
	kindNumber
	kindString
)

type value struct {
	k kind
	b bool
	n float64
	s string
}

var unknown = value{}

func boolean(b bool) value { return value{k: kindBool, b: b} }

func fromProperty(v any) value {
	switch v := v.(type) {
	case string:
		return value{k: kindString, s: v}
	case bool:
		return boolean(v)
	case int:
		return value{k: kindNumber, n: float64(v)}
	case int8:
		return value{k: kindNumber, n: float64(v)}
	case int16:
		return value{k: kindNumber, n: float64(v)}
	case int32:
		return value{k: kindNumber, n: float64(v)}
	case int64:
		return value{k: kindNumber, n: float64(v)}
	case uint:
		return value{k: kindNumber, n: float64(v)}
	case uint8:
		return value{k: kindNumber, n: float64(v)}
	case uint16:
		return value{k: kindNumber, n: float64(v)}
	case uint32:
		return value{k: kindNumber, n: float64(v)}
	case uint64:
		return value{k: kindNumber, n: float64(v)}
	case float32:
		return value{k: kindNumber, n: float64(v)}
	case float64:
		return value{k: kindNumber, n: v}
	}
	return unknown
}

type node interface {
	eval(props map[string]any) value
}

type literal struct{ v value }

func (n *literal) eval(map[string]any) value { return n.v }

type ident struct{ name string }

func (n *ident) eval(props map[string]any) value {
	v, ok := props[n.name]
	if !ok {
		return unknown
	}
	return fromProperty(v)
}

type logical struct {
	or   bool
	l, r node
}

func (n *logical) eval(props map[string]any) value {
	l, r := n.l.eval(props), n.r.eval(props)
	lb, lk := l.k == kindBool, l.k == kindBool && l.b
	rb, rk := r.k == kindBool, r.k == kindBool && r.b
	if n.or {
		switch {
		case lk || rk:
			return boolean(true)
		case lb && rb:
			return boolean(false)
		}
		return unknown
	}
	switch {
	case (lb && !l.b) || (rb && !r.b):
		return boolean(false)
	case lk && rk:
		return boolean(true)
	}
	return unknown
}

type not struct{ x node }

func (n *not) eval(props map[string]any) value {
	v := n.x.eval(props)
	if v.k != kindBool {
		return unknown
	}
	return boolean(!v.b)
}

type compare struct {
	op   string
	l, r node
}

func (n *compare) eval(props map[string]any) value {
	l, r := n.l.eval(props), n.r.eval(props)
	if l.k != r.k || l.k == kindNull {
		return unknown
	}
	switch l.k {
	case kindNumber:
		switch n.op {
		case "=":
			return boolean(l.n == r.n)
		case "<>":
			return boolean(l.n != r.n)
		case "<":
			return boolean(l.n < r.n)
		case "<=":
			return boolean(l.n <= r.n)
		case ">":
			return boolean(l.n > r.n)
		case ">=":
			return boolean(l.n >= r.n)
		}
	case kindString:
		switch n.op {
		case "=":
			return boolean(l.s == r.s)
		case "<>":
			return boolean(l.s != r.s)
		}
	case kindBool:
		switch n.op {
		case "=":
			return boolean(l.b == r.b)
		case "<>":
			return boolean(l.b != r.b)
		}
	}
	return unknown
}

type arith struct {
	op   byte
	l, r node
}

func (n *arith) eval(props map[string]any) value {
	l, r := n.l.eval(props), n.r.eval(props)
	if l.k != kindNumber || r.k != kindNumber {
		return unknown
	}
	var out float64
	switch n.op {
	case '+':
		out = l.n + r.n
	case '-':
		out = l.n - r.n
	case '*':
		out = l.n * r.n
	case '/':
		if r.n == 0 {
			return unknown
		}
		out = l.n / r.n
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return unknown
	}
	return value{k: kindNumber, n: out}
}

type minus struct{ x node }

func (n *minus) eval(props map[string]any) value {
	v := n.x.eval(props)
	if v.k != kindNumber {
		return unknown
	}
	return value{k: kindNumber, n: -v.n}
}

type between struct {
	x, lo, hi node
	not       bool
}

func (n *between) eval(props map[string]any) value {
	x, lo, hi := n.x.eval(props), n.lo.eval(props), n.hi.eval(props)
	if x.k != kindNumber || lo.k != kindNumber || hi.k != kindNumber {
		return unknown
	}
	return boolean((x.n >= lo.n && x.n <= hi.n) != n.not)
}

type in struct {
	x   node
	set map[string]struct{}
	not bool
}

func (n *in) eval(props map[string]any) value {
	x := n.x.eval(props)
	if x.k != kindString {
		return unknown
	}
	_, ok := n.set[x.s]
	return boolean(ok != n.not)
}

type like struct {
	x   node
	re  *regexp.Regexp
	not bool
}

func (n *like) eval(props map[string]any) value {
	x := n.x.eval(props)
	if x.k != kindString {
		return unknown
	}
	return boolean(n.re.MatchString(x.s) != n.not)
}

type isNull struct {
	x   node
	not bool
}

func (n *isNull) eval(props map[string]any) value {
	null := n.x.eval(props).k == kindNull
	return boolean(null != n.not)
}
