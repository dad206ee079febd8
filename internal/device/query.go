package device

import (
	"strconv"
	"strings"

	"github.com/lumenrig/lumenrig/internal/param"
	"github.com/sirupsen/logrus"
)

// metaOp and paramOp enumerate the predicate operators the grammar
// accepts for `$key op value` and `@param op number type` terms.
type metaOp string

const (
	metaEquals    metaOp = "="
	metaNotEquals metaOp = "!="
	metaSubstring metaOp = "*="
	metaPrefix    metaOp = "^="
	metaSuffix    metaOp = "$="
)

type paramOp string

const (
	paramLess      paramOp = "<"
	paramLessEq    paramOp = "<="
	paramGreater   paramOp = ">"
	paramGreaterEq paramOp = ">="
	paramNotEquals paramOp = "!="
	paramEquals    paramOp = "="
)

// Query evaluates a selector string against universe,
// returning the resulting DeviceSet. Malformed input never panics: the
// parser logs at ERROR and returns whatever was accumulated before the
// parse failure.
func Query(universe DeviceSet, query string, log *logrus.Entry) DeviceSet {
	p := &queryParser{universe: universe, log: log}
	return p.run(query)
}

type queryParser struct {
	universe DeviceSet
	log      *logrus.Entry
	result   DeviceSet
	started  bool
}

func (p *queryParser) run(query string) DeviceSet {
	p.result = Empty()

	groups, err := splitGroups(query)
	if err != nil {
		p.logError(err)
		return p.result
	}

	for _, group := range groups {
		groupSet, err := p.evalGroup(group)
		if err != nil {
			p.logError(err)
			return p.result
		}
		if !p.started {
			p.result = groupSet
			p.started = true
		} else {
			p.result = p.result.Intersect(groupSet)
		}
	}
	return p.result
}

func (p *queryParser) logError(err error) {
	if p.log != nil {
		p.log.WithError(err).Error("malformed device selector")
	}
}

type selectorError struct{ msg string }

func (e *selectorError) Error() string { return e.msg }

func errf(msg string) error { return &selectorError{msg: msg} }

// splitGroups splits a query string into the contents of each
// bracket-delimited group, ignoring whitespace outside brackets.
func splitGroups(query string) ([]string, error) {
	var groups []string
	depth := 0
	var cur strings.Builder

	for _, r := range query {
		switch {
		case r == '[':
			if depth == 0 {
				cur.Reset()
			} else {
				cur.WriteRune(r)
			}
			depth++
		case r == ']':
			depth--
			if depth < 0 {
				return nil, errf("unmatched ']'")
			}
			if depth == 0 {
				groups = append(groups, cur.String())
			} else {
				cur.WriteRune(r)
			}
		case depth > 0:
			cur.WriteRune(r)
		default:
			if !isSpace(r) {
				return nil, errf("unexpected character outside brackets: " + string(r))
			}
		}
	}
	if depth != 0 {
		return nil, errf("unmatched '['")
	}
	return groups, nil
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

// evalGroup evaluates one bracketed group's content: a comma/pipe
// separated list of (possibly negated) terms, unioned together.
func (p *queryParser) evalGroup(content string) (DeviceSet, error) {
	terms := splitTerms(content)
	out := Empty()

	for _, raw := range terms {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		negate := false
		if strings.HasPrefix(raw, "!") {
			negate = true
			raw = strings.TrimSpace(raw[1:])
		}

		matched, err := p.evalTerm(raw)
		if err != nil {
			return out, err
		}
		if negate {
			matched = p.universe.Difference(matched)
		}
		out = out.Union(matched)
	}
	return out, nil
}

// splitTerms splits a group's content on ',' and '|' — both act as
// OR-accumulation boundaries within the group.
func splitTerms(content string) []string {
	return strings.FieldsFunc(content, func(r rune) bool {
		return r == ',' || r == '|'
	})
}

func (p *queryParser) evalTerm(term string) (DeviceSet, error) {
	switch {
	case strings.HasPrefix(term, "#"):
		return p.evalChannel(term)
	case strings.HasPrefix(term, "$"):
		return p.evalMetadata(term)
	case strings.HasPrefix(term, "@"):
		return p.evalParam(term)
	default:
		return p.evalID(term)
	}
}

func (p *queryParser) evalID(id string) (DeviceSet, error) {
	if d, ok := p.universe.Get(id); ok {
		return FromSlice([]*Device{d}), nil
	}
	return Empty(), nil
}

func (p *queryParser) evalChannel(term string) (DeviceSet, error) {
	body := strings.TrimSpace(term[1:])
	if body == "" {
		return Empty(), errf("empty channel selector")
	}

	if idx := strings.Index(body, "-"); idx >= 0 {
		loStr, hiStr := body[:idx], body[idx+1:]
		lo, err := strconv.ParseUint(strings.TrimSpace(loStr), 10, 32)
		if err != nil {
			return Empty(), errf("bad channel range start: " + loStr)
		}
		hi, err := strconv.ParseUint(strings.TrimSpace(hiStr), 10, 32)
		if err != nil {
			return Empty(), errf("bad channel range end: " + hiStr)
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return p.universe.Select(func(d *Device) bool {
			c := uint64(d.Channel())
			return c >= lo && c <= hi
		}), nil
	}

	ch, err := strconv.ParseUint(body, 10, 32)
	if err != nil {
		return Empty(), errf("bad channel number: " + body)
	}
	return p.universe.Select(func(d *Device) bool {
		return uint64(d.Channel()) == ch
	}), nil
}

func (p *queryParser) evalMetadata(term string) (DeviceSet, error) {
	body := term[1:]
	op, key, value, err := splitMetaPredicate(body)
	if err != nil {
		return Empty(), err
	}

	return p.universe.Select(func(d *Device) bool {
		actual, ok := d.Metadata(key)
		if !ok {
			// A missing key never matches — including under != — per the
			// grammar's explicit rule that negation still requires presence.
			return false
		}
		switch op {
		case metaEquals:
			return actual == value
		case metaNotEquals:
			return actual != value
		case metaSubstring:
			return strings.Contains(actual, value)
		case metaPrefix:
			return strings.HasPrefix(actual, value)
		case metaSuffix:
			return strings.HasSuffix(actual, value)
		}
		return false
	}), nil
}

var metaOps = []metaOp{metaSubstring, metaPrefix, metaSuffix, metaNotEquals, metaEquals}

func splitMetaPredicate(body string) (metaOp, string, string, error) {
	for _, op := range metaOps {
		if idx := strings.Index(body, string(op)); idx >= 0 {
			key := strings.TrimSpace(body[:idx])
			value := strings.TrimSpace(body[idx+len(op):])
			if key == "" {
				return "", "", "", errf("empty metadata key in: $" + body)
			}
			return op, key, value, nil
		}
	}
	return "", "", "", errf("unrecognized metadata operator in: $" + body)
}

func (p *queryParser) evalParam(term string) (DeviceSet, error) {
	body := term[1:]
	op, name, numStr, typ, err := splitParamPredicate(body)
	if err != nil {
		return Empty(), err
	}
	if typ != "f" {
		return Empty(), errf("unsupported parameter predicate type: " + typ)
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
	if err != nil {
		return Empty(), errf("bad parameter comparison number: " + numStr)
	}

	return p.universe.Select(func(d *Device) bool {
		v, ok := d.Param(name)
		if !ok {
			return false
		}
		rhs := numericRHS(v, num)
		if rhs == nil {
			return false
		}
		cmp, err := v.Compare(rhs)
		if err != nil {
			return false
		}
		switch op {
		case paramLess:
			return cmp < 0
		case paramLessEq:
			return cmp <= 0
		case paramGreater:
			return cmp > 0
		case paramGreaterEq:
			return cmp >= 0
		case paramNotEquals:
			return cmp != 0
		case paramEquals:
			return cmp == 0
		}
		return false
	}), nil
}

// numericRHS builds a right-hand comparison value of the same variant as v,
// holding the literal number from a `@param op number f` term, so the
// comparison goes through that variant's own typed Compare rather than
// failing on a cross-variant type mismatch. Returns nil for a variant with
// no sensible single-number comparator (Color: hue is derived, not settable
// by a bare float).
func numericRHS(v param.Value, num float64) param.Value {
	switch o := v.(type) {
	case *param.Scalar:
		cp := o.Clone().(*param.Scalar)
		cp.Set(num)
		return cp
	case *param.Angle:
		cp := o.Clone().(*param.Angle)
		cp.Set(num)
		return cp
	case *param.Enum:
		cp := o.Clone().(*param.Enum)
		cp.SetValNumber(num)
		return cp
	default:
		return nil
	}
}

var paramOps = []paramOp{paramLessEq, paramGreaterEq, paramNotEquals, paramLess, paramGreater, paramEquals}

// splitParamPredicate parses `param op number type`.
func splitParamPredicate(body string) (paramOp, string, string, string, error) {
	for _, op := range paramOps {
		if idx := strings.Index(body, string(op)); idx >= 0 {
			name := strings.TrimSpace(body[:idx])
			rest := strings.Fields(body[idx+len(op):])
			if name == "" || len(rest) != 2 {
				return "", "", "", "", errf("malformed parameter predicate: @" + body)
			}
			return op, name, rest[0], rest[1], nil
		}
	}
	return "", "", "", "", errf("unrecognized parameter operator in: @" + body)
}
