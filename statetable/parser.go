package statetable

import (
	"strconv"
)

// Parse compiles DSL text into a Table. It fails with a *ParseError that
// carries the offending line.
func Parse(src string) (*Table, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.parseTable()
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Table {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) skipSeps() {
	for p.peek().kind == tokSep {
		p.pos++
	}
}

func (p *parser) expect(kind tokenKind, context string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, errorf(t.line, "expected %s %s, found %s", kind, context, t.describe())
	}
	return t, nil
}

func (p *parser) parseTable() (*Table, error) {
	t := &Table{index: make(map[string]*State)}
	for {
		p.skipSeps()
		if p.peek().kind == tokEOF {
			break
		}
		s, err := p.parseState()
		if err != nil {
			return nil, err
		}
		if prev, dup := t.index[s.Name]; dup {
			return nil, errorf(s.Line, "state %q already declared on line %d", s.Name, prev.Line)
		}
		t.States = append(t.States, s)
		t.index[s.Name] = s
	}
	if len(t.States) == 0 {
		return nil, errorf(1, "table declares no states")
	}
	return t, nil
}

func (p *parser) parseState() (*State, error) {
	name, err := p.expect(tokIdent, "for state name")
	if err != nil {
		return nil, err
	}
	if !validName(name.text) {
		return nil, errorf(name.line, "invalid state name %q", name.text)
	}
	if IsTerminal(name.text) {
		return nil, errorf(name.line, "%q is a reserved terminal and cannot be declared", name.text)
	}
	s := &State{Name: name.text, Line: name.line}

	if p.peek().kind == tokColon {
		p.next()
		fn, err := p.expect(tokIdent, "for decision function")
		if err != nil {
			return nil, err
		}
		if !validName(fn.text) {
			return nil, errorf(fn.line, "invalid decision function name %q", fn.text)
		}
		s.Decision = fn.text
	}

	if p.peek().kind == tokLBracket {
		caps, err := p.parseCapabilities()
		if err != nil {
			return nil, err
		}
		s.Capabilities = caps
	}

	p.skipSeps()
	if _, err := p.expect(tokLBrace, "to open state "+quote(s.Name)); err != nil {
		return nil, err
	}

	for {
		p.skipSeps()
		switch p.peek().kind {
		case tokRBrace:
			p.next()
			return s, p.checkState(s)
		case tokEOF:
			return nil, errorf(s.Line, "state %q: missing closing \"}\"", s.Name)
		}
		tr, err := p.parseTransition()
		if err != nil {
			return nil, err
		}
		if prev := s.Transition(tr.Outcome); prev != nil {
			return nil, errorf(tr.Line, "state %q: outcome %q already mapped on line %d",
				s.Name, tr.Outcome, prev.Line)
		}
		s.Transitions = append(s.Transitions, tr)
	}
}

func (p *parser) parseCapabilities() ([]string, error) {
	open := p.next()
	var caps []string
	seen := make(map[string]bool)
	for {
		tag, err := p.expect(tokIdent, "for capability tag")
		if err != nil {
			return nil, err
		}
		if seen[tag.text] {
			return nil, errorf(tag.line, "duplicate capability %q", tag.text)
		}
		seen[tag.text] = true
		caps = append(caps, tag.text)

		switch t := p.next(); t.kind {
		case tokComma:
			continue
		case tokRBracket:
			return caps, nil
		default:
			return nil, errorf(open.line, "expected \",\" or \"]\" in capability list, found %s", t.describe())
		}
	}
}

func (p *parser) parseTransition() (*Transition, error) {
	out := p.next()
	tr := &Transition{Exec: true, Line: out.line}
	switch out.kind {
	case tokIdent:
		tr.Outcome = out.text
	case tokStar:
		tr.Outcome = Wildcard
	case tokBang:
		tr.Outcome = ExceptionOutcome
	default:
		return nil, errorf(out.line, "expected outcome, found %s", out.describe())
	}

	if p.peek().kind == tokColon {
		p.next()
	}
	target := p.next()
	if target.kind != tokIdent {
		return nil, errorf(out.line, "outcome %q has no target state", tr.Outcome)
	}
	if !validName(target.text) {
		return nil, errorf(target.line, "invalid target state name %q", target.text)
	}
	tr.Target = target.text

	seen := make(map[string]bool)
	for p.peek().kind == tokIdent {
		key := p.next()
		if _, err := p.expect(tokEquals, "after option "+quote(key.text)); err != nil {
			return nil, err
		}
		val, err := p.expect(tokIdent, "for value of option "+quote(key.text))
		if err != nil {
			return nil, err
		}
		if seen[key.text] {
			return nil, errorf(key.line, "option %q repeated", key.text)
		}
		seen[key.text] = true
		if err := applyOption(tr, key, val); err != nil {
			return nil, err
		}
	}

	switch t := p.peek(); t.kind {
	case tokSep:
		p.next()
	case tokRBrace:
	default:
		return nil, errorf(t.line, "unexpected %s after transition", t.describe())
	}
	return tr, nil
}

func applyOption(tr *Transition, key, val token) error {
	switch key.text {
	case "wait", "max":
		n, err := strconv.Atoi(val.text)
		if err != nil || n < 0 {
			return errorf(val.line, "option %q must be a non-negative integer, got %q", key.text, val.text)
		}
		if key.text == "wait" {
			tr.Wait = n
		} else {
			tr.Max = n
		}
	case "exec":
		switch val.text {
		case "true":
			tr.Exec = true
		case "false":
			tr.Exec = false
		default:
			return errorf(val.line, "option \"exec\" must be true or false, got %q", val.text)
		}
	default:
		return errorf(key.line, "unknown option %q", key.text)
	}
	return nil
}

// checkState enforces block-local rules once the closing brace is read.
func (p *parser) checkState(s *State) error {
	if len(s.Transitions) == 0 {
		if s.Decision != "" {
			return errorf(s.Line, "state %q: decision function %q declared with no outcome lines",
				s.Name, s.Decision)
		}
		return errorf(s.Line, "state %q has no transitions", s.Name)
	}
	return nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
