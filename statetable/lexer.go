package statetable

import "unicode/utf8"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokStar
	tokBang
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokComma
	tokColon
	tokEquals
	tokSep // newline or ';'
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokStar:
		return `"*"`
	case tokBang:
		return `"!"`
	case tokLBrace:
		return `"{"`
	case tokRBrace:
		return `"}"`
	case tokLBracket:
		return `"["`
	case tokRBracket:
		return `"]"`
	case tokComma:
		return `","`
	case tokColon:
		return `":"`
	case tokEquals:
		return `"="`
	case tokSep:
		return "end of line"
	default:
		return "unknown token"
	}
}

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) describe() string {
	if t.kind == tokIdent {
		return "identifier " + quote(t.text)
	}
	return t.kind.String()
}

func quote(s string) string { return `"` + s + `"` }

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.':
		return true
	}
	return false
}

// lex splits src into tokens. Comments run from '#' to end of line.
func lex(src string) ([]token, error) {
	var toks []token
	line := 1
	for i := 0; i < len(src); {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case r == '\n':
			toks = append(toks, token{kind: tokSep, text: "\n", line: line})
			line++
			i += size
		case r == ' ' || r == '\t' || r == '\r':
			i += size
		case r == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case r == ';':
			toks = append(toks, token{kind: tokSep, text: ";", line: line})
			i += size
		case r == '*':
			toks = append(toks, token{kind: tokStar, text: "*", line: line})
			i += size
		case r == '!':
			toks = append(toks, token{kind: tokBang, text: "!", line: line})
			i += size
		case r == '{':
			toks = append(toks, token{kind: tokLBrace, text: "{", line: line})
			i += size
		case r == '}':
			toks = append(toks, token{kind: tokRBrace, text: "}", line: line})
			i += size
		case r == '[':
			toks = append(toks, token{kind: tokLBracket, text: "[", line: line})
			i += size
		case r == ']':
			toks = append(toks, token{kind: tokRBracket, text: "]", line: line})
			i += size
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", line: line})
			i += size
		case r == ':':
			toks = append(toks, token{kind: tokColon, text: ":", line: line})
			i += size
		case r == '=':
			toks = append(toks, token{kind: tokEquals, text: "=", line: line})
			i += size
		case isIdentRune(r):
			start := i
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if !isIdentRune(r) {
					break
				}
				i += size
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], line: line})
		default:
			return nil, errorf(line, "unexpected character %q", r)
		}
	}
	toks = append(toks, token{kind: tokEOF, line: line})
	return toks, nil
}
