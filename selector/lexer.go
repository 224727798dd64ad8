package selector

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokKeyword
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string // keywords are upper-cased, strings unquoted
	num  float64
	pos  int
}

var keywords = map[string]bool{
	"AND":     true,
	"OR":      true,
	"NOT":     true,
	"BETWEEN": true,
	"IN":      true,
	"LIKE":    true,
	"ESCAPE":  true,
	"IS":      true,
	"NULL":    true,
	"TRUE":    true,
	"FALSE":   true,
}

func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(expr) {
		r, size := utf8.DecodeRuneInString(expr[i:])
		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '\'':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(expr) {
				if expr[i] == '\'' {
					if i+1 < len(expr) && expr[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(expr[i])
				i++
			}
			if !closed {
				return nil, &SyntaxError{Expr: expr, Pos: start, Msg: "unterminated string literal"}
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})

		case isDigit(r) || (r == '.' && i+1 < len(expr) && isDigit(rune(expr[i+1]))):
			start := i
			for i < len(expr) && isDigit(rune(expr[i])) {
				i++
			}
			if i < len(expr) && expr[i] == '.' {
				i++
				for i < len(expr) && isDigit(rune(expr[i])) {
					i++
				}
			}
			if i < len(expr) && (expr[i] == 'e' || expr[i] == 'E') {
				j := i + 1
				if j < len(expr) && (expr[j] == '+' || expr[j] == '-') {
					j++
				}
				if j < len(expr) && isDigit(rune(expr[j])) {
					i = j
					for i < len(expr) && isDigit(rune(expr[i])) {
						i++
					}
				}
			}
			text := expr[start:i]
			// Java literal suffixes carry no meaning here.
			if i < len(expr) && strings.ContainsRune("lLfFdD", rune(expr[i])) {
				i++
			}
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, &SyntaxError{Expr: expr, Pos: start, Msg: "invalid number " + strconv.Quote(text)}
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: n, pos: start})

		case isIdentStart(r):
			start := i
			i += size
			for i < len(expr) {
				r, size = utf8.DecodeRuneInString(expr[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			word := expr[start:i]
			if upper := strings.ToUpper(word); keywords[upper] {
				toks = append(toks, token{kind: tokKeyword, text: upper, pos: start})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: start})
			}

		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++

		case r == '<':
			if strings.HasPrefix(expr[i:], "<>") || strings.HasPrefix(expr[i:], "<=") {
				toks = append(toks, token{kind: tokOp, text: expr[i : i+2], pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokOp, text: "<", pos: i})
				i++
			}
		case r == '>':
			if strings.HasPrefix(expr[i:], ">=") {
				toks = append(toks, token{kind: tokOp, text: ">=", pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokOp, text: ">", pos: i})
				i++
			}
		case strings.ContainsRune("=+-*/", r):
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
			i++

		default:
			return nil, &SyntaxError{Expr: expr, Pos: i, Msg: "unexpected character " + strconv.QuoteRune(r)}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(expr)})
	return toks, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
