package ruleparser

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rulelab/ruleback/pkg/errors"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenIdent
	tokenString
	tokenLParen
	tokenRParen
	tokenComma
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenDoubleSlash
	tokenPercent
	tokenDoubleStar
	tokenGt
	tokenLt
	tokenGe
	tokenLe
	tokenEq
	tokenTilde
	tokenAnd
	tokenOr
	tokenNot
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// lex splits rule text into tokens. Identifiers are case-preserving;
// and/or/not are recognized as keywords regardless of case.
func lex(input string) ([]token, error) {
	var tokens []token

	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++
		case r == '+':
			tokens = append(tokens, token{kind: tokenPlus, text: "+", pos: i})
			i++
		case r == '-':
			tokens = append(tokens, token{kind: tokenMinus, text: "-", pos: i})
			i++
		case r == '~':
			tokens = append(tokens, token{kind: tokenTilde, text: "~", pos: i})
			i++
		case r == '%':
			tokens = append(tokens, token{kind: tokenPercent, text: "%", pos: i})
			i++
		case r == '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				tokens = append(tokens, token{kind: tokenDoubleStar, text: "**", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenStar, text: "*", pos: i})
				i++
			}
		case r == '/':
			if i+1 < len(runes) && runes[i+1] == '/' {
				tokens = append(tokens, token{kind: tokenDoubleSlash, text: "//", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenSlash, text: "/", pos: i})
				i++
			}
		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenGe, text: ">=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenGt, text: ">", pos: i})
				i++
			}
		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenLe, text: "<=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenLt, text: "<", pos: i})
				i++
			}
		case r == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenEq, text: "==", pos: i})
				i += 2
			} else {
				return nil, errors.Newf(errors.ErrCodeRuleSyntax, "single '=' at position %d, use '==' for comparison", i)
			}
		case r == '\'' || r == '"':
			quote := r
			j := i + 1

			for j < len(runes) && runes[j] != quote {
				j++
			}

			if j >= len(runes) {
				return nil, errors.Newf(errors.ErrCodeRuleSyntax, "unterminated string at position %d", i)
			}

			tokens = append(tokens, token{kind: tokenString, text: string(runes[i+1 : j]), pos: i})
			i = j + 1
		case unicode.IsDigit(r) || (r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i
			sawDot := false

			for j < len(runes) && (unicode.IsDigit(runes[j]) || (runes[j] == '.' && !sawDot)) {
				if runes[j] == '.' {
					sawDot = true
				}
				j++
			}

			text := string(runes[i:j])

			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, errors.Wrapf(errors.ErrCodeRuleSyntax, err, "bad number %q at position %d", text, i)
			}

			tokens = append(tokens, token{kind: tokenNumber, text: text, num: num, pos: i})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}

			text := string(runes[i:j])

			switch strings.ToLower(text) {
			case "and":
				tokens = append(tokens, token{kind: tokenAnd, text: text, pos: i})
			case "or":
				tokens = append(tokens, token{kind: tokenOr, text: text, pos: i})
			case "not":
				tokens = append(tokens, token{kind: tokenNot, text: text, pos: i})
			default:
				tokens = append(tokens, token{kind: tokenIdent, text: text, pos: i})
			}

			i = j
		default:
			return nil, errors.Newf(errors.ErrCodeRuleSyntax, "unexpected character %q at position %d", string(r), i)
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})

	return tokens, nil
}
