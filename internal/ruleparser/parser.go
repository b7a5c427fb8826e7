package ruleparser

import (
	"strings"

	"github.com/rulelab/ruleback/pkg/errors"
)

// Parse turns rule text into an expression tree. Arity of known
// special functions is checked here, once; column references stay
// unresolved until evaluation.
func Parse(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New(errors.ErrCodeRuleEmpty, "empty rule expression")
	}

	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}

	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenEOF {
		return nil, errors.Newf(errors.ErrCodeRuleSyntax,
			"unexpected token %q at position %d", p.peek().text, p.peek().pos)
	}

	return node, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	p.pos++

	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return t, errors.Newf(errors.ErrCodeRuleSyntax,
			"expected %s at position %d, got %q", what, t.pos, t.text)
	}

	return p.next(), nil
}

// parseOr handles the lowest-precedence level. Consecutive operands of
// the same boolean operator collapse into one n-ary node, matching the
// canonical rendering of chained and/or.
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenOr {
		return left, nil
	}

	values := []Node{left}

	for p.peek().kind == tokenOr {
		p.next()

		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}

		values = append(values, right)
	}

	return &BoolOp{Op: BoolOr, Values: values}, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenAnd {
		return left, nil
	}

	values := []Node{left}

	for p.peek().kind == tokenAnd {
		p.next()

		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		values = append(values, right)
	}

	return &BoolOp{Op: BoolAnd, Values: values}, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().kind == tokenNot {
		p.next()

		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}

		return &UnaryOp{Op: UnaryNot, Operand: operand}, nil
	}

	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}

	var op CompareKind

	switch p.peek().kind {
	case tokenGt:
		op = CmpGt
	case tokenLt:
		op = CmpLt
	case tokenGe:
		op = CmpGe
	case tokenLe:
		op = CmpLe
	case tokenEq:
		op = CmpEq
	default:
		return left, nil
	}

	p.next()

	right, err := p.parseAddSub()
	if err != nil {
		return nil, err
	}

	return &Compare{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseAddSub() (Node, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return nil, err
	}

	for {
		var op BinOpKind

		switch p.peek().kind {
		case tokenPlus:
			op = OpAdd
		case tokenMinus:
			op = OpSub
		default:
			return left, nil
		}

		p.next()

		right, err := p.parseMulDiv()
		if err != nil {
			return nil, err
		}

		left = &BinOp{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseMulDiv() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		var op BinOpKind

		switch p.peek().kind {
		case tokenStar:
			op = OpMul
		case tokenSlash:
			op = OpDiv
		case tokenDoubleSlash:
			op = OpFloorDiv
		case tokenPercent:
			op = OpMod
		default:
			return left, nil
		}

		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = &BinOp{Op: op, Left: left, Right: right}
	}
}

// parseUnary binds looser than power, so -x**2 parses as -(x**2).
func (p *parser) parseUnary() (Node, error) {
	var op UnaryKind

	switch p.peek().kind {
	case tokenMinus:
		op = UnaryNeg
	case tokenPlus:
		op = UnaryPos
	case tokenTilde:
		op = UnaryInvert
	default:
		return p.parsePower()
	}

	p.next()

	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	return &UnaryOp{Op: op, Operand: operand}, nil
}

func (p *parser) parsePower() (Node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokenDoubleStar {
		return base, nil
	}

	p.next()

	// Right-associative; the exponent may carry a unary sign.
	exp, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	return &BinOp{Op: OpPow, Left: base, Right: exp}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()

	switch t.kind {
	case tokenNumber:
		p.next()
		return &Constant{Value: t.num}, nil
	case tokenString:
		p.next()
		return &Constant{Text: t.text, IsString: true}, nil
	case tokenLParen:
		p.next()

		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}

		return inner, nil
	case tokenIdent:
		p.next()

		if p.peek().kind != tokenLParen {
			return &Name{Ident: t.text}, nil
		}

		return p.parseCall(t.text)
	default:
		return nil, errors.Newf(errors.ErrCodeRuleSyntax,
			"unexpected token %q at position %d", t.text, t.pos)
	}
}

func (p *parser) parseCall(name string) (Node, error) {
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, err
	}

	var args []Node

	if p.peek().kind != tokenRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}

			args = append(args, arg)

			if p.peek().kind != tokenComma {
				break
			}

			p.next()
		}
	}

	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, err
	}

	call := &Call{Func: name, Args: args}

	if err := checkArity(call); err != nil {
		return nil, err
	}

	return call, nil
}
