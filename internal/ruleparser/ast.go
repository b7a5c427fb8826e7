package ruleparser

import (
	"strconv"
	"strings"
)

// Node is the closed set of expression tree variants. Every node
// renders itself canonically via String; the rendering is used for
// trace column names and cache keys, so it must be deterministic.
type Node interface {
	String() string
	isNode()
}

type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpFloorDiv
	OpMod
	OpPow
)

type CompareKind int

const (
	CmpGt CompareKind = iota
	CmpLt
	CmpGe
	CmpLe
	CmpEq
)

type BoolOpKind int

const (
	BoolAnd BoolOpKind = iota
	BoolOr
)

type UnaryKind int

const (
	UnaryNeg UnaryKind = iota
	UnaryPos
	UnaryNot
	UnaryInvert
)

// Constant is a literal: a number, or a quoted string used as a column
// name argument.
type Constant struct {
	Value    float64
	Text     string
	IsString bool
}

// Name is a bare identifier: a price-table column or one of the
// reserved portfolio variables COST and POSITION.
type Name struct {
	Ident string
}

// BinOp is a binary arithmetic operation.
type BinOp struct {
	Op    BinOpKind
	Left  Node
	Right Node
}

// Compare is a single binary comparison.
type Compare struct {
	Op    CompareKind
	Left  Node
	Right Node
}

// BoolOp is an n-ary and/or chain.
type BoolOp struct {
	Op     BoolOpKind
	Values []Node
}

// UnaryOp is negation, logical not, or bitwise invert.
type UnaryOp struct {
	Op      UnaryKind
	Operand Node
}

// Call is a function application. Arity of known special functions is
// validated at parse time.
type Call struct {
	Func string
	Args []Node
}

func (*Constant) isNode() {}
func (*Name) isNode()     {}
func (*BinOp) isNode()    {}
func (*Compare) isNode()  {}
func (*BoolOp) isNode()   {}
func (*UnaryOp) isNode()  {}
func (*Call) isNode()     {}

// precedence mirrors the grammar: pow 4, mul-family 3, add-family 2,
// comparisons 1. Used to parenthesize canonical renderings minimally.
func (k BinOpKind) precedence() int {
	switch k {
	case OpPow:
		return 4
	case OpMul, OpDiv, OpFloorDiv, OpMod:
		return 3
	default:
		return 2
	}
}

func (k BinOpKind) symbol() string {
	switch k {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpFloorDiv:
		return "//"
	case OpMod:
		return "%"
	default:
		return "**"
	}
}

func (k CompareKind) symbol() string {
	switch k {
	case CmpGt:
		return ">"
	case CmpLt:
		return "<"
	case CmpGe:
		return ">="
	case CmpLe:
		return "<="
	default:
		return "=="
	}
}

func (k BoolOpKind) symbol() string {
	if k == BoolAnd {
		return "and"
	}

	return "or"
}

func (k UnaryKind) symbol() string {
	switch k {
	case UnaryNeg:
		return "-"
	case UnaryPos:
		return "+"
	case UnaryNot:
		return "not "
	default:
		return "~"
	}
}

func (c *Constant) String() string {
	if c.IsString {
		return "'" + c.Text + "'"
	}

	return strconv.FormatFloat(c.Value, 'f', -1, 64)
}

func (n *Name) String() string {
	return n.Ident
}

// childNeedsParens reports whether a binary child must be wrapped when
// rendered under parent. Same-precedence right children of
// left-associative operators need parens, as do left children of the
// right-associative power operator.
func childNeedsParens(child Node, parent BinOpKind, isLeft bool) bool {
	bin, ok := child.(*BinOp)
	if !ok {
		return false
	}

	childPrec := bin.Op.precedence()
	parentPrec := parent.precedence()

	if childPrec < parentPrec {
		return true
	}

	if childPrec == parentPrec {
		if !isLeft && (parentPrec == 2 || parentPrec == 3) {
			return true
		}

		if isLeft && parent == OpPow {
			return true
		}
	}

	return false
}

func (b *BinOp) String() string {
	left := b.Left.String()
	right := b.Right.String()

	if childNeedsParens(b.Left, b.Op, true) {
		left = "(" + left + ")"
	}

	if childNeedsParens(b.Right, b.Op, false) {
		right = "(" + right + ")"
	}

	return left + b.Op.symbol() + right
}

func (c *Compare) String() string {
	return c.Left.String() + " " + c.Op.symbol() + " " + c.Right.String()
}

func (b *BoolOp) String() string {
	parts := make([]string, len(b.Values))
	for i, v := range b.Values {
		parts[i] = v.String()
	}

	return strings.Join(parts, " "+b.Op.symbol()+" ")
}

func (u *UnaryOp) String() string {
	return u.Op.symbol() + u.Operand.String()
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}

	return c.Func + "(" + strings.Join(args, ",") + ")"
}

// stringArg returns the column-name text of an argument: the ident of
// a bare name or the unquoted text of a string literal.
func stringArg(node Node) string {
	switch n := node.(type) {
	case *Name:
		return n.Ident
	case *Constant:
		if n.IsString {
			return n.Text
		}

		return n.String()
	default:
		return strings.Trim(node.String(), "'\"")
	}
}
