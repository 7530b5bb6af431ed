// Package expr compiles instance filter expressions into SQL conditions.
//
// Expressions use CEL syntax and are only parsed, never type-checked or
// evaluated. The supported subset is comparisons, boolean connectives, the in
// operator against list literals, string prefix/suffix/contains tests and the
// IsOfClass member function. Identifiers are resolved by a FieldProvider.
package expr

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/overloads"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"contentsql/internal/sqlutil"
)

// ErrMalformed is returned when an expression cannot be parsed.
var ErrMalformed = errors.New("malformed expression")

// errUnsupported marks constructs outside the supported subset.
var errUnsupported = errors.New("unsupported expression")

// IsOfClassFunction is the member function testing an instance's class.
const IsOfClassFunction = "IsOfClass"

// FieldProvider resolves identifiers to SQL column expressions. The qualifier
// is empty for bare identifiers such as "Name" and holds the leading
// identifier for selections such as "this.Name".
type FieldProvider interface {
	Column(qualifier, name string) (string, bool)
	ClassFilter(qualifier, className string) (sq.Sqlizer, bool)
}

// Clause is a compiled condition. An empty clause means no filtering.
type Clause struct {
	Condition  sq.Sqlizer
	UsedFields []string
}

// IsEmpty reports whether the clause filters nothing.
func (c Clause) IsEmpty() bool {
	return c.Condition == nil
}

// ToSql renders the condition.
func (c Clause) ToSql() (string, []any, error) {
	if c.Condition == nil {
		return "", nil, nil
	}
	return c.Condition.ToSql()
}

// Compiler parses CEL expressions and lowers them to squirrel conditions.
// It is safe for concurrent use.
type Compiler struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCompiler creates a compiler. A nil logger uses slog.Default().
func NewCompiler(logger *slog.Logger) (*Compiler, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{env: env, logger: logger}, nil
}

// Compile lowers text to a condition. Empty text and unsupported constructs
// yield an empty clause; unparseable text returns ErrMalformed.
func (c *Compiler) Compile(text string, provider FieldProvider) (Clause, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Clause{}, nil
	}
	ast, issues := c.env.Parse(text)
	if issues != nil && issues.Err() != nil {
		return Clause{}, fmt.Errorf("%w: %q: %v", ErrMalformed, text, issues.Err())
	}

	l := &lowering{provider: provider}
	cond, err := l.condition(ast.NativeRep().Expr())
	if err != nil {
		if errors.Is(err, errUnsupported) {
			c.logger.Debug("expression not supported, ignoring", slog.String("expression", text), slog.String("reason", err.Error()))
			return Clause{}, nil
		}
		return Clause{}, err
	}
	return Clause{Condition: cond, UsedFields: l.used}, nil
}

type lowering struct {
	provider FieldProvider
	used     []string
}

// operand is a column reference or a bound literal.
type operand struct {
	sql    string
	args   []any
	isNull bool
}

var comparisons = map[string]string{
	operators.Equals:        "=",
	operators.NotEquals:     "<>",
	operators.Less:          "<",
	operators.LessEquals:    "<=",
	operators.Greater:       ">",
	operators.GreaterEquals: ">=",
}

func (l *lowering) condition(e celast.Expr) (sq.Sqlizer, error) {
	switch e.Kind() {
	case celast.CallKind:
		return l.call(e.AsCall())
	case celast.SelectKind, celast.IdentKind:
		// a bare boolean column
		col, err := l.column(e)
		if err != nil {
			return nil, err
		}
		return sq.Expr(col + " = TRUE"), nil
	case celast.LiteralKind:
		if b, ok := e.AsLiteral().(types.Bool); ok {
			if b {
				return sq.Expr("1 = 1"), nil
			}
			return sq.Expr("1 = 0"), nil
		}
	}
	return nil, fmt.Errorf("%w: expression kind %d", errUnsupported, e.Kind())
}

func (l *lowering) call(call celast.CallExpr) (sq.Sqlizer, error) {
	fn := call.FunctionName()
	args := call.Args()

	if op, ok := comparisons[fn]; ok {
		return l.comparison(op, args[0], args[1])
	}

	switch fn {
	case operators.LogicalAnd, operators.LogicalOr:
		parts := make([]sq.Sqlizer, 0, len(args))
		for _, a := range args {
			part, err := l.condition(a)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		if fn == operators.LogicalAnd {
			return sq.And(parts), nil
		}
		return sq.Or(parts), nil
	case operators.LogicalNot:
		inner, err := l.condition(args[0])
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT ?", sq.ConcatExpr("(", inner, ")")), nil
	case operators.In:
		return l.in(args[0], args[1])
	case overloads.StartsWith, overloads.EndsWith, overloads.Contains:
		if !call.IsMemberFunction() || len(args) != 1 {
			return nil, fmt.Errorf("%w: %s call shape", errUnsupported, fn)
		}
		return l.like(fn, call.Target(), args[0])
	case IsOfClassFunction:
		return l.isOfClass(call)
	}
	return nil, fmt.Errorf("%w: function %s", errUnsupported, fn)
}

func (l *lowering) comparison(op string, lhs, rhs celast.Expr) (sq.Sqlizer, error) {
	left, err := l.operand(lhs)
	if err != nil {
		return nil, err
	}
	right, err := l.operand(rhs)
	if err != nil {
		return nil, err
	}
	if left.isNull {
		left, right = right, left
	}
	if right.isNull {
		switch op {
		case "=":
			return sq.Expr(left.sql + " IS NULL"), nil
		case "<>":
			return sq.Expr(left.sql + " IS NOT NULL"), nil
		default:
			return nil, fmt.Errorf("%w: ordering against null", errUnsupported)
		}
	}
	args := append(append([]any{}, left.args...), right.args...)
	return sq.Expr(left.sql+" "+op+" "+right.sql, args...), nil
}

func (l *lowering) in(lhs, rhs celast.Expr) (sq.Sqlizer, error) {
	left, err := l.operand(lhs)
	if err != nil {
		return nil, err
	}
	if rhs.Kind() != celast.ListKind {
		return nil, fmt.Errorf("%w: in requires a list literal", errUnsupported)
	}
	elems := rhs.AsList().Elements()
	if len(elems) == 0 {
		return sq.Expr("1 = 0"), nil
	}
	placeholders := make([]string, 0, len(elems))
	args := append([]any{}, left.args...)
	for _, el := range elems {
		if el.Kind() != celast.LiteralKind {
			return nil, fmt.Errorf("%w: in list element", errUnsupported)
		}
		v, err := literal(el.AsLiteral())
		if err != nil {
			return nil, err
		}
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	return sq.Expr(left.sql+" IN ("+strings.Join(placeholders, ",")+")", args...), nil
}

func (l *lowering) like(fn string, target, arg celast.Expr) (sq.Sqlizer, error) {
	col, err := l.column(target)
	if err != nil {
		return nil, err
	}
	if arg.Kind() != celast.LiteralKind {
		return nil, fmt.Errorf("%w: %s argument", errUnsupported, fn)
	}
	s, ok := arg.AsLiteral().(types.String)
	if !ok {
		return nil, fmt.Errorf("%w: %s argument type", errUnsupported, fn)
	}
	pattern := sqlutil.EscapeLike(string(s))
	switch fn {
	case overloads.StartsWith:
		pattern += "%"
	case overloads.EndsWith:
		pattern = "%" + pattern
	default:
		pattern = "%" + pattern + "%"
	}
	return sq.Expr(col+" LIKE ?", pattern), nil
}

func (l *lowering) isOfClass(call celast.CallExpr) (sq.Sqlizer, error) {
	if !call.IsMemberFunction() || len(call.Args()) != 1 {
		return nil, fmt.Errorf("%w: IsOfClass call shape", errUnsupported)
	}
	target := call.Target()
	if target.Kind() != celast.IdentKind {
		return nil, fmt.Errorf("%w: IsOfClass target", errUnsupported)
	}
	arg := call.Args()[0]
	if arg.Kind() != celast.LiteralKind {
		return nil, fmt.Errorf("%w: IsOfClass argument", errUnsupported)
	}
	name, ok := arg.AsLiteral().(types.String)
	if !ok {
		return nil, fmt.Errorf("%w: IsOfClass argument type", errUnsupported)
	}
	cond, ok := l.provider.ClassFilter(target.AsIdent(), string(name))
	if !ok {
		return nil, fmt.Errorf("%w: class %s", errUnsupported, name)
	}
	return cond, nil
}

func (l *lowering) operand(e celast.Expr) (operand, error) {
	switch e.Kind() {
	case celast.LiteralKind:
		v, err := literal(e.AsLiteral())
		if err != nil {
			return operand{}, err
		}
		if v == nil {
			return operand{isNull: true}, nil
		}
		return operand{sql: "?", args: []any{v}}, nil
	case celast.IdentKind, celast.SelectKind:
		col, err := l.column(e)
		if err != nil {
			return operand{}, err
		}
		return operand{sql: col}, nil
	}
	return operand{}, fmt.Errorf("%w: operand kind %d", errUnsupported, e.Kind())
}

// column resolves "Name" or "qualifier.Name".
func (l *lowering) column(e celast.Expr) (string, error) {
	var qualifier, name string
	switch e.Kind() {
	case celast.IdentKind:
		name = e.AsIdent()
	case celast.SelectKind:
		sel := e.AsSelect()
		if sel.IsTestOnly() || sel.Operand().Kind() != celast.IdentKind {
			return "", fmt.Errorf("%w: nested selection", errUnsupported)
		}
		qualifier = sel.Operand().AsIdent()
		name = sel.FieldName()
	default:
		return "", fmt.Errorf("%w: column kind %d", errUnsupported, e.Kind())
	}
	col, ok := l.provider.Column(qualifier, name)
	if !ok {
		return "", fmt.Errorf("%w: unknown field %s", errUnsupported, joinPath(qualifier, name))
	}
	l.used = append(l.used, joinPath(qualifier, name))
	return col, nil
}

func literal(v ref.Val) (any, error) {
	switch val := v.(type) {
	case types.String:
		return string(val), nil
	case types.Int:
		return int64(val), nil
	case types.Uint:
		return uint64(val), nil
	case types.Double:
		return float64(val), nil
	case types.Bool:
		return bool(val), nil
	case types.Null:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: literal of type %s", errUnsupported, v.Type().TypeName())
}

func joinPath(qualifier, name string) string {
	if qualifier == "" {
		return name
	}
	return qualifier + "." + name
}
