// Package query provides the predicate expression tree and the lookup
// resolver that validates relationship-traversing field paths against a
// schema registry.
package query

// Expression node in a boolean predicate tree
type Expression interface {
	isExpr()
}

// Cond atomic predicate: a field path, an operator and a comparison value
type Cond struct {
	Path  string
	Op    Operator
	Value interface{}
}

// AndExpr conjunction of expressions
type AndExpr struct{ Exprs []Expression }

// OrExpr disjunction of expressions
type OrExpr struct{ Exprs []Expression }

// NotExpr negation
type NotExpr struct{ Expr Expression }

func (Cond) isExpr()    {}
func (AndExpr) isExpr() {}
func (OrExpr) isExpr()  {}
func (NotExpr) isExpr() {}

// And combines expressions into a conjunction
func And(exprs ...Expression) Expression {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return AndExpr{Exprs: exprs}
}

// Or combines expressions into a disjunction
func Or(exprs ...Expression) Expression {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return OrExpr{Exprs: exprs}
}

// Not negates an expression
func Not(expr Expression) Expression {
	return NotExpr{Expr: expr}
}

func Eq(path string, value interface{}) Expression { return Cond{path, OpEq, value} }

// IExact case-insensitive exact match
func IExact(path string, value string) Expression { return Cond{path, OpIExact, value} }

func Contains(path string, value string) Expression  { return Cond{path, OpContains, value} }
func IContains(path string, value string) Expression { return Cond{path, OpIContains, value} }

func StartsWith(path string, value string) Expression  { return Cond{path, OpStartsWith, value} }
func IStartsWith(path string, value string) Expression { return Cond{path, OpIStartsWith, value} }
func EndsWith(path string, value string) Expression    { return Cond{path, OpEndsWith, value} }
func IEndsWith(path string, value string) Expression   { return Cond{path, OpIEndsWith, value} }

func Gt(path string, value interface{}) Expression  { return Cond{path, OpGt, value} }
func Gte(path string, value interface{}) Expression { return Cond{path, OpGte, value} }
func Lt(path string, value interface{}) Expression  { return Cond{path, OpLt, value} }
func Lte(path string, value interface{}) Expression { return Cond{path, OpLte, value} }

// In membership test, values is the candidate set
func In(path string, values ...interface{}) Expression { return Cond{path, OpIn, values} }

// IsNull null test; applies to nullable fields and to relations
func IsNull(path string, isNull bool) Expression { return Cond{path, OpIsNull, isNull} }

// Range inclusive bounds test
func Range(path string, lo, hi interface{}) Expression {
	return Cond{path, OpRange, [2]interface{}{lo, hi}}
}

// Year matches records whose time field falls in the given year
func Year(path string, year int) Expression { return Cond{path, OpYear, year} }

// Month matches on the month component (1-12) of a time field
func Month(path string, month int) Expression { return Cond{path, OpMonth, month} }

// Day matches on the day-of-month component of a time field
func Day(path string, day int) Expression { return Cond{path, OpDay, day} }
