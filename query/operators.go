package query

// Operator atomic predicate operator
type Operator string

const (
	OpEq          Operator = "eq"
	OpIExact      Operator = "iexact"
	OpContains    Operator = "contains"
	OpIContains   Operator = "icontains"
	OpStartsWith  Operator = "startswith"
	OpIStartsWith Operator = "istartswith"
	OpEndsWith    Operator = "endswith"
	OpIEndsWith   Operator = "iendswith"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpIsNull      Operator = "isnull"
	OpRange       Operator = "range"
	OpYear        Operator = "year"
	OpMonth       Operator = "month"
	OpDay         Operator = "day"
)

func (op Operator) stringOnly() bool {
	switch op {
	case OpIExact, OpContains, OpIContains, OpStartsWith, OpIStartsWith, OpEndsWith, OpIEndsWith:
		return true
	}
	return false
}

func (op Operator) datePart() bool {
	switch op {
	case OpYear, OpMonth, OpDay:
		return true
	}
	return false
}

func (op Operator) ordering() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte, OpRange:
		return true
	}
	return false
}

func validOperator(op Operator) bool {
	switch op {
	case OpEq, OpIExact, OpContains, OpIContains, OpStartsWith, OpIStartsWith,
		OpEndsWith, OpIEndsWith, OpGt, OpGte, OpLt, OpLte, OpIn, OpIsNull,
		OpRange, OpYear, OpMonth, OpDay:
		return true
	}
	return false
}
