package core

import (
	"strings"
)

// Operator is a comparison token accepted by Where and OrWhere.
type Operator string

const (
	OpLT         Operator = "<"
	OpLTE        Operator = "<="
	OpEQ         Operator = "="
	OpNE         Operator = "<>"
	OpGTE        Operator = ">="
	OpGT         Operator = ">"
	OpLike       Operator = "like"
	OpNotLike    Operator = "notLike"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "notBetween"
	OpNull       Operator = "null"
	OpNotNull    Operator = "notNull"
)

var operators = map[string]Operator{
	"<":          OpLT,
	"<=":         OpLTE,
	"=":          OpEQ,
	"==":         OpEQ,
	"<>":         OpNE,
	"!=":         OpNE,
	">=":         OpGTE,
	">":          OpGT,
	"like":       OpLike,
	"notlike":    OpNotLike,
	"in":         OpIn,
	"notin":      OpNotIn,
	"between":    OpBetween,
	"notbetween": OpNotBetween,
	"null":       OpNull,
	"notnull":    OpNotNull,
}

// comparison operators and their store equivalents
var compareOps = map[Operator]string{
	OpLT:  "$lt",
	OpLTE: "$lte",
	OpEQ:  "$eq",
	OpNE:  "$ne",
	OpGTE: "$gte",
	OpGT:  "$gt",
}

// ParseOperator normalizes an operator token. Tokens are case insensitive and
// the negated forms accept "not like", "not_like" and "notLike".
func ParseOperator(tok string) (Operator, error) {
	key := strings.ToLower(tok)
	key = strings.NewReplacer(" ", "", "_", "").Replace(key)

	if op, ok := operators[key]; ok {
		return op, nil
	}
	return "", configErrorf(ErrUnknownOperator, "%q", tok)
}
