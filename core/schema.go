package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks documents before they are written. Validate returns the
// document to store; updating is true for partial updates, where only the
// fields present are checked.
type Validator interface {
	Validate(doc Document, updating bool) (Document, error)
	Fields() []string
}

// Schema maps field names to validator tags, eg. "required,email" or
// "omitempty,min=2".
type Schema map[string]string

var validate = validator.New()

func (s Schema) Fields() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s Schema) Validate(doc Document, updating bool) (Document, error) {
	verr := &ValidationError{}

	for _, field := range s.Fields() {
		rule := s[field]
		v, ok := doc[field]

		if !ok || v == nil {
			if updating && !ok {
				continue
			}
			if hasRule(rule, "required") {
				verr.add(field, "is required")
			}
			continue
		}

		if err := checkVar(v, rule); err != nil {
			var ves validator.ValidationErrors
			if !errors.As(err, &ves) {
				return nil, configErrorf(err, "schema field %q", field)
			}
			for _, fe := range ves {
				verr.add(field, fmt.Sprintf("failed on the '%s' rule", fe.Tag()))
			}
		}
	}

	if len(verr.Fields) != 0 {
		return nil, verr
	}
	return doc, nil
}

// checkVar runs one validator tag. Unknown tags make the validator panic,
// which is reported as an error instead.
func checkVar(v any, rule string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid rule %q: %v", rule, r)
		}
	}()
	return validate.Var(v, rule)
}

func hasRule(rule, name string) bool {
	for _, r := range strings.Split(rule, ",") {
		if strings.TrimSpace(r) == name {
			return true
		}
	}
	return false
}
