package gdaldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/lemmego/gda"
)

// =====================================
// Filter Translation
// =====================================

// matchNothing is a filter no entry satisfies, used for empty value lists.
const matchNothing = "(!(objectClass=*))"

// Filter converts object classes and a restriction map into an LDAP search
// filter. Every class becomes an objectClass assertion, scalar values become
// equality assertions, slices become OR groups, and all clauses AND together
// with restriction fields in sorted order. A nil value asserts the attribute
// is absent. With no classes and no restrictions the filter matches every
// entry. Values pass through ldap.EscapeFilter, so user input cannot alter
// the filter structure.
func Filter(classes []string, attrs map[string]string, r gda.Restrictions) string {
	fields := r.Fields()
	clauses := make([]string, 0, len(classes)+len(fields))
	for _, class := range classes {
		clauses = append(clauses, "(objectClass="+ldap.EscapeFilter(class)+")")
	}

	for _, field := range fields {
		attr := field
		if mapped, ok := attrs[field]; ok {
			attr = mapped
		}

		values, multi := gda.Candidates(r[field])
		switch {
		case multi && len(values) == 0:
			clauses = append(clauses, matchNothing)
		case multi && len(values) > 1:
			ors := make([]string, 0, len(values))
			for _, value := range values {
				ors = append(ors, assertion(attr, value))
			}
			clauses = append(clauses, "(|"+strings.Join(ors, "")+")")
		default:
			clauses = append(clauses, assertion(attr, values[0]))
		}
	}

	switch len(clauses) {
	case 0:
		return "(objectClass=*)"
	case 1:
		return clauses[0]
	}
	return "(&" + strings.Join(clauses, "") + ")"
}

// assertion renders one attribute test. nil asserts absence, the directory
// counterpart of a null value.
func assertion(attr string, value any) string {
	if value == nil {
		return "(!(" + attr + "=*))"
	}
	return fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(fmt.Sprint(value)))
}

// attrValues renders a field value as LDAP attribute values. nil renders as
// no values, which a modify request treats as attribute removal.
func attrValues(value any) []string {
	if value == nil {
		return nil
	}
	values, multi := gda.Candidates(value)
	if !multi {
		return []string{fmt.Sprint(value)}
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out
}
