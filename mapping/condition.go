package mapping

import (
	"strings"

	"github.com/c360studio/metahub/payload"
)

// evalCondition evaluates the rule condition grammar against the inbound
// payload. Supported forms:
//
//	<path> exists
//	<path> not_empty
//	<path> == <literal>
//	<path> != <literal>
//
// Literals are compared against the stringified resolved value. A malformed
// condition never matches.
func evalCondition(cond string, doc any) bool {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true
	}

	fields := strings.SplitN(cond, " ", 3)
	if len(fields) < 2 {
		return false
	}
	path := fields[0]
	op := fields[1]

	val, present := payload.Resolve(doc, path)

	switch op {
	case "exists":
		return present
	case "not_empty":
		return present && payload.Stringify(val) != ""
	case "==":
		if len(fields) != 3 {
			return false
		}
		return present && payload.Stringify(val) == strings.TrimSpace(fields[2])
	case "!=":
		if len(fields) != 3 {
			return false
		}
		return present && payload.Stringify(val) != strings.TrimSpace(fields[2])
	default:
		return false
	}
}
