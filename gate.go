package rowguard

import (
	"fmt"
	"time"
)

// ============================================================================
// CAPABILITY GATE
// ============================================================================

// Authorize is the coarse, row-independent allow/deny check. It is a pure
// function of the session and the table's effective coarse rule; it never
// inspects row data, and on Deny the storage layer is never touched.
//
// owner and custom rules require row evaluation, so at the gate they reduce
// to "is there a principal at all": without an identity the condition can
// never hold and the request is denied immediately.
func (s *PolicySet) Authorize(sess Session, table string, action Action) *Decision {
	return s.authorize(sess, table, action, false)
}

// Explain is Authorize with a step-by-step trace attached to the decision.
func (s *PolicySet) Explain(sess Session, table string, action Action) *Decision {
	return s.authorize(sess, table, action, true)
}

func (s *PolicySet) authorize(sess Session, table string, action Action, includeTrace bool) *Decision {
	decision := &Decision{Timestamp: time.Now()}
	if includeTrace {
		decision.Trace = make([]string, 0, 4)
	}

	tp, ok := s.tables[table]
	if !ok {
		decision.Reason = "unknown table"
		if includeTrace {
			decision.Trace = append(decision.Trace, fmt.Sprintf("DENY: table %q not in compiled schema", table))
		}
		return decision
	}
	if !ValidAction(action) {
		decision.Reason = "unknown action"
		return decision
	}

	rule := tp.gate[action]
	if rule == nil {
		decision.Allowed = true
		decision.Reason = "unrestricted"
		if includeTrace {
			decision.Trace = append(decision.Trace, "ALLOW: no coarse rule installed for action")
		}
		return decision
	}

	decision.MatchedBy = tp.gateSource[action] + ":" + string(rule.Type)
	if includeTrace {
		decision.Trace = append(decision.Trace, fmt.Sprintf("rule %s from %s", rule.Type, tp.gateSource[action]))
	}

	if ruleSatisfied(rule, sess) {
		decision.Allowed = true
		decision.Reason = string(rule.Type) + " rule satisfied"
		if includeTrace {
			decision.Trace = append(decision.Trace, "ALLOW: "+decision.Reason)
		}
	} else {
		decision.Reason = denyReason(rule, sess)
		if includeTrace {
			decision.Trace = append(decision.Trace, "DENY: "+decision.Reason)
		}
	}
	return decision
}

// ruleSatisfied evaluates the row-independent part of a rule. The same check
// backs the gate and the field-level masks.
func ruleSatisfied(rule *PermissionRule, sess Session) bool {
	switch rule.Type {
	case RulePublic:
		return true
	case RuleAuthenticated:
		return SessionAuthenticated(sess)
	case RuleRoles:
		if !SessionAuthenticated(sess) {
			return false
		}
		for _, have := range sess.Roles() {
			for _, want := range rule.Roles {
				if have == want {
					return true
				}
			}
		}
		return false
	case RuleOwner, RuleCustom:
		// row-level evaluation happens at the storage layer; the gate only
		// requires an identity to evaluate against
		return SessionAuthenticated(sess)
	}
	return false
}

func denyReason(rule *PermissionRule, sess Session) string {
	if !SessionAuthenticated(sess) {
		return "authentication required"
	}
	if rule.Type == RuleRoles {
		return "role not permitted"
	}
	return string(rule.Type) + " rule not satisfied"
}
