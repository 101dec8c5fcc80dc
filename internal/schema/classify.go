package schema

// Classified is the rule registry partitioned strictly by each rule's
// kind tag. No inference happens here: a rule filed under the wrong
// registry map is re-bucketed by its tag, nothing more.
type Classified struct {
	Validation    map[string]*Rule
	Computation   map[string]*Rule
	BusinessLogic map[string]*Rule
}

// ClassifyRules partitions the schema's rule registry by kind.
func ClassifyRules(s *Schema) Classified {
	cls := Classified{
		Validation:    make(map[string]*Rule),
		Computation:   make(map[string]*Rule),
		BusinessLogic: make(map[string]*Rule),
	}
	for _, m := range []map[string]*Rule{s.Rules.Validation, s.Rules.Computation, s.Rules.BusinessLogic} {
		for id, rule := range m {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case KindComputation:
				cls.Computation[id] = rule
			case KindBusinessLogic:
				cls.BusinessLogic[id] = rule
			default:
				// Untagged rules default to validation, the only kind
				// that runs locally and therefore fails safe.
				cls.Validation[id] = rule
			}
		}
	}
	return cls
}
