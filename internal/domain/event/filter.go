package event

// Clause matches events by type membership and envelope field equality.
//
// A clause matches an event when the event's type is a member of Types AND
// every predicate key has an equal value on the event. An empty Types set
// never matches anything. A nil Predicates map matches on type alone. A
// predicate referencing a field the event does not carry never matches.
type Clause struct {
	Types      []Type
	Predicates map[string]string
}

// Filter is a disjunction of clauses: an event matches the filter when it
// matches any clause. This is the single selection primitive behind every
// event store query, shared by both aggregate families.
type Filter []Clause

// Matches reports whether the event satisfies any clause of the filter.
func (f Filter) Matches(evt Event) bool {
	for _, clause := range f {
		if clause.Matches(evt) {
			return true
		}
	}
	return false
}

// Matches reports whether the event satisfies this clause.
func (c Clause) Matches(evt Event) bool {
	matched := false
	for _, t := range c.Types {
		if evt.Type == t {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for key, want := range c.Predicates {
		got, ok := evt.Field(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}
