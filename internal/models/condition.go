package models

// ConditionName is the stored tag of a transition condition.
type ConditionName string

const (
	CondAlways         ConditionName = "always"
	CondUserResponded  ConditionName = "user_responded"
	CondKeywordMatch   ConditionName = "keyword_match"
	CondFieldEquals    ConditionName = "field_equals"
	CondFieldNotEquals ConditionName = "field_not_equals"
	CondFieldExists    ConditionName = "field_exists"
)

// Condition is a transition guard. The set of implementations is closed.
type Condition interface {
	isCondition()
}

// Always matches unconditionally.
type Always struct{}

// UserResponded matches when the incoming text is non-empty.
type UserResponded struct{}

// KeywordMatch matches when the incoming text contains any keyword,
// case-insensitively.
type KeywordMatch struct {
	Keywords []string
}

// FieldEquals matches when the context holds Value under Field.
type FieldEquals struct {
	Field string
	Value Value
}

// FieldNotEquals matches when Field is missing or holds a different value.
type FieldNotEquals struct {
	Field string
	Value Value
}

// FieldExists matches when Field is set.
type FieldExists struct {
	Field string
}

// UnknownCondition carries a tag this build does not understand. It never
// matches.
type UnknownCondition struct {
	Name string
}

func (Always) isCondition() {}
func (UserResponded) isCondition() {}
func (KeywordMatch) isCondition() {}
func (FieldEquals) isCondition() {}
func (FieldNotEquals) isCondition() {}
func (FieldExists) isCondition() {}
func (UnknownCondition) isCondition() {}

// Transition moves a session to the step with order Next when When holds. A
// nil Next terminates the scenario.
type Transition struct {
	When Condition
	Next *int
}

// NextOrder returns a pointer to order, for building transitions.
func NextOrder(order int) *int {
	return &order
}
