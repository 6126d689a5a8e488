package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepType is the stored tag of a scenario step.
type StepType string

const (
	StepMessage    StepType = "message"
	StepInput      StepType = "input"
	StepGPTRequest StepType = "gpt_request"
	StepCondition  StepType = "condition"
	StepEnd        StepType = "end"

	// Tags accepted by the authoring tools but carrying no behavior of their
	// own; they only evaluate transitions.
	StepAction   StepType = "action"
	StepKeyboard StepType = "keyboard"
	StepDelay    StepType = "delay"
	StepAPICall  StepType = "api_call"
	StepJump     StepType = "jump"
)

// Defaults used when a step payload omits a field.
const (
	DefaultSaveAs        = "user_input"
	DefaultInputResponse = "Thanks for your answer!"
	DefaultMessageText   = "This message is not configured."
	DefaultEndMessage    = "Scenario finished. Thank you for chatting!"
)

// StepKind is the behavior-carrying payload of a step. The set of
// implementations is closed; unknown tags decode to PassThroughStep.
type StepKind interface {
	Type() StepType
	isStepKind()
}

// MessageStep replies with a templated text.
type MessageStep struct {
	Text string
}

// InputStep stores the incoming text under SaveAs and acknowledges it.
type InputStep struct {
	Prompt   string
	SaveAs   string
	Response string
}

// GPTRequestStep sends a templated prompt to the LLM and replies with the answer.
type GPTRequestStep struct {
	Prompt string
	SaveAs string
}

// ConditionStep picks the first branch whose condition holds against the
// session context.
type ConditionStep struct {
	Branches []Transition
}

// EndStep replies with a closing text and always terminates.
type EndStep struct {
	Message string
}

// PassThroughStep has no behavior beyond its transitions.
type PassThroughStep struct {
	Tag StepType
}

func (MessageStep) Type() StepType { return StepMessage }
func (InputStep) Type() StepType { return StepInput }
func (GPTRequestStep) Type() StepType { return StepGPTRequest }
func (ConditionStep) Type() StepType { return StepCondition }
func (EndStep) Type() StepType { return StepEnd }
func (s PassThroughStep) Type() StepType { return s.Tag }

func (MessageStep) isStepKind() {}
func (InputStep) isStepKind() {}
func (GPTRequestStep) isStepKind() {}
func (ConditionStep) isStepKind() {}
func (EndStep) isStepKind() {}
func (PassThroughStep) isStepKind() {}

// Step is one node of a scenario graph.
type Step struct {
	ScenarioID  string
	Order       int
	Name        string
	Kind        StepKind
	Transitions []Transition
	Active      bool
}

// Type returns the step's tag.
func (s Step) Type() StepType {
	if s.Kind == nil {
		return ""
	}
	return s.Kind.Type()
}

// Interactive reports whether the step waits for the next user message once
// reached. Condition and pass-through steps are evaluated immediately.
func (s Step) Interactive() bool {
	switch s.Kind.(type) {
	case ConditionStep, PassThroughStep:
		return false
	default:
		return true
	}
}

// stepData is the stored JSON payload of a step, as authored in scenario files.
type stepData struct {
	Text        string           `json:"text,omitempty"`
	Prompt      string           `json:"prompt,omitempty"`
	SaveAs      string           `json:"save_as,omitempty"`
	Response    string           `json:"response,omitempty"`
	Message     string           `json:"message,omitempty"`
	Conditions  []transitionData `json:"conditions,omitempty"`
	Transitions []transitionData `json:"transitions,omitempty"`
}

type transitionData struct {
	Condition string          `json:"condition,omitempty"`
	Operator  string          `json:"operator,omitempty"`
	Field     string          `json:"field,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Keywords  []string        `json:"keywords,omitempty"`
	Next      *int            `json:"next_step_order"`
}

// DecodeStep builds the step kind and transitions from a stored tag and JSON
// payload.
func DecodeStep(stepType StepType, data []byte) (StepKind, []Transition, error) {
	var d stepData
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidStepData, stepType, err)
		}
	}

	transitions, err := decodeTransitions(d.Transitions)
	if err != nil {
		return nil, nil, err
	}

	var kind StepKind
	switch stepType {
	case StepMessage:
		text := d.Text
		if text == "" {
			text = DefaultMessageText
		}
		kind = MessageStep{Text: text}
	case StepInput:
		saveAs := d.SaveAs
		if saveAs == "" {
			saveAs = DefaultSaveAs
		}
		response := d.Response
		if response == "" {
			response = DefaultInputResponse
		}
		kind = InputStep{Prompt: d.Text, SaveAs: saveAs, Response: response}
	case StepGPTRequest:
		kind = GPTRequestStep{Prompt: d.Prompt, SaveAs: d.SaveAs}
	case StepCondition:
		branches, err := decodeTransitions(d.Conditions)
		if err != nil {
			return nil, nil, err
		}
		// Condition steps authored with a plain transitions list behave the same.
		branches = append(branches, transitions...)
		kind = ConditionStep{Branches: branches}
		transitions = nil
	case StepEnd:
		msg := d.Message
		if msg == "" {
			msg = DefaultEndMessage
		}
		kind = EndStep{Message: msg}
		transitions = nil
	default:
		kind = PassThroughStep{Tag: stepType}
	}
	return kind, transitions, nil
}

// EncodeStep produces the stored tag and JSON payload for a step.
func EncodeStep(s Step) (StepType, []byte, error) {
	var d stepData
	switch k := s.Kind.(type) {
	case MessageStep:
		d.Text = k.Text
	case InputStep:
		d.Text = k.Prompt
		d.SaveAs = k.SaveAs
		d.Response = k.Response
	case GPTRequestStep:
		d.Prompt = k.Prompt
		d.SaveAs = k.SaveAs
	case ConditionStep:
		branches, err := encodeTransitions(k.Branches)
		if err != nil {
			return "", nil, err
		}
		d.Conditions = branches
	case EndStep:
		d.Message = k.Message
	case PassThroughStep:
	case nil:
		return "", nil, fmt.Errorf("%w: step %d has no kind", ErrInvalidStepData, s.Order)
	}
	transitions, err := encodeTransitions(s.Transitions)
	if err != nil {
		return "", nil, err
	}
	d.Transitions = transitions

	data, err := json.Marshal(d)
	if err != nil {
		return "", nil, err
	}
	return s.Type(), data, nil
}

func decodeTransitions(in []transitionData) ([]Transition, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]Transition, 0, len(in))
	for _, td := range in {
		cond, err := decodeCondition(td)
		if err != nil {
			return nil, err
		}
		out = append(out, Transition{When: cond, Next: td.Next})
	}
	return out, nil
}

func decodeCondition(td transitionData) (Condition, error) {
	name := td.Condition
	if name == "" && td.Operator != "" {
		name = operatorConditions[td.Operator]
		if name == "" {
			return UnknownCondition{Name: td.Operator}, nil
		}
	}
	if name == "" && td.Field != "" {
		name = string(CondFieldEquals)
	}

	switch ConditionName(name) {
	case CondAlways, "":
		return Always{}, nil
	case CondUserResponded:
		return UserResponded{}, nil
	case CondKeywordMatch:
		return KeywordMatch{Keywords: td.Keywords}, nil
	case CondFieldEquals, CondFieldNotEquals:
		var v Value
		if len(td.Value) > 0 {
			if err := v.UnmarshalJSON(td.Value); err != nil {
				return nil, fmt.Errorf("%w: value of %s: %v", ErrInvalidStepData, td.Field, err)
			}
		}
		if ConditionName(name) == CondFieldNotEquals {
			return FieldNotEquals{Field: td.Field, Value: v}, nil
		}
		return FieldEquals{Field: td.Field, Value: v}, nil
	case CondFieldExists:
		return FieldExists{Field: td.Field}, nil
	default:
		return UnknownCondition{Name: name}, nil
	}
}

var operatorConditions = map[string]string{
	"equals":     string(CondFieldEquals),
	"not_equals": string(CondFieldNotEquals),
	"exists":     string(CondFieldExists),
}

func encodeTransitions(in []Transition) ([]transitionData, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]transitionData, 0, len(in))
	for _, t := range in {
		td := transitionData{Next: t.Next}
		switch c := t.When.(type) {
		case Always, nil:
			td.Condition = string(CondAlways)
		case UserResponded:
			td.Condition = string(CondUserResponded)
		case KeywordMatch:
			td.Condition = string(CondKeywordMatch)
			td.Keywords = c.Keywords
		case FieldEquals:
			td.Condition = string(CondFieldEquals)
			td.Field = c.Field
			raw, err := c.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			td.Value = raw
		case FieldNotEquals:
			td.Condition = string(CondFieldNotEquals)
			td.Field = c.Field
			raw, err := c.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			td.Value = raw
		case FieldExists:
			td.Condition = string(CondFieldExists)
			td.Field = c.Field
		case UnknownCondition:
			td.Condition = c.Name
		}
		out = append(out, td)
	}
	return out, nil
}
