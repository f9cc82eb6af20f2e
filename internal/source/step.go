package source

import (
	"fmt"
	"time"
)

// Action names one kind of interaction step.
type Action string

// Supported interaction actions.
const (
	ActionClick             Action = "click"
	ActionSelectOption      Action = "select_option"
	ActionSelectEachOption  Action = "select_each_option"
	ActionWaitForElement    Action = "wait_for_element"
	ActionClickEachMatching Action = "click_each_matching"
	ActionNavigateIntoFrame Action = "navigate_into_frame"
	ActionPressKey          Action = "press_key"
	ActionSleep             Action = "sleep"
	ActionNoop              Action = "noop"
)

// Step is one declarative UI interaction. Timeout bounds the step; Delay is
// the pause after each click or selection (or the whole pause for sleep).
type Step struct {
	Action   Action        `mapstructure:"action" json:"action"`
	Selector string        `mapstructure:"selector" json:"selector,omitempty"`
	Value    string        `mapstructure:"value" json:"value,omitempty"`
	Key      string        `mapstructure:"key" json:"key,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	Delay    time.Duration `mapstructure:"delay" json:"delay,omitempty"`
}

// Validate checks that the step carries the fields its action needs.
func (s Step) Validate() error {
	switch s.Action {
	case ActionClick, ActionSelectEachOption, ActionWaitForElement, ActionClickEachMatching, ActionNavigateIntoFrame:
		if s.Selector == "" {
			return fmt.Errorf("%s requires a selector", s.Action)
		}
	case ActionSelectOption:
		if s.Selector == "" || s.Value == "" {
			return fmt.Errorf("%s requires a selector and a value", s.Action)
		}
	case ActionPressKey:
		if s.Key == "" {
			return fmt.Errorf("%s requires a key", s.Action)
		}
	case ActionSleep:
		if s.Delay <= 0 {
			return fmt.Errorf("%s requires a positive delay", s.Action)
		}
	case ActionNoop:
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if s.Timeout < 0 || s.Delay < 0 {
		return fmt.Errorf("%s: negative timeout or delay", s.Action)
	}
	return nil
}
