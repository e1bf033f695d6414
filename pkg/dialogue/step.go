package dialogue

import (
	"context"
	"strings"
	"text/template"

	"jepcobird/pkg/trigger"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether no further transitions can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusTimeout
}

// Control is what a conversation does after a reply has been handled.
type Control int

const (
	// Next continues with the following queued step, completing the
	// conversation when none are left.
	Next Control = iota
	// Stop abandons the remaining steps.
	Stop
	// Repeat re-issues the most recent prompt without advancing.
	Repeat
)

func (c Control) String() string {
	switch c {
	case Stop:
		return "stop"
	case Repeat:
		return "repeat"
	default:
		return "next"
	}
}

// Action is the data-only outcome of a matched branch.
type Action struct {
	Say  []string
	Set  map[string]string
	Then Control
}

// Branch is one entry of a branch set. Default entries match any reply and
// are only considered once every non-default entry has failed.
type Branch struct {
	Pattern trigger.Pattern
	Default bool
	Action  Action
}

// On builds a branch taken when the reply matches pattern.
func On(pattern trigger.Pattern, action Action) Branch {
	return Branch{Pattern: pattern, Action: action}
}

// Otherwise builds the fallback branch.
func Otherwise(action Action) Branch {
	return Branch{Default: true, Action: action}
}

// ReplyFunc handles the reply to an Ask step. It decides what happens next by
// calling Next, Stop or Repeat on the turn; returning without a decision keeps
// the conversation waiting on the same prompt.
type ReplyFunc func(ctx context.Context, turn *Turn)

// Step is one queued unit of a script. A step without Ask is a plain
// statement sent without waiting for a reply.
type Step struct {
	Text       string
	Ask        bool
	CaptureKey string
	Branches   []Branch
	OnReply    ReplyFunc
}

// AskOption customises an Ask step.
type AskOption func(*Step)

// WithCapture stores the reply text, exactly as received, under key before
// the reply is evaluated.
func WithCapture(key string) AskOption {
	return func(s *Step) {
		s.CaptureKey = strings.TrimSpace(key)
	}
}

func newAsk(prompt string, branches []Branch, fn ReplyFunc, opts []AskOption) Step {
	step := Step{Text: prompt, Ask: true, Branches: branches, OnReply: fn}
	for _, opt := range opts {
		opt(&step)
	}
	return step
}

// selectBranch evaluates non-default entries in declaration order, then falls
// back to the first default entry.
func selectBranch(branches []Branch, text string) (Branch, bool) {
	for _, branch := range branches {
		if branch.Default {
			continue
		}
		if _, ok := branch.Pattern.Match(text); ok {
			return branch, true
		}
	}

	for _, branch := range branches {
		if branch.Default {
			return branch, true
		}
	}

	return Branch{}, false
}

var promptFuncs = template.FuncMap{"trim": strings.TrimSpace}

// render expands {{.key}} references to captured slots. Only script text is
// rendered; slot values are substituted as data.
func render(text string, slots map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	tmpl, err := template.New("prompt").Option("missingkey=zero").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return text
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, slots); err != nil {
		return text
	}
	return b.String()
}
