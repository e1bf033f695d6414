package dialogue

import (
	"maps"
	"strings"

	"jepcobird/pkg/bus"
)

type turnOp struct {
	say  string
	ask  *Step
	key  string
	val  string
	kind int
}

const (
	opSay = iota
	opAsk
	opSet
)

// Turn is the view a ReplyFunc gets of one reply. Calls are recorded and
// applied to the conversation in order once the func returns.
type Turn struct {
	Message bus.InboundMessage

	slots   map[string]string
	ops     []turnOp
	control Control
	decided bool
}

func newTurn(msg bus.InboundMessage, slots map[string]string) *Turn {
	return &Turn{Message: msg, slots: maps.Clone(slots)}
}

// Text returns the trimmed reply text.
func (t *Turn) Text() string {
	return strings.TrimSpace(t.Message.Content)
}

// Get returns a captured slot, including values set earlier in this turn.
func (t *Turn) Get(key string) (string, bool) {
	value, ok := t.slots[key]
	return value, ok
}

// Set stores value under key.
func (t *Turn) Set(key, value string) {
	if t.slots == nil {
		t.slots = make(map[string]string)
	}
	t.slots[key] = value
	t.ops = append(t.ops, turnOp{kind: opSet, key: key, val: value})
}

// Say sends text verbatim before the decided control runs.
func (t *Turn) Say(text string) {
	t.ops = append(t.ops, turnOp{kind: opSay, say: text})
}

// Ask appends a prompt with a reply continuation to the queue.
func (t *Turn) Ask(prompt string, fn ReplyFunc, opts ...AskOption) {
	step := newAsk(prompt, nil, fn, opts)
	t.ops = append(t.ops, turnOp{kind: opAsk, ask: &step})
}

// AskBranches appends a prompt evaluated against a branch set.
func (t *Turn) AskBranches(prompt string, branches []Branch, opts ...AskOption) {
	step := newAsk(prompt, branches, nil, opts)
	t.ops = append(t.ops, turnOp{kind: opAsk, ask: &step})
}

func (t *Turn) Next()   { t.decide(Next) }
func (t *Turn) Stop()   { t.decide(Stop) }
func (t *Turn) Repeat() { t.decide(Repeat) }

// decide keeps the first decision; later calls in the same turn are ignored.
func (t *Turn) decide(c Control) {
	if t.decided {
		return
	}
	t.control = c
	t.decided = true
}
