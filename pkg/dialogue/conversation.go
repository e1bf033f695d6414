package dialogue

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"jepcobird/pkg/bus"
)

// Conversation is a scripted exchange with one user in one chat.
type Conversation struct {
	ID        string
	Key       string
	CreatedAt time.Time

	engine *Engine
	origin bus.InboundMessage

	mu       sync.Mutex
	status   Status
	started  bool
	queue    []Step
	current  *Step
	last     *Step
	retries  int
	slots    map[string]string
	timer    *time.Timer
	timerGen uint64
	onEnd    []func(*Conversation)
}

// effects is the output of one locked transition, flushed after unlock.
type effects struct {
	out    []bus.OutboundMessage
	events []bus.Event
	ended  bool
}

// Origin is the message that opened the conversation.
func (c *Conversation) Origin() bus.InboundMessage {
	return c.origin
}

func (c *Conversation) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ExtractResponse returns the reply captured under key.
func (c *Conversation) ExtractResponse(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.slots[key]
	return value, ok
}

// Slots returns a copy of every captured value.
func (c *Conversation) Slots() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.slots)
}

// Set stores a slot value directly.
func (c *Conversation) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[key] = value
}

// OnEnd registers fn to run once the conversation reaches a terminal status.
// Registering on an ended conversation runs fn immediately.
func (c *Conversation) OnEnd(fn func(*Conversation)) {
	if fn == nil {
		return
	}

	c.mu.Lock()
	if !c.status.Terminal() {
		c.onEnd = append(c.onEnd, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(c)
}

// Say queues text before Begin and sends it straight away afterwards.
func (c *Conversation) Say(ctx context.Context, text string) {
	c.apply(ctx, func(fx *effects) {
		if c.status.Terminal() {
			return
		}
		if !c.started {
			c.queue = append(c.queue, Step{Text: text})
			return
		}
		fx.say(c, text)
	})
}

// Ask queues a prompt whose reply is handled by fn.
func (c *Conversation) Ask(prompt string, fn ReplyFunc, opts ...AskOption) {
	c.enqueue(newAsk(prompt, nil, fn, opts))
}

// AskBranches queues a prompt whose reply is matched against branches.
func (c *Conversation) AskBranches(prompt string, branches []Branch, opts ...AskOption) {
	c.enqueue(newAsk(prompt, branches, nil, opts))
}

func (c *Conversation) enqueue(step Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Terminal() {
		return
	}
	c.queue = append(c.queue, step)
}

// Begin sends queued statements up to and including the first prompt.
func (c *Conversation) Begin(ctx context.Context) {
	c.Next(ctx)
}

// Next moves on to the following queued step.
func (c *Conversation) Next(ctx context.Context) {
	c.apply(ctx, func(fx *effects) {
		c.nextLocked(fx)
	})
}

// Stop ends the conversation as stopped.
func (c *Conversation) Stop(ctx context.Context) {
	c.apply(ctx, func(fx *effects) {
		c.finishLocked(fx, StatusStopped)
	})
}

// Repeat re-issues the most recent prompt.
func (c *Conversation) Repeat(ctx context.Context) {
	c.apply(ctx, func(fx *effects) {
		c.repeatLocked(fx)
	})
}

func (c *Conversation) advance(ctx context.Context, msg bus.InboundMessage) {
	text := strings.TrimSpace(msg.Content)

	c.mu.Lock()
	step := c.current
	if c.status.Terminal() || step == nil {
		c.mu.Unlock()
		return
	}

	c.stopTimerLocked()
	c.current = nil
	if step.CaptureKey != "" {
		c.slots[step.CaptureKey] = msg.Content
	}

	if step.OnReply == nil {
		var fx effects
		fx.events = append(fx.events, c.advancedEvent(msg, ""))
		c.branchLocked(&fx, step, text)
		c.mu.Unlock()
		c.flush(ctx, fx)
		return
	}

	turn := newTurn(msg, c.slots)
	c.mu.Unlock()

	step.OnReply(ctx, turn)

	c.apply(ctx, func(fx *effects) {
		fx.events = append(fx.events, c.advancedEvent(msg, ""))
		c.turnLocked(fx, step, turn)
	})
}

func (c *Conversation) branchLocked(fx *effects, step *Step, text string) {
	branch, ok := selectBranch(step.Branches, text)
	if !ok {
		c.stallLocked(fx, step)
		return
	}

	if n := len(fx.events); n > 0 {
		fx.events[n-1].Payload["control"] = branch.Action.Then.String()
	}
	for key, value := range branch.Action.Set {
		c.slots[key] = value
	}
	for _, text := range branch.Action.Say {
		fx.say(c, render(text, c.slots))
	}
	c.controlLocked(fx, branch.Action.Then)
}

func (c *Conversation) turnLocked(fx *effects, step *Step, turn *Turn) {
	if c.status.Terminal() {
		return
	}

	var asks []Step
	for _, op := range turn.ops {
		switch op.kind {
		case opSay:
			fx.say(c, op.say)
		case opSet:
			c.slots[op.key] = op.val
		case opAsk:
			asks = append(asks, *op.ask)
		}
	}
	if len(asks) > 0 {
		c.queue = append(asks, c.queue...)
	}

	if !turn.decided {
		c.stallLocked(fx, step)
		return
	}
	if n := len(fx.events); n > 0 {
		fx.events[n-1].Payload["control"] = turn.control.String()
	}
	c.controlLocked(fx, turn.control)
}

func (c *Conversation) controlLocked(fx *effects, control Control) {
	switch control {
	case Stop:
		c.finishLocked(fx, StatusStopped)
	case Repeat:
		c.repeatLocked(fx)
	default:
		c.nextLocked(fx)
	}
}

// stallLocked keeps waiting on step without re-prompting.
func (c *Conversation) stallLocked(fx *effects, step *Step) {
	if c.exhaustedLocked() {
		c.engine.log.Debug("Conversation retries exhausted", "conversation_id", c.ID)
		c.finishLocked(fx, StatusStopped)
		return
	}
	c.current = step
	c.armTimerLocked()
}

func (c *Conversation) exhaustedLocked() bool {
	c.retries++
	return c.engine.maxRetries > 0 && c.retries > c.engine.maxRetries
}

func (c *Conversation) nextLocked(fx *effects) {
	if c.status.Terminal() {
		return
	}
	c.started = true

	for len(c.queue) > 0 {
		step := c.queue[0]
		c.queue = c.queue[1:]
		if !step.Ask {
			fx.say(c, render(step.Text, c.slots))
			continue
		}
		c.retries = 0
		c.issueLocked(fx, &step)
		return
	}

	c.finishLocked(fx, StatusCompleted)
}

func (c *Conversation) repeatLocked(fx *effects) {
	if c.status.Terminal() {
		return
	}
	if c.last == nil {
		c.nextLocked(fx)
		return
	}
	if c.exhaustedLocked() {
		c.finishLocked(fx, StatusStopped)
		return
	}
	c.issueLocked(fx, c.last)
}

func (c *Conversation) issueLocked(fx *effects, step *Step) {
	fx.say(c, render(step.Text, c.slots))
	c.current = step
	c.last = step
	c.armTimerLocked()
}

func (c *Conversation) finishLocked(fx *effects, status Status) {
	if c.status.Terminal() {
		return
	}

	c.status = status
	c.current = nil
	c.queue = nil
	c.stopTimerLocked()
	c.engine.release(c)

	event := c.event(bus.EventConversationEnded)
	event.Status = string(status)
	fx.events = append(fx.events, event)
	fx.ended = true
}

func (c *Conversation) armTimerLocked() {
	c.stopTimerLocked()
	if c.engine.timeout <= 0 {
		return
	}

	c.timerGen++
	gen := c.timerGen
	c.timer = time.AfterFunc(c.engine.timeout, func() {
		c.expire(gen)
	})
}

func (c *Conversation) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
}

func (c *Conversation) expire(gen uint64) {
	c.apply(context.Background(), func(fx *effects) {
		if gen != c.timerGen || c.current == nil {
			return
		}
		c.engine.log.Debug("Conversation timed out", "conversation_id", c.ID)
		c.finishLocked(fx, StatusTimeout)
	})
}

func (c *Conversation) apply(ctx context.Context, fn func(*effects)) {
	var fx effects
	c.mu.Lock()
	fn(&fx)
	c.mu.Unlock()
	c.flush(ctx, fx)
}

// flush delivers output in order, then runs end callbacks with no lock held.
func (c *Conversation) flush(ctx context.Context, fx effects) {
	for _, msg := range fx.out {
		c.engine.send(ctx, c, msg)
	}
	for _, event := range fx.events {
		c.engine.publish(event)
	}
	if !fx.ended {
		return
	}

	c.mu.Lock()
	callbacks := c.onEnd
	c.onEnd = nil
	c.mu.Unlock()

	c.engine.log.Debug("Conversation ended", "conversation_id", c.ID, "status", string(c.Status()))
	for _, fn := range callbacks {
		fn(c)
	}
}

func (c *Conversation) event(eventType bus.EventType) bus.Event {
	event := bus.EventFor(eventType, c.origin)
	event.ConversationID = c.ID
	return event
}

func (c *Conversation) advancedEvent(msg bus.InboundMessage, control string) bus.Event {
	event := bus.EventFor(bus.EventConversationAdvance, msg)
	event.ConversationID = c.ID
	event.Payload = map[string]string{
		"control": control,
		"retries": strconv.Itoa(c.retries),
	}
	return event
}

func (fx *effects) say(c *Conversation, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	fx.out = append(fx.out, bus.Reply(c.origin, text))
}
