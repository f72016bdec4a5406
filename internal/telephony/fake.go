package telephony

import (
	"context"
	"strings"
	"sync"
)

// FakeControl is a scripted in-memory switch useful for tests.
// It is not intended for production use.
//
// By default originate blocks until the channel is killed (then fails with
// ORIGINATOR_CANCEL) or ctx is canceled, dumps report DIALING, and kills succeed.
type FakeControl struct {
	OnOriginate func(ctx context.Context, command string) (string, error)
	OnDump      func(ctx context.Context, command string) (string, error)
	OnKill      func(ctx context.Context, command string) (string, error)
	// Replies answers any other command verbatim by full command text.
	Replies map[string]string

	mu       sync.Mutex
	commands []string
	killed   map[string]chan struct{}
}

func NewFakeControl() *FakeControl {
	return &FakeControl{killed: map[string]chan struct{}{}, Replies: map[string]string{}}
}

func (f *FakeControl) Execute(ctx context.Context, command string) (string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	switch commandVerb(command) {
	case "originate":
		if f.OnOriginate != nil {
			return f.OnOriginate(ctx, command)
		}
		return f.AwaitKill(ctx, command)
	case "uuid_dump":
		if f.OnDump != nil {
			return f.OnDump(ctx, command)
		}
		return "Channel-State: CS_EXECUTE\nChannel-Call-State: DIALING", nil
	case "uuid_kill":
		id := strings.TrimSpace(strings.TrimPrefix(command, "uuid_kill"))
		f.mu.Lock()
		ch := f.signalLocked(id)
		select {
		case <-ch:
		default:
			close(ch)
		}
		f.mu.Unlock()
		if f.OnKill != nil {
			return f.OnKill(ctx, command)
		}
		return "+OK", nil
	}
	f.mu.Lock()
	reply, ok := f.Replies[command]
	f.mu.Unlock()
	if ok {
		return reply, nil
	}
	return "", &CommandError{Command: command, Message: "unsupported command"}
}

// AwaitKill is the default originate behavior, exposed so hooks can fall back to it.
func (f *FakeControl) AwaitKill(ctx context.Context, command string) (string, error) {
	select {
	case <-f.killSignal(originateID(command)):
		return "", &CommandError{Command: command, Message: "ORIGINATOR_CANCEL"}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *FakeControl) killSignal(id string) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signalLocked(id)
}

func (f *FakeControl) signalLocked(id string) chan struct{} {
	if f.killed == nil {
		f.killed = map[string]chan struct{}{}
	}
	ch, ok := f.killed[id]
	if !ok {
		ch = make(chan struct{})
		f.killed[id] = ch
	}
	return ch
}

// Commands returns every command received so far with the given verb ("" for all).
func (f *FakeControl) Commands(verb string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.commands))
	for _, c := range f.commands {
		if verb == "" || commandVerb(c) == verb {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many commands with the given verb were received.
func (f *FakeControl) Count(verb string) int { return len(f.Commands(verb)) }

// originateID extracts origination_uuid from an originate command.
func originateID(command string) string {
	const key = "origination_uuid="
	i := strings.Index(command, key)
	if i < 0 {
		return ""
	}
	rest := command[i+len(key):]
	if j := strings.IndexAny(rest, ",}"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
