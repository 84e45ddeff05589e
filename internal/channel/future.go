package channel

import (
	"context"
	"encoding/json"
	"sync"
)

// Future is the single-resolution result of one Do call.
type Future struct {
	id      string
	command string

	once    sync.Once
	done    chan struct{}
	payload json.RawMessage
	err     error
}

func newFuture(id, command string) *Future {
	return &Future{id: id, command: command, done: make(chan struct{})}
}

// ID returns the correlation id carried on the wire.
func (f *Future) ID() string { return f.id }

// Command returns the command name.
func (f *Future) Command() string { return f.command }

// Done is closed once the future resolves or fails.
func (f *Future) Done() <-chan struct{} { return f.done }

func (f *Future) complete(payload json.RawMessage, err error) bool {
	completed := false
	f.once.Do(func() {
		f.payload, f.err = payload, err
		close(f.done)
		completed = true
	})
	return completed
}

func (f *Future) resolve(payload json.RawMessage) bool { return f.complete(payload, nil) }

func (f *Future) fail(err error) bool { return f.complete(nil, err) }

// Wait blocks until the response arrives or ctx ends. Giving up on ctx does
// not withdraw the command; a later response still resolves the future.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits and unmarshals the response payload into v.
func (f *Future) Decode(ctx context.Context, v interface{}) error {
	raw, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if len(raw) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Then runs fn with the payload once the future resolves successfully.
// fn runs on its own goroutine; it never runs if the future fails.
func (f *Future) Then(fn func(payload json.RawMessage)) {
	go func() {
		<-f.done
		if f.err == nil {
			fn(f.payload)
		}
	}()
}

// Settled reports whether the future has resolved or failed.
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
