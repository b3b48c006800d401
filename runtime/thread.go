package runtime

import (
	"context"
	"slices"

	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/program"
)

// mailboxSize bounds the messages queued for one thread; senders block
// while the inbox is full.
const mailboxSize = 64

// ErrThreadFinished is returned by Send once the receiving thread is done.
var ErrThreadFinished = errors.InvalidInput(errors.PhaseRuntime, "thread has finished")

// Thread is a function running on its own machine. A trap ends only the
// thread and is reported by Join.
type Thread struct {
	fn      *program.Function
	parent  *Thread // nil for threads started by the host
	done    chan struct{}
	inbox   chan []byte
	results []uint64
	err     error
	id      uint64
}

// ID returns the id reported by the thread_id environment call.
func (t *Thread) ID() uint64 {
	return t.id
}

// Func returns the function the thread runs.
func (t *Thread) Func() *program.Function {
	return t.fn
}

// Done is closed when the thread has finished.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Running reports whether the thread has not finished yet.
func (t *Thread) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Join waits for the thread and returns its results or its trap.
func (t *Thread) Join() ([]uint64, error) {
	<-t.done
	return t.results, t.err
}

// Send queues a copy of msg for the thread_receive calls of t. It fails
// when t has finished.
func (t *Thread) Send(ctx context.Context, msg []byte) error {
	if !t.Running() {
		return ErrThreadFinished
	}
	select {
	case t.inbox <- slices.Clone(msg):
		return nil
	case <-t.done:
		return ErrThreadFinished
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive waits for the next message. ok is false when the parent has
// finished and nothing is queued.
func (t *Thread) receive(ctx context.Context) (msg []byte, ok bool, err error) {
	var parentDone <-chan struct{}
	if t.parent != nil {
		parentDone = t.parent.done
	}
	select {
	case msg = <-t.inbox:
		return msg, true, nil
	case <-parentDone:
		select {
		case msg = <-t.inbox:
			return msg, true, nil
		default:
			return nil, false, nil
		}
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
