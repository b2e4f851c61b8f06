package netstack

// SerialTask is a reference [Task] implementation: a single goroutine
// draining a channel of posted closures one at a time, run to completion,
// matching the "cooperative task" role a real TCP/IP stack's event loop
// plays (lwIP's tcpip thread, in the component this was ported from).
//
// It exists for tests and for cmd/pxpingd's demo wiring; a production
// integration would instead post directly onto the real stack's own
// message loop (see [Task]'s doc comment).
type SerialTask struct {
	mailbox chan func()
	done    chan struct{}
}

// NewSerialTask starts the task's run loop and returns a handle to it.
// capacity bounds how many posted closures may be queued before Post blocks
// the caller.
func NewSerialTask(capacity int) *SerialTask {
	t := &SerialTask{
		mailbox: make(chan func(), capacity),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *SerialTask) run() {
	defer close(t.done)
	for fn := range t.mailbox {
		fn()
	}
}

// Post implements Task.
func (t *SerialTask) Post(fn func()) {
	t.mailbox <- fn
}

// Close stops accepting new work and waits for the run loop to drain and
// exit.
func (t *SerialTask) Close() {
	close(t.mailbox)
	<-t.done
}
