package wsrelay

// Hooks are the interception points the relay invokes during a session. All
// callbacks are synchronous: the relay does not proceed until they return.
// Nil entries are skipped.
//
// Exactly one of End and Error fires per flow, after Start and before the
// layer drains to its terminal state. Message fires once per completed
// message, before forwarding; the hook may rewrite the latest message's
// content or mark it killed.
type Hooks struct {
	Start   func(*Flow)
	Message func(*Flow)
	End     func(*Flow)
	Error   func(*Flow)
}

func (h Hooks) start(f *Flow) {
	if h.Start != nil {
		h.Start(f)
	}
}

func (h Hooks) message(f *Flow) {
	if h.Message != nil {
		h.Message(f)
	}
}

func (h Hooks) end(f *Flow) {
	if h.End != nil {
		h.End(f)
	}
}

func (h Hooks) error(f *Flow) {
	if h.Error != nil {
		h.Error(f)
	}
}
