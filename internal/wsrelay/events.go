package wsrelay

// Event is an input delivered to a Layer by the surrounding proxy's dispatch
// loop. At most one event is handled at a time per layer.
type Event interface {
	relayEvent()
}

// Start is delivered exactly once, before any connection event, after both
// handshakes completed.
type Start struct{}

// DataReceived carries raw wire bytes read from one leg.
type DataReceived struct {
	Endpoint *Endpoint
	Data     []byte
}

// ConnectionClosed signals that one leg's transport connection closed.
type ConnectionClosed struct {
	Endpoint *Endpoint
}

func (Start) relayEvent()             {}
func (*DataReceived) relayEvent()     {}
func (*ConnectionClosed) relayEvent() {}

// Command is an output the caller must execute, in order, against the
// transport. The layer never touches sockets itself.
type Command interface {
	relayCommand()
}

// SendData asks the caller to write wire bytes to one leg.
type SendData struct {
	Endpoint *Endpoint
	Data     []byte
}

// CloseConnection asks the caller to close one leg's transport connection.
type CloseConnection struct {
	Endpoint *Endpoint
}

func (*SendData) relayCommand()        {}
func (*CloseConnection) relayCommand() {}
