package relay

import "github.com/vmihailenco/msgpack/v5"

// Op names a relay wire operation.
type Op string

const (
	OpSet        Op = "set"
	OpPush       Op = "push"
	OpRemove     Op = "remove"
	OpWatchValue Op = "watch_value"
	OpWatchChild Op = "watch_child"
	OpUnwatch    Op = "unwatch"

	OpAck     Op = "ack"
	OpEvent   Op = "event"
	OpRemoved Op = "removed"
)

// Frame is the unit exchanged over the relay websocket. Requests carry an
// ID echoed by the matching ack; events carry the Sub id chosen by the
// client when it opened the watch.
type Frame struct {
	ID    uint64             `msgpack:"id,omitempty"`
	Op    Op                 `msgpack:"op"`
	Path  string             `msgpack:"path,omitempty"`
	Key   string             `msgpack:"key,omitempty"`
	Value msgpack.RawMessage `msgpack:"value,omitempty"`
	Sub   uint64             `msgpack:"sub,omitempty"`
	Error string             `msgpack:"error,omitempty"`
}

func encodeFrame(f *Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

func decodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func eventFrame(sub uint64, ev Event) *Frame {
	f := &Frame{Op: OpEvent, Sub: sub, Path: ev.Path, Key: ev.Key, Value: ev.Value}
	if ev.Removed {
		f.Op = OpRemoved
		f.Value = nil
	}
	return f
}

func (f *Frame) event() Event {
	return Event{
		Path:    f.Path,
		Key:     f.Key,
		Value:   f.Value,
		Removed: f.Op == OpRemoved,
	}
}
