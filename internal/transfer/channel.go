package transfer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Message is one message received from the peer. Text carries a control
// record; binary carries a chunk. The receiver owns Data.
type Message struct {
	Text bool
	Data []byte
}

// Conn is the sending half of a transfer channel.
type Conn interface {
	SendText(text string) error
	// SendBinary blocks while the outgoing buffer is above the high-water
	// mark.
	SendBinary(ctx context.Context, data []byte) error
	IsOpen() bool
}

// Inbound is the receiving half of a transfer channel.
type Inbound interface {
	Messages() <-chan Message
	Closed() <-chan struct{}
}

// DataChannel adapts a pion data channel to Conn and Inbound. It must be
// created before the channel opens so no message is missed.
type DataChannel struct {
	dc     *webrtc.DataChannel
	logger *slog.Logger

	messages chan Message
	ready    chan struct{}
	closed   chan struct{}
	lowWater chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
}

var (
	_ Conn    = (*DataChannel)(nil)
	_ Inbound = (*DataChannel)(nil)
)

func NewDataChannel(dc *webrtc.DataChannel, logger *slog.Logger) *DataChannel {
	c := &DataChannel{
		dc:       dc,
		logger:   logger.With("channel", dc.Label()),
		messages: make(chan Message, 256),
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
		lowWater: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(LowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case c.lowWater <- struct{}{}:
		default:
		}
	})
	dc.OnOpen(func() {
		c.logger.Debug("data channel open")
		c.readyOnce.Do(func() { close(c.ready) })
	})
	dc.OnClose(func() {
		c.logger.Debug("data channel closed")
		c.markClosed()
	})
	dc.OnError(func(err error) {
		c.logger.Warn("data channel error", "err", err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case c.messages <- Message{Text: msg.IsString, Data: msg.Data}:
		case <-c.closed:
		}
	})

	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.readyOnce.Do(func() { close(c.ready) })
	}
	return c
}

// Ready is closed once the channel opens.
func (c *DataChannel) Ready() <-chan struct{} {
	return c.ready
}

// Closed is closed once the channel stops carrying messages.
func (c *DataChannel) Closed() <-chan struct{} {
	return c.closed
}

func (c *DataChannel) Messages() <-chan Message {
	return c.messages
}

// IsOpen reports false once the channel was closed or aborted, even if the
// transport has not noticed yet.
func (c *DataChannel) IsOpen() bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *DataChannel) SendText(text string) error {
	if !c.IsOpen() {
		return NewError("send text", ErrChannelNotReady)
	}
	return c.dc.SendText(text)
}

func (c *DataChannel) SendBinary(ctx context.Context, data []byte) error {
	if err := c.waitForWindow(ctx); err != nil {
		return err
	}
	if !c.IsOpen() {
		return NewError("send chunk", ErrTransferAborted)
	}
	return c.dc.Send(data)
}

// Flush waits until everything queued has left the local buffer.
func (c *DataChannel) Flush(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(DrainTimeout)

	for c.dc.BufferedAmount() > 0 {
		if !c.IsOpen() {
			return NewError("flush", ErrTransferAborted)
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return WrapError("flush", ErrBufferTimeout, "buffer not draining")
		case <-ctx.Done():
			return WrapError("flush", ErrTransferAborted, ctx.Err().Error())
		}
	}
	return nil
}

// Close closes the underlying pion channel.
func (c *DataChannel) Close() error {
	c.markClosed()
	return c.dc.Close()
}

// Abort marks the channel closed without touching the transport. It is used
// when the peer connection is gone and pion will not report the close.
func (c *DataChannel) Abort() {
	c.logger.Debug("data channel aborted")
	c.markClosed()
}

func (c *DataChannel) waitForWindow(ctx context.Context) error {
	for c.dc.BufferedAmount() >= HighWaterMark {
		buffered := c.dc.BufferedAmount()
		select {
		case <-c.lowWater:
		case <-c.closed:
			return NewError("send chunk", ErrTransferAborted)
		case <-ctx.Done():
			return WrapError("send chunk", ErrTransferAborted, ctx.Err().Error())
		case <-time.After(SendTimeout):
			if c.dc.BufferedAmount() < buffered {
				continue
			}
			return WrapError("send chunk", ErrBufferTimeout, "buffer not draining")
		}
	}
	return nil
}

func (c *DataChannel) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}
