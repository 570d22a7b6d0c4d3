package protocol

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ocxo/spilink/internal/logging"
)

// Sink receives decoded messages. HandleMessage runs synchronously on the
// polling goroutine, so implementations must return quickly and hand longer
// work to something else.
type Sink interface {
	HandleMessage(msg *Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg *Message)

// HandleMessage calls f(msg).
func (f SinkFunc) HandleMessage(msg *Message) {
	f(msg)
}

// LogSink writes every message to the structured log.
type LogSink struct {
	// Source labels the stream in log fields (device path, bridge URL, capture file)
	Source string
}

// HandleMessage logs the decoded fields of msg.
func (s LogSink) HandleMessage(msg *Message) {
	fields := []zap.Field{
		zap.String("source", s.Source),
		zap.String("type", fmt.Sprintf("0x%02x", msg.TypeID())),
		zap.String("name", msg.Type.Name),
	}
	for _, v := range msg.Values {
		if v.Field.Signed {
			fields = append(fields, zap.Int64(v.Field.Name, v.Int()))
		} else {
			fields = append(fields, zap.Uint64(v.Field.Name, v.Uint()))
		}
	}
	fields = append(fields, zap.String("hex", hex.EncodeToString(msg.Raw)))

	logging.Info("Decoded message", fields...)
}

// MultiSink delivers each message to every sink in order.
type MultiSink []Sink

// HandleMessage fans msg out.
func (m MultiSink) HandleMessage(msg *Message) {
	for _, s := range m {
		if s != nil {
			s.HandleMessage(msg)
		}
	}
}

// ChannelSink forwards messages to a channel without blocking. When the
// channel is full the message is dropped and counted.
type ChannelSink struct {
	C       chan<- *Message
	dropped atomic.Uint64
}

// NewChannelSink returns a sink feeding ch.
func NewChannelSink(ch chan<- *Message) *ChannelSink {
	return &ChannelSink{C: ch}
}

// HandleMessage offers msg to the channel.
func (s *ChannelSink) HandleMessage(msg *Message) {
	select {
	case s.C <- msg:
	default:
		n := s.dropped.Add(1)
		logging.Debug("Message dropped, consumer is behind",
			zap.String("name", msg.Type.Name),
			zap.Uint64("dropped_total", n),
		)
	}
}

// Dropped returns the number of messages that did not fit in the channel.
func (s *ChannelSink) Dropped() uint64 {
	return s.dropped.Load()
}

// discardSink is used when a decoder is built without a sink.
type discardSink struct{}

func (discardSink) HandleMessage(*Message) {}
