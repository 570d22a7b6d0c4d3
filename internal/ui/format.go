package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/ocxo/spilink/internal/protocol"
)

// TimeLayout is the timestamp printed in front of each message.
const TimeLayout = "15:04:05.000"

// FormatMessage renders msg on one line without styling:
//
//	Oscillator Interval  f_cpu=10000000 interval=1 variance=-3
func FormatMessage(msg *protocol.Message) string {
	var b strings.Builder
	b.WriteString(msg.Type.Name)
	for _, v := range msg.Values {
		fmt.Fprintf(&b, " %s=%s", v.Field.Name, v.String())
	}
	return b.String()
}

// RenderMessage is FormatMessage with a timestamp and colors.
func RenderMessage(at time.Time, msg *protocol.Message) string {
	var b strings.Builder
	b.WriteString(TimestampStyle.Render(at.Format(TimeLayout)))
	b.WriteString(" ")
	b.WriteString(MessageNameStyle.Render(msg.Type.Name))
	for _, v := range msg.Values {
		b.WriteString(" ")
		b.WriteString(FieldKeyStyle.Render(v.Field.Name + "="))
		b.WriteString(FieldValueStyle.Render(v.String()))
	}
	return b.String()
}
