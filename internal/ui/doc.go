// Package ui renders decoded messages in the terminal.
//
// Two surfaces share the same Lipgloss styles:
//
//   - Printer: line-at-a-time output for `spilink poll` and `spilink replay`.
//     It implements protocol.Sink and falls back to plain text when stdout is
//     not a terminal.
//   - MonitorModel: a Bubble Tea model for `spilink monitor` showing the most
//     recent messages and the poll loop counters.
//
// # Feeding the monitor
//
// The poll loop and the TUI run on different goroutines. Decoded messages
// travel through a protocol.ChannelSink, which never blocks the poller;
// counters are pushed with Program.Send from the poller's OnPoll hook:
//
//	ch := make(chan *protocol.Message, 256)
//	sink := protocol.NewChannelSink(ch)
//	prog := tea.NewProgram(ui.NewMonitorModel(source, ch), tea.WithAltScreen())
//	opts.OnPoll = func(protocol.Result) {
//	    prog.Send(ui.StatsMsg{Stats: p.Stats(), Dropped: sink.Dropped()})
//	}
package ui
