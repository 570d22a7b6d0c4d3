package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

// recorder is a Sink that keeps every message.
type recorder struct {
	msgs []*Message
}

func (r *recorder) HandleMessage(msg *Message) {
	r.msgs = append(r.msgs, msg)
}

// exampleType is the 8-byte type used in the protocol notes: u32 + u16.
func exampleType() *MessageType {
	return &MessageType{
		ID:     0x01,
		Name:   "Example",
		Length: 8,
		Fields: []Field{
			{Name: "field1", Width: 4},
			{Name: "field2", Width: 2},
		},
	}
}

func newTestDecoder(t *testing.T, types ...*MessageType) (*Decoder, *recorder) {
	t.Helper()
	c := DefaultControls()
	cat, err := NewCatalog(c, types...)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	rec := &recorder{}
	dec, err := NewDecoder(c, cat, rec)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	return dec, rec
}

func feedAll(t *testing.T, dec *Decoder, chunks ...[]byte) []Result {
	t.Helper()
	results := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		res, err := dec.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed(% x) error = %v", chunk, err)
		}
		results = append(results, res)
	}
	return results
}

func idle(n int) []byte {
	return make([]byte, n)
}

func TestDecoderSingleChunk(t *testing.T) {
	dec, rec := newTestDecoder(t, exampleType())

	res, err := dec.Feed([]byte{0x01, 0x05, 0x00, 0x00, 0x00, 0x07, 0x00, 0xC0})
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}

	if res.Decoded != 1 || len(rec.msgs) != 1 {
		t.Fatalf("decoded %d (sink got %d), want 1", res.Decoded, len(rec.msgs))
	}
	msg := rec.msgs[0]
	if msg.TypeID() != 1 {
		t.Errorf("type = %d, want 1", msg.TypeID())
	}
	if v, _ := msg.Uint("field1"); v != 5 {
		t.Errorf("field1 = %d, want 5", v)
	}
	if v, _ := msg.Uint("field2"); v != 7 {
		t.Errorf("field2 = %d, want 7", v)
	}
	if res.More() || len(dec.State().Pending) != 0 {
		t.Errorf("pending = % x, want empty", dec.State().Pending)
	}
}

func TestDecoderThreeExchanges(t *testing.T) {
	dec, rec := newTestDecoder(t, exampleType())

	chunks := [][]byte{
		{0x01, 0x05, 0x00},
		{0x00, 0x00, 0x07},
		{0x00, 0xC0},
	}
	for i, chunk := range chunks {
		res, err := dec.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed(%d) error = %v", i, err)
		}
		wantDecoded := 0
		if i == len(chunks)-1 {
			wantDecoded = 1
		}
		if res.Decoded != wantDecoded {
			t.Errorf("after chunk %d decoded = %d, want %d", i, res.Decoded, wantDecoded)
		}
		if i < len(chunks)-1 && !res.More() {
			t.Errorf("after chunk %d More() = false, want true", i)
		}
	}

	if len(rec.msgs) != 1 {
		t.Fatalf("sink got %d messages, want 1", len(rec.msgs))
	}
	if got := rec.msgs[0].Fields(); got["field1"] != 5 || got["field2"] != 7 {
		t.Errorf("fields = %v, want field1=5 field2=7", got)
	}
	if len(dec.State().Pending) != 0 {
		t.Errorf("pending = % x, want empty", dec.State().Pending)
	}
}

func TestDecoderFragmentationInvariance(t *testing.T) {
	c := DefaultControls()
	// Values chosen so the stuffed frame contains both escape pairs.
	frame, err := Build(OscillatorInterval(), c, 0x00DBC0FF, 0xC0, -0x2425)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	wire := append(append(idle(3), frame...), idle(5)...)

	check := func(t *testing.T, chunks [][]byte) {
		t.Helper()
		dec, rec := newTestDecoder(t, OscillatorInterval())
		results := feedAll(t, dec, chunks...)
		if len(rec.msgs) != 1 {
			t.Fatalf("split % x: decoded %d messages, want 1", chunks, len(rec.msgs))
		}
		got := rec.msgs[0].Fields()
		if got["f_cpu"] != 0x00DBC0FF || got["interval"] != 0xC0 || got["variance"] != -0x2425 {
			t.Errorf("split % x: fields = %v", chunks, got)
		}
		if last := results[len(results)-1]; last.More() || last.Resyncing {
			t.Errorf("split % x: final result %+v, want drained", chunks, last)
		}
	}

	t.Run("unsplit", func(t *testing.T) {
		check(t, [][]byte{wire})
	})
	t.Run("two pieces", func(t *testing.T) {
		for i := 1; i < len(wire); i++ {
			check(t, [][]byte{wire[:i], wire[i:]})
		}
	})
	t.Run("three pieces", func(t *testing.T) {
		for i := 1; i < len(wire); i++ {
			for j := i + 1; j < len(wire); j++ {
				check(t, [][]byte{wire[:i], wire[i:j], wire[j:]})
			}
		}
	})
	t.Run("byte at a time", func(t *testing.T) {
		chunks := make([][]byte, len(wire))
		for i := range wire {
			chunks[i] = wire[i : i+1]
		}
		check(t, chunks)
	})
}

func TestDecoderDanglingEscape(t *testing.T) {
	c := DefaultControls()
	frame, err := Build(OscillatorInterval(), c, 0xC0, 1, 0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	// frame: 01 DB DC 00 00 00 01 00 00 C0; split between DB and DC
	if frame[1] != c.Esc {
		t.Fatalf("fixture frame[1] = 0x%02x, want escape", frame[1])
	}

	dec, rec := newTestDecoder(t, OscillatorInterval())

	res, err := dec.Feed(frame[:2])
	if err != nil {
		t.Fatalf("Feed(first) error = %v", err)
	}
	if res.Decoded != 0 || res.Resyncing {
		t.Fatalf("first result %+v, want pending without resync", res)
	}
	if !bytes.Equal(dec.State().Pending, frame[:2]) {
		t.Errorf("pending = % x, want raw % x", dec.State().Pending, frame[:2])
	}

	res, err = dec.Feed(frame[2:])
	if err != nil {
		t.Fatalf("Feed(second) error = %v", err)
	}
	if res.Decoded != 1 {
		t.Fatalf("second decoded = %d, want 1", res.Decoded)
	}
	if v, _ := rec.msgs[0].Uint("f_cpu"); v != 0xC0 {
		t.Errorf("f_cpu = 0x%x, want 0xc0", v)
	}
}

func TestDecoderIdleChunks(t *testing.T) {
	t.Run("synced", func(t *testing.T) {
		dec, rec := newTestDecoder(t, OscillatorInterval())
		for i := 0; i < 100; i++ {
			res, err := dec.Feed(idle(32))
			if err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			if res.Decoded != 0 || res.More() || res.Resyncing || res.Discarded != 0 {
				t.Fatalf("idle chunk %d produced %+v", i, res)
			}
		}
		if len(rec.msgs) != 0 {
			t.Errorf("sink got %d messages, want 0", len(rec.msgs))
		}
		if st := dec.State(); st.Pending != nil || st.Resyncing {
			t.Errorf("state = %+v, want initial", st)
		}
	})

	t.Run("resyncing", func(t *testing.T) {
		dec, _ := newTestDecoder(t, OscillatorInterval())
		if _, err := dec.Feed([]byte{0x7F, 0x01}); !errors.Is(err, ErrUnknownType) {
			t.Fatalf("Feed() error = %v, want ErrUnknownType", err)
		}
		for i := 0; i < 10; i++ {
			res, err := dec.Feed(idle(32))
			if err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			if !res.Resyncing || res.Decoded != 0 || res.Discarded != 0 {
				t.Fatalf("idle chunk %d produced %+v", i, res)
			}
		}
	})
}

func TestDecoderUnknownType(t *testing.T) {
	c := DefaultControls()
	valid, err := Build(OscillatorInterval(), c, 4000000, 3, -12)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	t.Run("boundary in same chunk", func(t *testing.T) {
		dec, rec := newTestDecoder(t, OscillatorInterval())

		res, err := dec.Feed([]byte{0x7F, 0x11, 0x22, 0xC0, 0x00, 0x00})
		if !errors.Is(err, ErrUnknownType) {
			t.Fatalf("Feed() error = %v, want ErrUnknownType", err)
		}
		var perr *ParseError
		if !errors.As(err, &perr) || perr.TypeID != 0x7F {
			t.Errorf("error = %v, want ParseError for type 0x7f", err)
		}
		if res.Resyncing {
			t.Error("decoder should have found the boundary in the same chunk")
		}

		feedAll(t, dec, valid)
		if len(rec.msgs) != 1 {
			t.Fatalf("sink got %d messages, want 1", len(rec.msgs))
		}
	})

	t.Run("boundary in next chunk", func(t *testing.T) {
		dec, rec := newTestDecoder(t, OscillatorInterval())

		res, err := dec.Feed([]byte{0x7F, 0x11, 0x22})
		if !errors.Is(err, ErrUnknownType) {
			t.Fatalf("Feed() error = %v, want ErrUnknownType", err)
		}
		if !res.Resyncing {
			t.Fatal("decoder should still be resyncing")
		}

		next := append([]byte{0x33, 0xC0, 0x00}, valid...)
		res, err = dec.Feed(next)
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		if res.Decoded != 1 || len(rec.msgs) != 1 {
			t.Fatalf("decoded %d, want 1", res.Decoded)
		}
		if res.Discarded != 2 {
			t.Errorf("discarded = %d, want 2", res.Discarded)
		}
	})
}

func TestDecoderFramingMismatch(t *testing.T) {
	t.Run("recovers within the chunk", func(t *testing.T) {
		dec, rec := newTestDecoder(t, exampleType())

		// A truncated frame (01 05 C0) followed by a good one.
		chunk := []byte{0x01, 0x05, 0xC0, 0x01, 0x05, 0x00, 0x00, 0x00, 0x07, 0x00, 0xC0}
		res, err := dec.Feed(chunk)
		if !errors.Is(err, ErrFramingMismatch) {
			t.Fatalf("Feed() error = %v, want ErrFramingMismatch", err)
		}
		if res.Decoded != 1 || len(rec.msgs) != 1 {
			t.Fatalf("decoded %d, want 1", res.Decoded)
		}
		if got := rec.msgs[0].Fields(); got["field1"] != 5 || got["field2"] != 7 {
			t.Errorf("fields = %v", got)
		}
		if st := dec.Stats(); st.Resyncs != 1 || st.FramingErrors != 1 {
			t.Errorf("stats = %+v, want one resync and one framing error", st)
		}
	})

	t.Run("escaped delimiter is not a terminator", func(t *testing.T) {
		small := &MessageType{ID: 0x02, Name: "Small", Length: 3, Fields: []Field{{Name: "v", Width: 1}}}
		dec, rec := newTestDecoder(t, small)

		// 02 41 then an escaped C0 where the terminator should be
		_, err := dec.Feed([]byte{0x02, 0x41, 0xDB, 0xDC, 0x00})
		if !errors.Is(err, ErrFramingMismatch) {
			t.Fatalf("Feed() error = %v, want ErrFramingMismatch", err)
		}
		if len(rec.msgs) != 0 {
			t.Errorf("sink got %d messages, want 0", len(rec.msgs))
		}

		// Escaped C0 as content, raw C0 as terminator
		dec, rec = newTestDecoder(t, small)
		feedAll(t, dec, []byte{0x02, 0xDB, 0xDC, 0xC0})
		if len(rec.msgs) != 1 {
			t.Fatalf("sink got %d messages, want 1", len(rec.msgs))
		}
		if v, _ := rec.msgs[0].Uint("v"); v != 0xC0 {
			t.Errorf("v = 0x%x, want 0xc0", v)
		}
	})

	t.Run("idle fill completes a stalled frame", func(t *testing.T) {
		dec, rec := newTestDecoder(t, exampleType())

		// Truncated frame, then the device goes quiet
		if _, err := dec.Feed([]byte{0x01, 0x05, 0xC0}); err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		res, err := dec.Feed(idle(8))
		if !errors.Is(err, ErrFramingMismatch) {
			t.Fatalf("Feed() error = %v, want ErrFramingMismatch", err)
		}
		if res.More() || res.Resyncing {
			t.Errorf("result %+v, want clean state after recovery", res)
		}
		if len(rec.msgs) != 0 {
			t.Errorf("sink got %d messages, want 0", len(rec.msgs))
		}
	})
}

func TestDecoderInvalidEscape(t *testing.T) {
	dec, rec := newTestDecoder(t, OscillatorInterval())
	valid, err := Build(OscillatorInterval(), DefaultControls(), 1, 2, 3)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	chunk := append([]byte{0x01, 0xDB, 0x42, 0x00, 0xC0}, valid...)
	res, err := dec.Feed(chunk)
	if !errors.Is(err, ErrInvalidEscape) {
		t.Fatalf("Feed() error = %v, want ErrInvalidEscape", err)
	}
	if res.Decoded != 1 || len(rec.msgs) != 1 {
		t.Errorf("decoded %d, want the following valid frame", res.Decoded)
	}
	if dec.Stats().EscapeErrors != 1 {
		t.Errorf("escape errors = %d, want 1", dec.Stats().EscapeErrors)
	}
}

func TestDecoderResyncProgress(t *testing.T) {
	c := DefaultControls()
	valid, err := Build(OscillatorInterval(), c, 4000000, 3, -12)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 500; trial++ {
		// Corrupt prefix with no raw delimiter, then a boundary, then a frame
		prefix := make([]byte, 1+rng.Intn(40))
		for i := range prefix {
			b := byte(rng.Intn(256))
			for b == c.Delimiter {
				b = byte(rng.Intn(256))
			}
			prefix[i] = b
		}
		stream := append(append(prefix, c.Delimiter), valid...)

		dec, rec := newTestDecoder(t, OscillatorInterval())
		size := 1 + rng.Intn(8)
		for start := 0; start < len(stream); start += size {
			end := start + size
			if end > len(stream) {
				end = len(stream)
			}
			_, _ = dec.Feed(stream[start:end])
		}

		if len(rec.msgs) == 0 {
			t.Fatalf("trial %d: prefix % x: valid frame never decoded", trial, prefix)
		}
		last := rec.msgs[len(rec.msgs)-1].Fields()
		if last["f_cpu"] != 4000000 || last["interval"] != 3 || last["variance"] != -12 {
			t.Fatalf("trial %d: prefix % x: last message %v", trial, prefix, last)
		}
		if st := dec.State(); st.Resyncing || len(st.Pending) != 0 {
			t.Fatalf("trial %d: final state %+v", trial, st)
		}
	}
}

func TestDecoderBackToBack(t *testing.T) {
	c := DefaultControls()
	a, _ := Build(OscillatorInterval(), c, 1, 1, 1)
	b, _ := Build(OscillatorInterval(), c, 2, 2, 2)

	t.Run("both complete", func(t *testing.T) {
		dec, rec := newTestDecoder(t, OscillatorInterval())
		chunk := append(append(append([]byte{}, a...), idle(2)...), b...)
		res, err := dec.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		if res.Decoded != 2 || len(rec.msgs) != 2 || res.More() {
			t.Errorf("result %+v, sink %d, want two decoded and drained", res, len(rec.msgs))
		}
	})

	t.Run("second partial", func(t *testing.T) {
		dec, rec := newTestDecoder(t, OscillatorInterval())
		chunk := append(append([]byte{}, a...), b[:4]...)
		res, err := dec.Feed(chunk)
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		if res.Decoded != 1 || !res.More() || res.Pending != 4 {
			t.Errorf("result %+v, want one decoded and 4 pending", res)
		}
		feedAll(t, dec, b[4:])
		if len(rec.msgs) != 2 {
			t.Errorf("sink got %d messages, want 2", len(rec.msgs))
		}
	})
}

func TestDecoderBareDelimiters(t *testing.T) {
	dec, rec := newTestDecoder(t, OscillatorInterval())
	valid, _ := Build(OscillatorInterval(), DefaultControls(), 9, 9, 9)

	chunk := append([]byte{0xC0, 0x00, 0xC0}, valid...)
	res, err := dec.Feed(chunk)
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if res.Decoded != 1 || len(rec.msgs) != 1 {
		t.Errorf("decoded %d, want 1", res.Decoded)
	}
}

func TestDecoderTypeHandler(t *testing.T) {
	c := DefaultControls()
	typed := &recorder{}
	mt := OscillatorInterval()
	mt.Handler = typed

	dec, fallback := newTestDecoder(t, mt)
	frame, _ := Build(mt, c, 1, 2, 3)
	feedAll(t, dec, frame)

	if len(typed.msgs) != 1 {
		t.Errorf("type handler got %d messages, want 1", len(typed.msgs))
	}
	if len(fallback.msgs) != 0 {
		t.Errorf("default sink got %d messages, want 0", len(fallback.msgs))
	}
}

func TestDecoderReset(t *testing.T) {
	dec, _ := newTestDecoder(t, OscillatorInterval())
	_, _ = dec.Feed([]byte{0x01, 0x02})
	if len(dec.State().Pending) == 0 {
		t.Fatal("expected pending bytes before Reset")
	}

	dec.Reset()
	if st := dec.State(); st.Pending != nil || st.Resyncing {
		t.Errorf("state after Reset = %+v", st)
	}
	if dec.Stats().Chunks != 1 {
		t.Errorf("Reset should keep counters, chunks = %d", dec.Stats().Chunks)
	}
}

func TestNewDecoderValidation(t *testing.T) {
	c := DefaultControls()
	cat, _ := DefaultCatalog(c)

	if _, err := NewDecoder(c, nil, nil); err == nil {
		t.Error("NewDecoder() should reject a nil catalog")
	}

	bad := c
	bad.Esc = bad.Idle
	if _, err := NewDecoder(bad, cat, nil); err == nil {
		t.Error("NewDecoder() should reject invalid controls")
	}

	dec, err := NewDecoder(c, cat, nil)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	frame, _ := Build(OscillatorInterval(), c, 1, 1, 1)
	if res, _ := dec.Feed(frame); res.Decoded != 1 {
		t.Errorf("decoded %d with discard sink, want 1", res.Decoded)
	}
}
