package protocol

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewCatalog(t *testing.T) {
	c := DefaultControls()
	tests := []struct {
		name    string
		types   []*MessageType
		wantErr string
	}{
		{
			name:  "reference type",
			types: []*MessageType{OscillatorInterval()},
		},
		{
			name:  "empty catalog",
			types: nil,
		},
		{
			name:    "duplicate id",
			types:   []*MessageType{OscillatorInterval(), OscillatorInterval()},
			wantErr: "duplicate message type",
		},
		{
			name: "fields do not cover length",
			types: []*MessageType{{
				ID: 2, Name: "short", Length: 9,
				Fields: []Field{{Name: "a", Width: 4}},
			}},
			wantErr: "fields cover 4 bytes",
		},
		{
			name: "bad width",
			types: []*MessageType{{
				ID: 2, Name: "odd", Length: 5,
				Fields: []Field{{Name: "a", Width: 3}},
			}},
			wantErr: "unsupported width",
		},
		{
			name:    "delimiter as id",
			types:   []*MessageType{{ID: 0xC0, Name: "end", Length: 2}},
			wantErr: "collides with a control byte",
		},
		{
			name:    "idle as id",
			types:   []*MessageType{{ID: 0x00, Name: "nul", Length: 2}},
			wantErr: "collides with a control byte",
		},
		{
			name: "duplicate field",
			types: []*MessageType{{
				ID: 3, Name: "dup", Length: 4,
				Fields: []Field{{Name: "a", Width: 1}, {Name: "a", Width: 1}},
			}},
			wantErr: "duplicate field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(c, tt.types...)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("NewCatalog() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewCatalog() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCatalogLookup(t *testing.T) {
	status := &MessageType{ID: 0x05, Name: "Status", Length: 3, Fields: []Field{{Name: "flags", Width: 1}}}
	cat, err := NewCatalog(DefaultControls(), status, OscillatorInterval())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	if mt, ok := cat.Lookup(0x01); !ok || mt.Name != "Oscillator Interval" {
		t.Errorf("Lookup(0x01) = %v, %v", mt, ok)
	}
	if _, ok := cat.Lookup(0x02); ok {
		t.Error("Lookup(0x02) should miss")
	}

	types := cat.Types()
	if len(types) != 2 || types[0].ID != 0x01 || types[1].ID != 0x05 {
		t.Errorf("Types() not ordered by ID: %v", types)
	}
	if cat.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cat.Len())
	}
}

func TestParseLayout(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		names   []string
		want    []Field
		wantErr bool
	}{
		{
			name:   "reference layout",
			format: "<IBh",
			names:  []string{"f_cpu", "interval", "variance"},
			want: []Field{
				{Name: "f_cpu", Width: 4},
				{Name: "interval", Width: 1},
				{Name: "variance", Width: 2, Signed: true},
			},
		},
		{
			name:   "default names",
			format: "bQ",
			want: []Field{
				{Name: "field1", Width: 1, Signed: true},
				{Name: "field2", Width: 8},
			},
		},
		{
			name:    "big endian rejected",
			format:  ">I",
			wantErr: true,
		},
		{
			name:    "unsupported code",
			format:  "<f",
			wantErr: true,
		},
		{
			name:    "too many names",
			format:  "<B",
			names:   []string{"a", "b"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLayout(tt.format, tt.names)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLayout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseLayout() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUnpack(t *testing.T) {
	mt := OscillatorInterval()
	frame := []byte{0x01, 0x00, 0x09, 0x3D, 0x00, 0x03, 0xF4, 0xFF, 0xC0}

	msg, err := mt.Unpack(frame)
	if err != nil {
		t.Fatalf("Unpack() error = %v", err)
	}

	if v, _ := msg.Uint("f_cpu"); v != 4000000 {
		t.Errorf("f_cpu = %d, want 4000000", v)
	}
	if v, _ := msg.Uint("interval"); v != 3 {
		t.Errorf("interval = %d, want 3", v)
	}
	if v, _ := msg.Int("variance"); v != -12 {
		t.Errorf("variance = %d, want -12", v)
	}
	if _, ok := msg.Int("missing"); ok {
		t.Error("Int(missing) should report false")
	}

	want := "Oscillator Interval{f_cpu=4000000, interval=3, variance=-12}"
	if msg.String() != want {
		t.Errorf("String() = %q, want %q", msg.String(), want)
	}

	if _, err := mt.Unpack(frame[:8]); err == nil {
		t.Error("Unpack() should reject a short frame")
	}
}
