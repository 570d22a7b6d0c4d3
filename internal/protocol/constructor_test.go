package protocol

import (
	"bytes"
	"testing"
)

func TestPack(t *testing.T) {
	c := DefaultControls()
	tests := []struct {
		name    string
		values  []int64
		want    []byte
		wantErr bool
	}{
		{
			name:   "reference interval report",
			values: []int64{4000000, 3, -12},
			// 4000000 = 0x003D0900, -12 = 0xFFF4
			want: []byte{0x01, 0x00, 0x09, 0x3D, 0x00, 0x03, 0xF4, 0xFF, 0xC0},
		},
		{
			name:   "zero values",
			values: []int64{0, 0, 0},
			want:   []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0xC0},
		},
		{
			name:   "extremes",
			values: []int64{0xFFFFFFFF, 255, -32768},
			want:   []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x80, 0xC0},
		},
		{
			name:    "wrong value count",
			values:  []int64{1, 2},
			wantErr: true,
		},
		{
			name:    "unsigned overflow",
			values:  []int64{1, 256, 0},
			wantErr: true,
		},
		{
			name:    "negative unsigned",
			values:  []int64{-1, 0, 0},
			wantErr: true,
		},
		{
			name:    "signed overflow",
			values:  []int64{1, 0, 32768},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OscillatorInterval().Pack(c, tt.values...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Pack() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("Pack() = % x, want % x", got, tt.want)
			}
		})
	}
}

func TestBuildStuffsReservedBytes(t *testing.T) {
	c := DefaultControls()
	// f_cpu bytes C0 DB 00 00, interval C0, variance 0
	frame, err := Build(OscillatorInterval(), c, 0x0000DBC0, 0xC0, 0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []byte{0x01, 0xDB, 0xDC, 0xDB, 0xDD, 0x00, 0x00, 0xDB, 0xDC, 0x00, 0x00, 0xC0}
	if !bytes.Equal(frame, want) {
		t.Errorf("Build() = % x, want % x", frame, want)
	}

	// Only the final byte may be a raw delimiter
	if i := bytes.IndexByte(frame, c.Delimiter); i != len(frame)-1 {
		t.Errorf("raw delimiter at %d, want only at %d", i, len(frame)-1)
	}
}
