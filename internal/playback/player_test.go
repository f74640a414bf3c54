package playback

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestPCM16(t *testing.T) {
	got := PCM16([]float32{0, 1, -1, 2, 0.5})
	want := []int16{0, math.MaxInt16, -math.MaxInt16, math.MaxInt16, 16384}

	if len(got) != 2*len(want) {
		t.Fatalf("got %d bytes", len(got))
	}
	for i, w := range want {
		if v := int16(binary.LittleEndian.Uint16(got[2*i:])); v != w {
			t.Errorf("sample %d = %d, want %d", i, v, w)
		}
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(24000, 24000); d != time.Second {
		t.Fatalf("Duration = %v", d)
	}
	if d := Duration(100, 0); d != 0 {
		t.Fatalf("zero rate Duration = %v", d)
	}
}
