package render

import (
	"math"
	"testing"

	"github.com/go-audio/audio"
)

func monoBuffer(samples []int) *audio.IntBuffer {
	return &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: 44100},
		Data:   samples,
	}
}

func TestPeaksFromBufferNormalizes(t *testing.T) {
	// 16-bit full scale is 32768; half-amplitude should land near 0.5.
	samples := make([]int, 400)
	for i := range samples {
		samples[i] = 16384
	}
	peaks, err := PeaksFromBuffer(monoBuffer(samples), 16, 4)
	if err != nil {
		t.Fatalf("peaks: %v", err)
	}
	if len(peaks) != 4 {
		t.Fatalf("expected 4 buckets, got %d", len(peaks))
	}
	for i, p := range peaks {
		if math.Abs(p-0.5) > 0.01 {
			t.Fatalf("bucket %d: expected ~0.5, got %f", i, p)
		}
	}
}

func TestPeaksFromBufferUsesAbsoluteMax(t *testing.T) {
	// A negative spike in the second half must still register as the peak.
	samples := make([]int, 200)
	samples[150] = -32768
	peaks, err := PeaksFromBuffer(monoBuffer(samples), 16, 2)
	if err != nil {
		t.Fatalf("peaks: %v", err)
	}
	if peaks[0] != 0 {
		t.Fatalf("silent bucket should be 0, got %f", peaks[0])
	}
	if peaks[1] < 0.99 {
		t.Fatalf("spiked bucket should be ~1, got %f", peaks[1])
	}
}

func TestPeaksFromBufferStereoFold(t *testing.T) {
	// Interleaved stereo: left silent, right loud. The fold takes the max.
	samples := make([]int, 0, 200)
	for i := 0; i < 100; i++ {
		samples = append(samples, 0, 30000)
	}
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 2, SampleRate: 44100},
		Data:   samples,
	}
	peaks, err := PeaksFromBuffer(buf, 16, 5)
	if err != nil {
		t.Fatalf("peaks: %v", err)
	}
	for i, p := range peaks {
		if p < 0.9 {
			t.Fatalf("bucket %d should reflect the loud channel, got %f", i, p)
		}
	}
}

func TestPeaksFromBufferShortClip(t *testing.T) {
	// Fewer frames than buckets collapses to one bucket per frame.
	peaks, err := PeaksFromBuffer(monoBuffer([]int{100, 200, 300}), 16, 96)
	if err != nil {
		t.Fatalf("peaks: %v", err)
	}
	if len(peaks) != 3 {
		t.Fatalf("expected 3 buckets for 3 frames, got %d", len(peaks))
	}
}

func TestPeaksFromBufferErrors(t *testing.T) {
	if _, err := PeaksFromBuffer(nil, 16, 4); err == nil {
		t.Fatal("nil buffer should error")
	}
	if _, err := PeaksFromBuffer(monoBuffer([]int{1}), 16, 0); err == nil {
		t.Fatal("zero buckets should error")
	}
}
