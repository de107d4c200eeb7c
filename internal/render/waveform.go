package render

import (
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ExtractPeaks decodes a WAV stream and reduces it to `buckets` normalized
// peak values in [0,1], one per poster waveform bar.
func ExtractPeaks(r io.ReadSeeker, buckets int) ([]float64, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	bitDepth := int(dec.BitDepth)
	return PeaksFromBuffer(buf, bitDepth, buckets)
}

// PeaksFromBuffer reduces a PCM buffer to `buckets` normalized peaks.
// Multi-channel audio is folded by taking the max across channels.
func PeaksFromBuffer(buf *audio.IntBuffer, bitDepth, buckets int) ([]float64, error) {
	if buckets <= 0 {
		return nil, fmt.Errorf("buckets must be positive")
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("audio buffer has no samples")
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("audio buffer has no frames")
	}
	if frames < buckets {
		buckets = frames
	}

	// Full-scale value for the source bit depth, for normalization.
	if bitDepth == 0 {
		bitDepth = 16
	}
	fullScale := float64(int64(1) << (bitDepth - 1))

	peaks := make([]float64, buckets)
	framesPerBucket := frames / buckets
	for b := 0; b < buckets; b++ {
		start := b * framesPerBucket
		end := start + framesPerBucket
		if b == buckets-1 {
			end = frames
		}
		var peak float64
		for f := start; f < end; f++ {
			for ch := 0; ch < channels; ch++ {
				v := float64(buf.Data[f*channels+ch])
				if v < 0 {
					v = -v
				}
				if v > peak {
					peak = v
				}
			}
		}
		p := peak / fullScale
		if p > 1 {
			p = 1
		}
		peaks[b] = p
	}
	return peaks, nil
}

// WavDuration returns the clip duration of a WAV stream.
func WavDuration(r io.ReadSeeker) (time.Duration, error) {
	dec := wav.NewDecoder(r)
	dur, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration: %w", err)
	}
	return dur, nil
}
