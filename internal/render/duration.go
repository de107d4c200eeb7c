package render

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Layer III bitrates in kbps, indexed by the frame header bitrate field.
var mp3BitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
var mp3BitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}

// MP3Duration estimates the duration of an MP3 clip from the bitrate of its
// first audio frame. The estimate assumes constant bitrate, which is what
// phone voice recorders produce; VBR files land in the right order of
// magnitude, which is all the duration cap needs.
func MP3Duration(data []byte) (time.Duration, error) {
	off := 0
	// Skip an ID3v2 tag if present. Its size is a 4-byte syncsafe integer.
	if len(data) >= 10 && data[0] == 'I' && data[1] == 'D' && data[2] == '3' {
		size := int(data[6]&0x7f)<<21 | int(data[7]&0x7f)<<14 | int(data[8]&0x7f)<<7 | int(data[9]&0x7f)
		off = 10 + size
	}
	// Scan for the first frame sync.
	for ; off+4 <= len(data); off++ {
		if data[off] == 0xff && data[off+1]&0xe0 == 0xe0 {
			break
		}
	}
	if off+4 > len(data) {
		return 0, fmt.Errorf("mp3: no frame header found")
	}

	version := (data[off+1] >> 3) & 0x3 // 3=MPEG1, 2=MPEG2, 0=MPEG2.5
	layer := (data[off+1] >> 1) & 0x3   // 1=Layer III
	if version == 1 || layer != 1 {
		return 0, fmt.Errorf("mp3: unsupported frame header")
	}
	idx := data[off+2] >> 4
	if idx == 0 || idx == 15 {
		return 0, fmt.Errorf("mp3: free or invalid bitrate")
	}
	kbps := mp3BitratesV2[idx]
	if version == 3 {
		kbps = mp3BitratesV1[idx]
	}

	audioBytes := len(data) - off
	secs := float64(audioBytes*8) / float64(kbps*1000)
	return time.Duration(secs * float64(time.Second)), nil
}

// MP4Duration reads the duration out of the mvhd box of an MP4/M4A container.
func MP4Duration(data []byte) (time.Duration, error) {
	moov, err := findBox(data, "moov")
	if err != nil {
		return 0, err
	}
	mvhd, err := findBox(moov, "mvhd")
	if err != nil {
		return 0, err
	}
	if len(mvhd) < 20 {
		return 0, fmt.Errorf("mp4: truncated mvhd box")
	}
	var timescale, duration uint64
	switch version := mvhd[0]; version {
	case 0:
		timescale = uint64(binary.BigEndian.Uint32(mvhd[12:16]))
		duration = uint64(binary.BigEndian.Uint32(mvhd[16:20]))
	case 1:
		if len(mvhd) < 32 {
			return 0, fmt.Errorf("mp4: truncated mvhd box")
		}
		timescale = uint64(binary.BigEndian.Uint32(mvhd[20:24]))
		duration = binary.BigEndian.Uint64(mvhd[24:32])
	default:
		return 0, fmt.Errorf("mp4: unknown mvhd version %d", version)
	}
	if timescale == 0 {
		return 0, fmt.Errorf("mp4: zero timescale")
	}
	secs := float64(duration) / float64(timescale)
	return time.Duration(secs * float64(time.Second)), nil
}

// findBox scans sibling ISO-BMFF boxes in data for the named one and returns
// its payload.
func findBox(data []byte, name string) ([]byte, error) {
	off := 0
	for off+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[off : off+4]))
		typ := string(data[off+4 : off+8])
		header := 8
		if size == 1 {
			if off+16 > len(data) {
				break
			}
			size = int(binary.BigEndian.Uint64(data[off+8 : off+16]))
			header = 16
		}
		if size < header || off+size > len(data) {
			break
		}
		if typ == name {
			return data[off+header : off+size], nil
		}
		off += size
	}
	return nil, fmt.Errorf("mp4: box %q not found", name)
}
