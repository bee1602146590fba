package validate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/voice-clone-service/internal/core"
)

// Probe errors.
var (
	ErrTruncatedHeader   = errors.New("truncated audio header")
	ErrMissingChunk      = errors.New("required chunk not found")
	ErrZeroSampleRate    = errors.New("sample rate is zero")
	ErrNoFrameSync       = errors.New("no mp3 frame sync found")
	ErrUnsupportedLayout = errors.New("unsupported audio layout")
)

const (
	wavHeaderSize    = 12
	wavChunkHeader   = 8
	flacMarkerSize   = 4
	flacStreamInfo   = 34
	mp3SyncScanLimit = 64 << 10
)

// ProbeAudio reads the container headers of data and returns the sample rate
// and duration. A file whose headers cannot be parsed is considered corrupt.
func ProbeAudio(data []byte, format core.AudioFormat) (int, time.Duration, error) {
	switch format {
	case core.FormatWAV:
		return probeWAV(data)
	case core.FormatFLAC:
		return probeFLAC(data)
	case core.FormatMP3:
		return probeMP3(data)
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedLayout, format)
	}
}

// probeWAV walks the RIFF chunks for "fmt " and "data".
func probeWAV(data []byte) (int, time.Duration, error) {
	if len(data) < wavHeaderSize ||
		string(data[0:4]) != "RIFF" ||
		string(data[8:12]) != "WAVE" {
		return 0, 0, fmt.Errorf("%w: not a RIFF/WAVE file", ErrTruncatedHeader)
	}

	var (
		sampleRate uint32
		byteRate   uint32
		dataSize   uint32
		haveFmt    bool
		haveData   bool
	)

	offset := wavHeaderSize
	for offset+wavChunkHeader <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + wavChunkHeader

		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, 0, fmt.Errorf("%w: fmt chunk", ErrTruncatedHeader)
			}

			sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			haveFmt = true
		case "data":
			dataSize = chunkSize
			haveData = true
		}

		// Chunks are word-aligned.
		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !haveFmt || !haveData {
		return 0, 0, fmt.Errorf("%w: fmt or data chunk", ErrMissingChunk)
	}

	if sampleRate == 0 || byteRate == 0 {
		return 0, 0, ErrZeroSampleRate
	}

	duration := time.Duration(float64(dataSize) / float64(byteRate) * float64(time.Second))

	return int(sampleRate), duration, nil
}

// probeFLAC reads the STREAMINFO metadata block.
func probeFLAC(data []byte) (int, time.Duration, error) {
	if len(data) < flacMarkerSize+4+flacStreamInfo || string(data[0:4]) != "fLaC" {
		return 0, 0, fmt.Errorf("%w: not a FLAC stream", ErrTruncatedHeader)
	}

	// The first metadata block is mandatory STREAMINFO (type 0).
	blockType := data[4] & 0x7F
	if blockType != 0 {
		return 0, 0, fmt.Errorf("%w: STREAMINFO", ErrMissingChunk)
	}

	info := data[8 : 8+flacStreamInfo]

	sampleRate := int(info[10])<<12 | int(info[11])<<4 | int(info[12])>>4
	if sampleRate == 0 {
		return 0, 0, ErrZeroSampleRate
	}

	totalSamples := uint64(info[13]&0x0F)<<32 |
		uint64(info[14])<<24 |
		uint64(info[15])<<16 |
		uint64(info[16])<<8 |
		uint64(info[17])

	duration := time.Duration(float64(totalSamples) / float64(sampleRate) * float64(time.Second))

	return sampleRate, duration, nil
}

// mp3SampleRates indexes MPEG-1 Layer III sample rates by header bits.
var mp3SampleRates = [4]int{44100, 48000, 32000, 0}

// mp3Bitrates indexes MPEG-1 Layer III bitrates (kbit/s) by header bits.
var mp3Bitrates = [16]int{
	0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0,
}

// probeMP3 locates the first frame header and estimates the duration from the
// frame bitrate, after skipping any leading ID3v2 tag.
func probeMP3(data []byte) (int, time.Duration, error) {
	payload := skipID3(data)

	limit := len(payload) - 4
	if limit > mp3SyncScanLimit {
		limit = mp3SyncScanLimit
	}

	for i := 0; i < limit; i++ {
		if payload[i] != 0xFF || payload[i+1]&0xE0 != 0xE0 {
			continue
		}

		version := payload[i+1] >> 3 & 0x03
		layer := payload[i+1] >> 1 & 0x03

		// MPEG-1 (11) Layer III (01) only.
		if version != 0x03 || layer != 0x01 {
			continue
		}

		bitrate := mp3Bitrates[payload[i+2]>>4]
		sampleRate := mp3SampleRates[payload[i+2]>>2&0x03]

		if bitrate == 0 || sampleRate == 0 {
			continue
		}

		seconds := float64(len(payload)-i) * 8 / float64(bitrate*1000)
		duration := time.Duration(seconds * float64(time.Second))

		return sampleRate, duration, nil
	}

	return 0, 0, ErrNoFrameSync
}

// skipID3 returns the payload past a leading ID3v2 tag, if present.
func skipID3(data []byte) []byte {
	if len(data) < 10 || string(data[0:3]) != "ID3" {
		return data
	}

	// The tag size is a 28-bit synchsafe integer.
	size := int(data[6]&0x7F)<<21 |
		int(data[7]&0x7F)<<14 |
		int(data[8]&0x7F)<<7 |
		int(data[9]&0x7F)

	end := 10 + size
	if end > len(data) {
		return data
	}

	return data[end:]
}
