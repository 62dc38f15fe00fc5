package beeper

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/youpy/go-wav"
)

// Output format of every clip.
const (
	SampleRate   = 44100
	ChannelCount = 2
)

// LoadClip decodes a .wav or .mp3 file into 16-bit little-endian PCM at
// SampleRate with ChannelCount channels.
func LoadClip(path string) ([]byte, error) {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sound file: %w", err)
	}

	var pcmData []byte
	var sampleRate, channelCount int

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		format, err := wav.NewReader(bytes.NewReader(fileData)).Format()
		if err != nil {
			return nil, fmt.Errorf("failed to get wav format: %w", err)
		}
		pcmData, err = io.ReadAll(wav.NewReader(bytes.NewReader(fileData)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode wav data: %w", err)
		}
		if format.BitsPerSample != 16 {
			return nil, fmt.Errorf("unsupported wav bit depth %d", format.BitsPerSample)
		}
		sampleRate = int(format.SampleRate)
		channelCount = int(format.NumChannels)

	case ".mp3":
		decoder, err := mp3.NewDecoder(bytes.NewReader(fileData))
		if err != nil {
			return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
		}
		pcmData, err = io.ReadAll(decoder)
		if err != nil {
			return nil, fmt.Errorf("failed to decode mp3 data: %w", err)
		}
		sampleRate = decoder.SampleRate()
		channelCount = 2

	default:
		return nil, fmt.Errorf("unsupported sound file %s: want .wav or .mp3", filepath.Base(path))
	}

	if len(pcmData) == 0 {
		return nil, fmt.Errorf("sound file %s holds no samples", filepath.Base(path))
	}
	return convertAudio(pcmData, sampleRate, channelCount, SampleRate, ChannelCount), nil
}

// convertAudio upmixes mono to stereo and resamples with linear interpolation.
func convertAudio(pcmData []byte, fromRate, fromChannels, toRate, toChannels int) []byte {
	samples := make([]int16, len(pcmData)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmData[i*2:]))
	}

	if fromChannels == 1 && toChannels == 2 {
		stereo := make([]int16, len(samples)*2)
		for i, s := range samples {
			stereo[i*2] = s
			stereo[i*2+1] = s
		}
		samples = stereo
	}

	if fromRate != toRate && len(samples) > 0 {
		// resample per frame so the channels stay interleaved
		frames := len(samples) / toChannels
		ratio := float64(toRate) / float64(fromRate)
		outFrames := int(float64(frames) * ratio)
		out := make([]int16, outFrames*toChannels)
		for i := 0; i < outFrames; i++ {
			srcPos := float64(i) / ratio
			srcIdx := int(srcPos)
			frac := srcPos - float64(srcIdx)
			for ch := 0; ch < toChannels; ch++ {
				if srcIdx >= frames-1 {
					out[i*toChannels+ch] = samples[(frames-1)*toChannels+ch]
					continue
				}
				a := float64(samples[srcIdx*toChannels+ch])
				b := float64(samples[(srcIdx+1)*toChannels+ch])
				out[i*toChannels+ch] = int16(a + (b-a)*frac)
			}
		}
		samples = out
	}

	result := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(result[i*2:], uint16(s))
	}
	return result
}
