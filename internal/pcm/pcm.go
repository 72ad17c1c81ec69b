// Package pcm holds helpers for signed 16-bit little-endian PCM buffers.
package pcm

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// SilenceDBFS is reported for empty or all-zero buffers.
const SilenceDBFS = -96.0

// LevelDBFS returns the RMS level of s16le samples relative to full scale.
func LevelDBFS(buf []byte) float64 {
	samples := len(buf) / 2
	if samples == 0 {
		return SilenceDBFS
	}

	var sum float64
	for i := 0; i < samples; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(buf[i*2:])))
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(samples))
	if rms == 0 {
		return SilenceDBFS
	}

	db := 20 * math.Log10(rms/32768.0)
	if db < SilenceDBFS {
		return SilenceDBFS
	}
	return db
}

// Duration returns the playback length in seconds for a buffer at the given format.
func Duration(buf []byte, sampleRate int, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	return float64(len(buf)) / float64(sampleRate*channels*2)
}

// EncodeWAV writes raw little-endian PCM bytes with a minimal WAV header.
func EncodeWAV(w io.Writer, pcm []byte, sampleRate int, channels int) error {
	if sampleRate <= 0 {
		return errors.New("wav sample rate must be > 0")
	}
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// DecodeWAV strips a canonical 44-byte PCM WAV header and returns the data chunk.
func DecodeWAV(data []byte) (pcm []byte, sampleRate int, channels int, err error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE payload")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, 0, errors.New("wav payload is not linear PCM")
	}
	channels = int(binary.LittleEndian.Uint16(data[22:24]))
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if size > len(data)-44 {
		size = len(data) - 44
	}
	return data[44 : 44+size], sampleRate, channels, nil
}
