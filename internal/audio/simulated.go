package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sorosurance/soro/internal/session"
)

// ErrPermissionDenied is returned by a SimulatedGateway configured to deny access.
var ErrPermissionDenied = errors.New("microphone permission denied")

// SimulatedGateway grants synthetic tone streams without touching hardware.
type SimulatedGateway struct {
	// GrantDelay postpones the grant like a permission prompt would.
	GrantDelay time.Duration
	// Interval is the spacing between chunks; zero means 20ms.
	Interval time.Duration
	// Deny makes every request fail with ErrPermissionDenied.
	Deny bool
	// Frequency of the generated tone in Hz; zero means 440.
	Frequency float64
}

// RequestStream returns a stream that emits 20ms tone chunks until closed.
func (g SimulatedGateway) RequestStream(ctx context.Context, c session.Constraints) (session.Stream, error) {
	if g.GrantDelay > 0 {
		timer := time.NewTimer(g.GrantDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if g.Deny {
		return nil, ErrPermissionDenied
	}

	interval := g.Interval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	freq := g.Frequency
	if freq <= 0 {
		freq = 440
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	s := &simulatedStream{
		chunks:   make(chan []byte, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		rate:     rate,
		channels: channels,
		freq:     freq,
	}
	go s.run(interval, chunkBytes(rate, channels))
	return s, nil
}

type simulatedStream struct {
	chunks   chan []byte
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	rate     int
	channels int
	freq     float64
	frame    int
}

func (s *simulatedStream) Chunks() <-chan []byte { return s.chunks }

func (s *simulatedStream) Device() string { return "simulated microphone" }

func (s *simulatedStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *simulatedStream) run(interval time.Duration, size int) {
	defer close(s.done)
	defer close(s.chunks)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			select {
			case s.chunks <- s.tone(size):
			case <-s.stop:
				return
			}
		}
	}
}

// tone renders the next size bytes of a quarter-scale sine wave.
func (s *simulatedStream) tone(size int) []byte {
	buf := make([]byte, size)
	frameBytes := 2 * s.channels
	for off := 0; off+frameBytes <= size; off += frameBytes {
		v := int16(8192 * math.Sin(2*math.Pi*s.freq*float64(s.frame)/float64(s.rate)))
		for ch := 0; ch < s.channels; ch++ {
			binary.LittleEndian.PutUint16(buf[off+ch*2:], uint16(v))
		}
		s.frame++
	}
	return buf
}
