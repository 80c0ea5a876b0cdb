package audio

import (
	"errors"
	"sync"
	"time"
)

var errSourceClosed = errors.New("audio: source closed")

// NullHost is the no-hardware fallback. Capture yields silent frames
// at the configured pace, playback discards everything. It keeps the
// whole pipeline running on machines without audio devices.
type NullHost struct{}

func (NullHost) OpenSource(conf SourceConfig) (Source, error) {
	return &nullSource{
		size: conf.FrameSize * conf.Channels,
		dur:  frameDuration(conf.FrameSize, conf.SampleRate),
		done: make(chan struct{}),
	}, nil
}

func (NullHost) OpenSink(SinkConfig) (Sink, error) { return nullSink{}, nil }

type nullSource struct {
	size int
	dur  time.Duration
	once sync.Once
	done chan struct{}
}

func (s *nullSource) Read() (Samples, error) {
	select {
	case <-s.done:
		return nil, errSourceClosed
	case <-time.After(s.dur):
	}
	return make(Samples, s.size), nil
}

func (s *nullSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type nullSink struct{}

func (nullSink) Write(Samples) error { return nil }
func (nullSink) Close() error        { return nil }

func frameDuration(frameSize, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(int64(time.Second) * int64(frameSize) / int64(sampleRate))
}
