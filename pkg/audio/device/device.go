// Package device binds the audio pipeline to the portaudio host.
// Streams use the blocking API, the pipeline owns the pacing.
package device

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/voxmesh/voxmesh/pkg/audio"
)

var (
	initOnce sync.Once
	initErr  error
)

// ensure brings the portaudio host up once per process.
func ensure() error {
	initOnce.Do(func() { initErr = portaudio.Initialize() })
	return initErr
}

// Host opens capture and playback streams on the system devices.
// The zero value is ready to use.
type Host struct{}

func (Host) OpenSource(conf audio.SourceConfig) (audio.Source, error) {
	if err := ensure(); err != nil {
		return nil, err
	}
	buf := make([]int16, conf.FrameSize*conf.Channels)
	stream, err := open(conf.Device, conf.Channels, 0, conf.SampleRate, conf.FrameSize, buf)
	if err != nil {
		return nil, err
	}
	if err = stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return &source{stream: stream, buf: buf}, nil
}

func (Host) OpenSink(conf audio.SinkConfig) (audio.Sink, error) {
	if err := ensure(); err != nil {
		return nil, err
	}
	buf := make([]int16, conf.FrameSize*conf.Channels)
	stream, err := open(conf.Device, 0, conf.Channels, conf.SampleRate, conf.FrameSize, buf)
	if err != nil {
		return nil, err
	}
	if err = stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return &sink{stream: stream, buf: buf}, nil
}

// open picks the default device when no name is set, otherwise the
// named one.
func open(device string, in, out, rate, frame int, buf []int16) (*portaudio.Stream, error) {
	if device == "" {
		return portaudio.OpenDefaultStream(in, out, float64(rate), frame, buf)
	}
	dev, err := find(device, in > 0)
	if err != nil {
		return nil, err
	}
	params := portaudio.LowLatencyParameters(nil, nil)
	if in > 0 {
		params.Input.Device = dev
		params.Input.Channels = in
		params.Input.Latency = dev.DefaultLowInputLatency
	} else {
		params.Output.Device = dev
		params.Output.Channels = out
		params.Output.Latency = dev.DefaultLowOutputLatency
	}
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = frame
	return portaudio.OpenStream(params, buf)
}

func find(name string, input bool) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if input && d.MaxInputChannels > 0 {
			return d, nil
		}
		if !input && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	kind := "output"
	if input {
		kind = "input"
	}
	return nil, fmt.Errorf("no %s device named %q", kind, name)
}

// Devices lists the capture and playback device names known to the
// host, for the CLI device picker.
func Devices() (in, out []string, err error) {
	if err = ensure(); err != nil {
		return nil, nil, err
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, err
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			in = append(in, d.Name)
		}
		if d.MaxOutputChannels > 0 {
			out = append(out, d.Name)
		}
	}
	return in, out, nil
}

type source struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *source) Read() (audio.Samples, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	out := make(audio.Samples, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *source) Close() error {
	_ = s.stream.Stop()
	return s.stream.Close()
}

type sink struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *sink) Write(frame audio.Samples) error {
	n := copy(s.buf, frame)
	for ; n < len(s.buf); n++ {
		s.buf[n] = 0
	}
	return s.stream.Write()
}

func (s *sink) Close() error {
	_ = s.stream.Stop()
	return s.stream.Close()
}
