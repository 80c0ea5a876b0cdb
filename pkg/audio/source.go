package audio

// SourceConfig describes a capture stream request. The processing
// toggles are forwarded to the device layer as-is, hosts that can't
// honor them just ignore them.
type SourceConfig struct {
	Device     string
	SampleRate int
	Channels   int
	// FrameSize is the number of samples per channel in one frame.
	FrameSize     int
	EchoCancel    bool
	NoiseSuppress bool
	AutoGain      bool
}

// SinkConfig describes a playback stream request.
type SinkConfig struct {
	Device     string
	SampleRate int
	Channels   int
	FrameSize  int
}

// Source yields PCM frames from a capture device. Read blocks until
// a full frame is available and fails once the device is gone.
type Source interface {
	Read() (Samples, error)
	Close() error
}

// Sink plays PCM frames on an output device.
type Sink interface {
	Write(Samples) error
	Close() error
}

// Opener abstracts the audio hardware, so everything above it can
// run against synthetic frames as well as real devices.
type Opener interface {
	OpenSource(conf SourceConfig) (Source, error)
	OpenSink(conf SinkConfig) (Sink, error)
}
