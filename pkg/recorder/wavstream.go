package recorder

import (
	"encoding/binary"

	"github.com/hashicorp/go-multierror"

	"github.com/voxmesh/voxmesh/pkg/audio"
)

type wavStream struct {
	rate     int
	channels int
	wav      *fileStream
}

const wavHeaderSize = 44

// newWavStream opens the file and pads the header region, the real
// header lands at Close when the payload size is known.
func newWavStream(dir, name string, rate, channels int) (*wavStream, error) {
	wav, err := newFileStream(dir, name)
	if err != nil {
		return nil, err
	}
	if err = wav.Write(make([]byte, wavHeaderSize)); err != nil {
		_ = wav.Close()
		return nil, err
	}
	return &wavStream{rate: rate, channels: channels, wav: wav}, nil
}

func (w *wavStream) Write(pcm audio.Samples) error {
	bs := make([]byte, len(pcm)*2)
	for i, ln := 0, len(pcm); i < ln; i++ {
		binary.LittleEndian.PutUint16(bs[i*2:i*2+2], uint16(pcm[i]))
	}
	return w.wav.Write(bs)
}

func (w *wavStream) Close() error {
	var result *multierror.Error
	size, err := w.wav.Size()
	result = multierror.Append(result, err)
	if size > 0 {
		result = multierror.Append(result, w.wav.WriteAtStart(wavHeader(uint32(size), w.rate, w.channels)))
	}
	result = multierror.Append(result, w.wav.Close())
	return result.ErrorOrNil()
}

// wavHeader builds a RIFF WAVE header for a 16-bit PCM payload.
// See: http://soundfile.sapp.org/doc/WaveFormat
func wavHeader(fileSize uint32, rate, channels int) []byte {
	const bits = 16
	payload := fileSize - wavHeaderSize
	h := make([]byte, wavHeaderSize)
	le := binary.LittleEndian
	copy(h[0:4], "RIFF")
	le.PutUint32(h[4:], payload+36)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	le.PutUint32(h[16:], 16)
	le.PutUint16(h[20:], 1)
	le.PutUint16(h[22:], uint16(channels))
	le.PutUint32(h[24:], uint32(rate))
	le.PutUint32(h[28:], uint32(rate*channels*bits/8))
	le.PutUint16(h[32:], uint16(channels*bits/8))
	le.PutUint16(h[34:], bits)
	copy(h[36:40], "data")
	le.PutUint32(h[40:], payload)
	return h
}
