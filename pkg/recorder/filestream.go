package recorder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// One flush per few hundred audio frames keeps the write path off
// the disk most of the time.
const fileBufferSize = 64 << 10

type fileStream struct {
	sync.Mutex

	f *os.File
	w *bufio.Writer
}

func newFileStream(dir string, name string) (*fileStream, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &fileStream{f: f, w: bufio.NewWriterSize(f, fileBufferSize)}, nil
}

func (f *fileStream) Write(data []byte) error {
	f.Lock()
	n, err := f.w.Write(data)
	f.Unlock()
	if err != nil {
		return err
	}
	if n < len(data) {
		return fmt.Errorf("write size mismatch [%v!=%v]", n, len(data))
	}
	return nil
}

func (f *fileStream) Flush() error {
	f.Lock()
	defer f.Unlock()
	return f.w.Flush()
}

func (f *fileStream) Size() (int64, error) {
	if err := f.Flush(); err != nil {
		return -1, err
	}
	f.Lock()
	defer f.Unlock()
	inf, err := f.f.Stat()
	if err != nil {
		return -1, err
	}
	return inf.Size(), nil
}

// WriteAtStart patches data over the beginning of the file without
// moving the append position.
func (f *fileStream) WriteAtStart(data []byte) error {
	if err := f.Flush(); err != nil {
		return err
	}
	f.Lock()
	defer f.Unlock()
	_, err := f.f.WriteAt(data, 0)
	return err
}

func (f *fileStream) Close() error {
	if err := f.Flush(); err != nil {
		_ = f.f.Close()
		return err
	}
	return f.f.Close()
}
