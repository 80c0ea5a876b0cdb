package recorder

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
)

// compress packs the source directory into dest.zip, entries keep
// the directory name as their prefix.
func compress(source, dest string) (err error) {
	f, err := os.Create(dest + ".zip")
	if err != nil {
		return err
	}
	defer func() {
		if er := f.Close(); err == nil {
			err = er
		}
	}()

	writer := zip.NewWriter(f)
	defer func() {
		if er := writer.Close(); err == nil {
			err = er
		}
	}()

	return filepath.Walk(source, func(path string, info os.FileInfo, err error) (er error) {
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}

		header.Method = zip.Deflate

		header.Name, err = filepath.Rel(filepath.Dir(source), path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			header.Name += "/"
		}

		headerWriter, err := writer.CreateHeader(header)
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { er = src.Close() }()

		_, err = io.Copy(headerWriter, src)
		return err
	})
}
