package fs

import (
	"bytes"
	"io"
)

const lineChunk = 256

// ReadLine reads up to and excluding the next '\n', leaving the read position
// right after it. It returns io.EOF only when nothing was left to read.
func ReadLine(f File) (string, error) {
	var line []byte
	buf := make([]byte, lineChunk)
	for {
		n, err := f.Read(buf)
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			line = append(line, buf[:i]...)
			if back := int64(i + 1 - n); back != 0 {
				if _, serr := f.Seek(back, io.SeekCurrent); serr != nil {
					return string(line), serr
				}
			}
			return string(line), nil
		}
		line = append(line, buf[:n]...)
		if err == io.EOF || (err == nil && n == 0) {
			if len(line) == 0 {
				return "", io.EOF
			}
			return string(line), nil
		}
		if err != nil {
			return string(line), err
		}
	}
}

// WriteLine writes s followed by a newline.
func WriteLine(w io.Writer, s string) error {
	_, err := io.WriteString(w, s+"\n")
	return err
}
