package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Log and print targets understood by OpenTargets.
const (
	ConsoleTarget = ":console:"
	NoneTarget    = ":none:"
)

// bom marks output and log files as UTF-8 for spreadsheet and editor
// tooling.
const bom = "\ufeff"

// newlineWriter rewrites every '\n' in the stream to a caller-chosen
// sequence. Write reports all of p consumed on success, so wrapped writers
// compose with fmt and encoding/csv.
type newlineWriter struct {
	w       io.Writer
	newline []byte
}

func (nw *newlineWriter) Write(p []byte) (int, error) {
	written := 0
	for {
		i := bytes.IndexByte(p[written:], '\n')
		if i < 0 {
			if _, err := nw.w.Write(p[written:]); err != nil {
				return written, err
			}
			return len(p), nil
		}
		if _, err := nw.w.Write(p[written : written+i]); err != nil {
			return written, err
		}
		if _, err := nw.w.Write(nw.newline); err != nil {
			return written, err
		}
		written += i + 1
	}
}

func wrapNewline(w io.Writer, newline string) io.Writer {
	if newline == "" || newline == "\n" {
		return w
	}
	return &newlineWriter{w: w, newline: []byte(newline)}
}

// OpenTargets resolves a --log_file target list into one writer: ":console:"
// is stdout, ":none:" suppresses, anything else appends to that file (with a
// BOM when the file starts empty). Duplicates collapse; an empty result
// discards. The returned func closes the opened files.
func OpenTargets(targets []string, newline string) (io.Writer, func() error, error) {
	var writers []io.Writer
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	seen := map[string]bool{}
	for _, target := range targets {
		if seen[target] {
			continue
		}
		seen[target] = true
		switch target {
		case ConsoleTarget:
			writers = append(writers, os.Stdout)
		case NoneTarget:
			// Suppressed.
		default:
			f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("open log file %s: %w", target, err)
			}
			if info, err := f.Stat(); err == nil && info.Size() == 0 {
				if _, err := io.WriteString(f, bom); err != nil {
					f.Close()
					closeAll()
					return nil, nil, fmt.Errorf("write log file %s: %w", target, err)
				}
			}
			files = append(files, f)
			writers = append(writers, wrapNewline(f, newline))
		}
	}

	closer := func() error {
		var errs []error
		for _, f := range files {
			if err := f.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	switch len(writers) {
	case 0:
		return io.Discard, closer, nil
	case 1:
		return writers[0], closer, nil
	default:
		return io.MultiWriter(writers...), closer, nil
	}
}
