package logging

import (
	"bytes"
	"strings"
	"sync"
)

// LineWriter is an io.Writer that logs every complete line it receives.
// It is used to mirror raw subprocess output into the log file.
type LineWriter struct {
	mu     sync.Mutex
	logger *Logger
	level  Level
	buf    bytes.Buffer
}

// NewLineWriter returns a writer logging each line at level through logger.
func NewLineWriter(logger *Logger, level Level) *LineWriter {
	return &LineWriter{logger: logger, level: level}
}

// Write buffers p and logs every complete line. Carriage returns count as
// line breaks so progress-bar redraws become separate records.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexAny(data, "\r\n")
		if idx < 0 {
			break
		}
		line := string(data[:idx])
		w.buf.Next(idx + 1)
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		line := w.buf.String()
		w.buf.Reset()
		w.emit(line)
	}
}

func (w *LineWriter) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	w.logger.log(w.level, line)
}
