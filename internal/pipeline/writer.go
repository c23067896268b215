package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// jsonlWriter appends one JSON-encoded value per line to a file, flushing
// after every write so a crash never loses an already-written sample
// (§4.4's "every produced sample is flushed to disk before the
// corresponding checkpoint counter is incremented").
type jsonlWriter struct {
	f *os.File
	w *bufio.Writer
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	return &jsonlWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (j *jsonlWriter) WriteAndFlush(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pipeline: encode sample: %w", err)
	}
	if _, err := j.w.Write(data); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *jsonlWriter) Close() error {
	if err := j.w.Flush(); err != nil {
		j.f.Close()
		return err
	}
	return j.f.Close()
}
