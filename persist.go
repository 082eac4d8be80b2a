package voltacq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// PersistenceWriter appends every sample of every batch to a text file, one line per
// sample: "index, value" or "index, value1, value2". The file is opened and closed again
// for each batch, so no handle lingers between batches. It is never truncated.
type PersistenceWriter struct {
	Path string
}

// NewPersistenceWriter creates a PersistenceWriter for the given destination.
func NewPersistenceWriter(path string) *PersistenceWriter {
	return &PersistenceWriter{Path: path}
}

// Name identifies the consumer in logs and metrics.
func (pw *PersistenceWriter) Name() string { return "persistence" }

// Consume appends one row per sample of the batch.
func (pw *PersistenceWriter) Consume(batch Batch) error {
	f, err := os.OpenFile(pw.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return &IOError{Path: pw.Path, Err: err}
	}
	w := bufio.NewWriter(f)
	if err := WriteRows(w, batch); err != nil {
		f.Close()
		return &IOError{Path: pw.Path, Err: err}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return &IOError{Path: pw.Path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Path: pw.Path, Err: err}
	}
	return nil
}

// WriteRows writes the rows of a batch, channels interleaved per row.
func WriteRows(w io.Writer, batch Batch) error {
	line := make([]byte, 0, 64)
	for i := 0; i < batch.Len(); i++ {
		line = FormatRow(line[:0], batch.FirstIndex+int64(i), batch.Channels, i)
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// FormatRow appends the text line for sample i of the given channels to dst.
func FormatRow(dst []byte, index int64, channels [][]float64, i int) []byte {
	dst = strconv.AppendInt(dst, index, 10)
	for _, values := range channels {
		dst = fmt.Appendf(dst, ", %10.6f", values[i])
	}
	return append(dst, '\n')
}
