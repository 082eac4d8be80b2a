package voltacq

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFormatRow(t *testing.T) {
	channels := [][]float64{{1, 2}, {10, 20}}
	got := string(FormatRow(nil, 0, channels, 0))
	if want := "0,   1.000000,  10.000000\n"; got != want {
		t.Errorf("FormatRow two channels = %q, want %q", got, want)
	}
	got = string(FormatRow(nil, 12345, channels[:1], 1))
	if want := "12345,   2.000000\n"; got != want {
		t.Errorf("FormatRow one channel = %q, want %q", got, want)
	}
	got = string(FormatRow(nil, 7, [][]float64{{-1234.5678901}}, 0))
	if want := "7, -1234.567890\n"; got != want {
		t.Errorf("FormatRow negative = %q, want %q", got, want)
	}
}

func TestWriteRows(t *testing.T) {
	var b bytes.Buffer
	batch := Batch{FirstIndex: 100, Channels: [][]float64{{1.5, 2.5, 3.5}}}
	if err := WriteRows(&b, batch); err != nil {
		t.Fatal(err)
	}
	want := "100,   1.500000\n101,   2.500000\n102,   3.500000\n"
	if b.String() != want {
		t.Errorf("WriteRows wrote %q, want %q", b.String(), want)
	}
}

func TestPersistenceAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	if err := os.WriteFile(path, []byte("existing\n"), 0664); err != nil {
		t.Fatal(err)
	}
	pw := NewPersistenceWriter(path)
	if pw.Name() != "persistence" {
		t.Errorf("Name() = %q, want persistence", pw.Name())
	}
	for i := int64(0); i < 2; i++ {
		batch := Batch{FirstIndex: 2 * i, Channels: [][]float64{{1, 2}, {10, 20}}}
		if err := pw.Consume(batch); err != nil {
			t.Fatal(err)
		}
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "existing\n" +
		"0,   1.000000,  10.000000\n" +
		"1,   2.000000,  20.000000\n" +
		"2,   1.000000,  10.000000\n" +
		"3,   2.000000,  20.000000\n"
	if string(contents) != want {
		t.Errorf("persisted file is\n%s\nwant\n%s", contents, want)
	}
}

func TestPersistenceIOError(t *testing.T) {
	pw := NewPersistenceWriter(filepath.Join(t.TempDir(), "missing", "data.txt"))
	err := pw.Consume(Batch{Channels: [][]float64{{1}}})
	var ioe *IOError
	if !errors.As(err, &ioe) {
		t.Fatalf("Consume into a missing directory returned %v, want *IOError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("IOError should wrap os.ErrNotExist, got %v", err)
	}
}
