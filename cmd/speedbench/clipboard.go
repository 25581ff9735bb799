package main

import (
	"context"
	"io"
	"os"
)

// fileClipboard stands in for the OS clipboard on the command line: it
// reads from a file or stdin and writes to a file or stdout.
type fileClipboard struct {
	path string
	in   io.Reader
	out  io.Writer
}

func newFileClipboard(path string, in io.Reader, out io.Writer) *fileClipboard {
	return &fileClipboard{path: path, in: in, out: out}
}

func (c *fileClipboard) ReadText(_ context.Context) (string, error) {
	if c.path == "" || c.path == "-" {
		data, err := io.ReadAll(c.in)
		return string(data), err
	}
	data, err := os.ReadFile(c.path)
	return string(data), err
}

func (c *fileClipboard) WriteText(_ context.Context, text string) error {
	if c.path == "" || c.path == "-" {
		_, err := io.WriteString(c.out, text+"\n")
		return err
	}
	return os.WriteFile(c.path, []byte(text+"\n"), 0o644)
}
