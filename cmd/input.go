package main

import (
	"bufio"
	"context"
	"io"
)

// lineReader reads lines on its own goroutine so a blocked read never
// delays an interrupt.
type lineReader struct {
	lines chan string
	err   error // set before lines is closed
}

func newLineReader(ctx context.Context, r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan string)}
	go func() {
		defer close(lr.lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lr.lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		lr.err = scanner.Err()
	}()
	return lr
}

// Next returns the next line, io.EOF at end of input, or ctx.Err() once
// ctx is done.
func (lr *lineReader) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-lr.lines:
		if !ok {
			if lr.err != nil {
				return "", lr.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}
