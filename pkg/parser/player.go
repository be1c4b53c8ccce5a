package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/goccy/go-json"
)

// MaxLineSize bounds a single import line. Longer lines are skipped as malformed.
const MaxLineSize = 64 * 1024

// ErrLineTooLong is reported for a line longer than MaxLineSize
var ErrLineTooLong = fmt.Errorf("line exceeds %d bytes", MaxLineSize)

// Entry is one player balance read from an import file
type Entry struct {
	Player string `json:"player"`
	Points int    `json:"points"`
}

// LineError reports a malformed line. Callers skip it and keep going.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ParseEntry deserializes a single JSON object into an Entry
func ParseEntry(data []byte) (Entry, error) {
	var raw struct {
		Player string `json:"player"`
		Points *int   `json:"points"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	if raw.Player == "" {
		return Entry{}, errors.New("missing player")
	}
	if raw.Points == nil {
		return Entry{}, errors.New("missing points")
	}
	if *raw.Points < math.MinInt32 || *raw.Points > math.MaxInt32 {
		return Entry{}, fmt.Errorf("points %d out of range", *raw.Points)
	}

	return Entry{Player: raw.Player, Points: *raw.Points}, nil
}

// ScanEntries reads newline-delimited JSON entries from r and calls fn for each.
// Blank lines are ignored. Malformed and overlong lines go to onError and the
// scan continues with the next line. A non-nil error from fn stops the scan.
func ScanEntries(r io.Reader, fn func(line int, e Entry) error, onError func(*LineError)) error {
	br := bufio.NewReaderSize(r, MaxLineSize)
	report := func(le *LineError) {
		if onError != nil {
			onError(le)
		}
	}

	for line := 1; ; line++ {
		data, isPrefix, err := br.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if isPrefix {
			if err := discardLine(br); err != nil && err != io.EOF {
				return err
			}
			report(&LineError{Line: line, Err: ErrLineTooLong})
			continue
		}

		text := bytes.TrimSpace(data)
		if len(text) == 0 {
			continue
		}

		entry, err := ParseEntry(text)
		if err != nil {
			report(&LineError{Line: line, Err: err})
			continue
		}
		if err := fn(line, entry); err != nil {
			return err
		}
	}
}

// discardLine drops the rest of a line ReadLine could not return in one piece
func discardLine(br *bufio.Reader) error {
	for {
		_, isPrefix, err := br.ReadLine()
		if err != nil || !isPrefix {
			return err
		}
	}
}
