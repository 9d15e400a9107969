package smtpd

import (
	"bytes"

	"github.com/go-errors/errors"
)

type frameMode int

const (
	modeCommand frameMode = iota // units end with CRLF
	modeData                     // units end with CRLF.CRLF
)

func (m frameMode) String() string {
	if m == modeData {
		return "data"
	}
	return "command"
}

var (
	crlf       = []byte("\r\n")
	dataEnd    = []byte("\r\n.\r\n")
	emptyData  = []byte(".\r\n")
	errHalted  = errors.New("line handler stopped framing")
	errUnknown = errors.New("unknown frame mode")
)

var (
	// ErrLineTooLong is returned when a command line exceeds Limits.MaxLineLength
	ErrLineTooLong = errors.New("command line too long")
	// ErrMessageTooBig is returned when message data exceeds Limits.MsgSize
	ErrMessageTooBig = errors.New("message too big")
)

// lineHandler consumes one logical unit, the terminator is already stripped.
// It returns false when no more units should be handed over.
type lineHandler func(unit []byte) bool

/*
framer turns the byte stream of a connection into logical units independent of
how the stream was segmented. The mode may be changed by the handler, the new
terminator applies to the bytes still buffered.
*/
type framer struct {
	buf     []byte
	scanned int // DATA mode, buf[:scanned] holds no terminator start
	mode    frameMode
	maxLine int
	maxData int64
	handle  lineHandler
}

func newFramer(limits Limits, handle lineHandler) *framer {
	return &framer{
		mode:    modeCommand,
		maxLine: limits.MaxLineLength,
		maxData: limits.MsgSize,
		handle:  handle,
	}
}

func (f *framer) setMode(m frameMode) {
	f.mode = m
	f.scanned = 0
}

// feed appends p to the buffer and hands every complete unit to the handler
func (f *framer) feed(p []byte) error {
	f.buf = append(f.buf, p...)
	for {
		unit, rest, ok, err := f.next()
		if err != nil {
			f.reset()
			return err
		}
		if !ok {
			break
		}
		f.buf = rest
		f.scanned = 0
		if !f.handle(unit) {
			f.reset()
			return errHalted
		}
	}
	if len(f.buf) == 0 {
		f.buf = nil
		return nil
	}
	return f.checkPending()
}

// next cuts the next complete unit off the buffer
func (f *framer) next() (unit, rest []byte, ok bool, err error) {
	switch f.mode {
	case modeCommand:
		i := bytes.Index(f.buf, crlf)
		if i < 0 {
			return nil, f.buf, false, nil
		}
		if f.maxLine > 0 && i > f.maxLine {
			return nil, nil, false, ErrLineTooLong
		}
		return f.buf[:i], f.buf[i+len(crlf):], true, nil
	case modeData:
		// the block ends with a line holding a single dot, an empty message
		// has no CRLF in front of that line
		if bytes.HasPrefix(f.buf, emptyData) {
			return []byte{}, f.buf[len(emptyData):], true, nil
		}
		i := bytes.Index(f.buf[f.scanned:], dataEnd)
		if i < 0 {
			// a terminator may still start in the last few bytes
			f.scanned = max(0, len(f.buf)-len(dataEnd)+1)
			return nil, f.buf, false, nil
		}
		i += f.scanned
		if f.maxData > 0 && int64(i) > f.maxData {
			return nil, nil, false, ErrMessageTooBig
		}
		return f.buf[:i], f.buf[i+len(dataEnd):], true, nil
	}
	return nil, nil, false, errUnknown
}

// checkPending enforces the limits on a unit still waiting for its terminator
func (f *framer) checkPending() error {
	switch {
	case f.mode == modeCommand && f.maxLine > 0 && len(f.buf) > f.maxLine+len(crlf):
		f.reset()
		return ErrLineTooLong
	case f.mode == modeData && f.maxData > 0 && int64(len(f.buf)) > f.maxData+int64(len(dataEnd)):
		f.reset()
		return ErrMessageTooBig
	}
	return nil
}

func (f *framer) reset() {
	f.buf = nil
	f.scanned = 0
}

// buffered returns the number of bytes waiting for a terminator
func (f *framer) buffered() int {
	return len(f.buf)
}

// detransparent removes the leading dot of every line of a DATA block
// (RFC 821 section 4.5.2) and joins the lines with LF
func detransparent(block []byte) []byte {
	lines := bytes.Split(block, crlf)
	for i, line := range lines {
		if len(line) > 0 && line[0] == '.' {
			lines[i] = line[1:]
		}
	}
	return bytes.Join(lines, []byte{'\n'})
}
