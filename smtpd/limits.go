package smtpd

import "time"

// Limits hold the connection limitations - sizes and timeouts
type Limits struct {
	CmdInput      time.Duration // waiting for a client command
	MsgInput      time.Duration // waiting for message data after DATA
	ReplyOut      time.Duration // server reply time
	MaxLineLength int           // longest command line without CRLF
	MsgSize       int64         // max email size
}

// DefaultLimits that are applied if you do not specify custom limits
// Two minutes for command input and command replies, ten minutes for
// receiving messages, and 5 Mbytes of message size. Command lines may be as long
// as an AUTH response is allowed to be (RFC 4954 section 4).
var DefaultLimits = Limits{
	CmdInput:      2 * time.Minute,
	MsgInput:      10 * time.Minute,
	ReplyOut:      2 * time.Minute,
	MaxLineLength: 12288,
	MsgSize:       5 * 1024 * 1024,
}

// withDefaults fills every zero field from DefaultLimits, a zero timeout would
// otherwise be a deadline in the past
func (l Limits) withDefaults() Limits {
	if l.CmdInput <= 0 {
		l.CmdInput = DefaultLimits.CmdInput
	}
	if l.MsgInput <= 0 {
		l.MsgInput = DefaultLimits.MsgInput
	}
	if l.ReplyOut <= 0 {
		l.ReplyOut = DefaultLimits.ReplyOut
	}
	if l.MaxLineLength <= 0 {
		l.MaxLineLength = DefaultLimits.MaxLineLength
	}
	if l.MsgSize <= 0 {
		l.MsgSize = DefaultLimits.MsgSize
	}
	return l
}
