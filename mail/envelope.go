package mail

import (
	"bytes"

	"github.com/go-errors/errors"
)

// ErrNoRecipients is returned by BeginData when no RCPT was accepted
var ErrNoRecipients = errors.New("no valid recipients")

// Envelope represents a message envelope
type Envelope struct {
	// Envelope sender, nil until MAIL was accepted
	MailFrom *Address
	// Envelope recipients
	MailTo []Address
	// Data stores the header and message body
	Data *bytes.Buffer
}

// IsSet returns if the envelope is set
func (e *Envelope) IsSet() bool {
	return e.MailFrom != nil
}

// Sender returns the envelope sender as a string, "" for the null reverse-path
func (e *Envelope) Sender() string {
	if e.MailFrom == nil {
		return ""
	}
	return string(*e.MailFrom)
}

// Recipients returns the recipients as plain strings
func (e *Envelope) Recipients() []string {
	rcpts := make([]string, 0, len(e.MailTo))
	for _, a := range e.MailTo {
		rcpts = append(rcpts, string(a))
	}
	return rcpts
}

// Bytes returns the received message data
func (e *Envelope) Bytes() []byte {
	if e.Data == nil {
		return nil
	}
	return e.Data.Bytes()
}

// Reset resets envelope to initial state
func (e *Envelope) Reset() {
	e.MailTo = nil
	e.MailFrom = nil
	if e.Data != nil {
		e.Data.Reset()
	}
}

// AddRecipient adds recipient to envelope recipients
func (e *Envelope) AddRecipient(rcpt Address) {
	e.MailTo = append(e.MailTo, rcpt)
}

// BeginData prepares the envelope for the message body
func (e *Envelope) BeginData() error {
	if len(e.MailTo) == 0 {
		return ErrNoRecipients
	}
	e.Data = bytes.NewBuffer([]byte{})
	return nil
}

// Write writes bytes to envelope buffer
func (e *Envelope) Write(p []byte) (int, error) {
	if e.Data == nil {
		e.Data = bytes.NewBuffer([]byte{})
	}
	return e.Data.Write(p)
}
