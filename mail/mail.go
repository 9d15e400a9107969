package mail

import (
	"bytes"
	"net/mail"
	"net/textproto"
)

// Message is a parsed message body as handed to a message sink
type Message struct {
	mail.Message
}

// New parses raw message data. The data doesn't need CRLF line endings,
// net/mail accepts bare LF as well.
func New(raw []byte) (m *Message, err error) {
	t, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &Message{Message: *t}, nil
}

// HaveHeader checks the existence of header
func (m *Message) HaveHeader(key string) bool {
	return len(m.Header.Get(key)) != 0
}

// GetHeader get one header, or the first occurence if there is multiple headers with this key
func (m *Message) GetHeader(key string) string {
	return m.Header.Get(key)
}

// GetHeaders returns all the headers corresponding to the key key
func (m *Message) GetHeaders(key string) []string {
	return m.Header[textproto.CanonicalMIMEHeaderKey(key)]
}
