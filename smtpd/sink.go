package smtpd

import (
	"net"

	"go.uber.org/zap"

	"github.com/KavitaSah/heralding/mail"
)

/*
Session is the per-connection collaborator recording what the client did.
ReportCredentials returns whether the pair is valid, the channel ignores the verdict
and fails the login anyway. Implementations must be safe for concurrent use.
*/
type Session interface {
	ID() string
	ReportCredentials(username, password []byte) bool
	Close()
}

// OpenSessionFunc creates the Session of a new connection from remote
type OpenSessionFunc func(remote net.Addr) Session

/*
MessageSink is object on which AcceptMessage is called after a whole message
was received. An empty status means success ("250 Ok"), anything else is sent
to the client verbatim as the reply.
*/
type MessageSink interface {
	AcceptMessage(peer net.Addr, mailFrom string, rcptTo []string, body []byte) string
}

// DiscardSink logs and drops every message
type DiscardSink struct {
	Log *zap.Logger
}

// AcceptMessage logs the message and discards it
func (d *DiscardSink) AcceptMessage(peer net.Addr, mailFrom string, rcptTo []string, body []byte) string {
	if d.Log == nil {
		return ""
	}
	fields := []zap.Field{
		zap.Stringer("peer", peer),
		zap.String("from", mailFrom),
		zap.Strings("to", rcptTo),
		zap.Int("size", len(body)),
	}
	if m, err := mail.New(body); err == nil {
		if m.HaveHeader("Subject") {
			fields = append(fields, zap.String("subject", m.GetHeader("Subject")))
		}
		fields = append(fields, zap.Int("received_hops", len(m.GetHeaders("Received"))))
	}
	d.Log.Debug("discarding message", fields...)
	return ""
}
