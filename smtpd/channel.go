package smtpd

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/matoous/go-nanoid"
	"go.uber.org/zap"

	"github.com/KavitaSah/heralding/mail"
)

// authPhase tracks a multi-round AUTH exchange, at most one round is awaited at a time
type authPhase int

const (
	authNone authPhase = iota
	authLoginUsername
	authLoginPassword
	authPlainResponse
)

func (p authPhase) String() string {
	switch p {
	case authLoginUsername:
		return "login-username"
	case authLoginPassword:
		return "login-password"
	case authPlainResponse:
		return "plain-response"
	}
	return "none"
}

// commands a client may use before it authenticated
var preAuthCommands = map[string]bool{
	"AUTH": true,
	"EHLO": true,
	"HELO": true,
	"NOOP": true,
	"RSET": true,
	"QUIT": true,
}

const readChunk = 4096

// shutdownReplyOut bounds the write of the 421 reply when the server closes
const shutdownReplyOut = 5 * time.Second

// channel handles a single client connection from the banner to close
type channel struct {
	id     string
	conn   net.Conn
	outMu  sync.Mutex // bufout is also written by shutdown
	bufout *bufio.Writer
	framer *framer

	banner   string
	hostname string
	limits   Limits

	authPhase       authPhase
	authenticated   bool // never set, every login is rejected
	greetingSeen    bool
	pendingUsername []byte
	pendingPassword []byte
	envelope        *mail.Envelope

	closing bool
	start   time.Time

	session Session
	sink    MessageSink
	log     *zap.Logger
}

func newChannel(conn net.Conn, banner, hostname string, limits Limits, sess Session, sink MessageSink, logger *zap.Logger) *channel {
	id, err := gonanoid.Nanoid()
	if err != nil {
		// generating nanoid shouldn't really fail, and if, panicing is OK
		panic(err)
	}
	c := &channel{
		id:       id,
		conn:     conn,
		bufout:   bufio.NewWriter(conn),
		banner:   banner,
		hostname: hostname,
		limits:   limits,
		envelope: &mail.Envelope{},
		start:    time.Now(),
		session:  sess,
		sink:     sink,
		log: logger.With(
			zap.String("conn", id),
			zap.String("session", sess.ID()),
			zap.String("remote", conn.RemoteAddr().String()),
		),
	}
	c.framer = newFramer(limits, c.handleUnit)
	return c
}

// out writes reply lines and flushes them, a failed write closes the connection
func (c *channel) out(msgs ...string) {
	c.log.Debug("returning msg", zap.Strings("msgs", msgs))

	c.outMu.Lock()
	err := c.write(c.limits.ReplyOut, msgs...)
	c.outMu.Unlock()
	if err != nil {
		c.log.Error("flush", zap.Error(err))
		c.close()
	}
}

// write must be called with outMu held
func (c *channel) write(timeout time.Duration, msgs ...string) error {
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	for _, msg := range msgs {
		c.bufout.WriteString(msg)
		c.bufout.Write(crlf)
	}
	return c.bufout.Flush()
}

/*
shutdown tells the client the service is going away and closes the connection.
It runs outside of the channel's goroutine, the pending Read fails and serve returns.
*/
func (c *channel) shutdown() {
	c.outMu.Lock()
	err := c.write(shutdownReplyOut, mail.Codes.ErrorShutdown)
	c.outMu.Unlock()
	if err != nil {
		c.log.Debug("shutdown reply", zap.Error(err))
	}
	c.conn.Close()
}

// close marks the connection for closing once the current unit is handled
func (c *channel) close() {
	c.closing = true
}

/*
serve sends the banner and then reads from the connection until it is closed by
either side. Deadlines are set here only, the state machine never sees time.
*/
func (c *channel) serve() {
	defer c.conn.Close()

	metricConnections.Inc()
	c.out("220 " + c.banner)

	buf := make([]byte, readChunk)
	for !c.closing {
		timeout := c.limits.CmdInput
		if c.framer.mode == modeData {
			timeout = c.limits.MsgInput
		}
		c.conn.SetReadDeadline(time.Now().Add(timeout))

		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := c.framer.feed(buf[:n]); ferr != nil {
				c.framingFailed(ferr)
				break
			}
		}
		if err != nil {
			c.readFailed(err)
			break
		}
	}
	c.log.Info("connection closed", zap.Duration("in", time.Since(c.start)))
}

func (c *channel) framingFailed(err error) {
	switch {
	case errors.Is(err, errHalted):
		return
	case errors.Is(err, ErrLineTooLong):
		c.out(mail.Codes.FailLineTooLong)
	case errors.Is(err, ErrMessageTooBig):
		c.out(mail.Codes.FailTooBig)
	}
	c.log.Info("framing failed", zap.Error(err), zap.Stringer("mode", c.framer.mode))
	c.close()
}

func (c *channel) readFailed(err error) {
	var netErr net.Error
	switch {
	case err == io.EOF:
		c.log.Debug("client disconnected", zap.Int("pending", c.framer.buffered()))
	case errors.Is(err, net.ErrClosed):
		c.log.Debug("connection closed by server")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.log.Info("client timed out", zap.Stringer("mode", c.framer.mode))
	default:
		c.log.Error("read", zap.Error(err))
	}
	c.close()
}

// handleUnit is the lineHandler of the framer
func (c *channel) handleUnit(unit []byte) bool {
	if c.framer.mode == modeData {
		c.finishData(unit)
	} else {
		c.handleLine(string(unit))
	}
	return !c.closing
}

// handleLine dispatches a single command line
func (c *channel) handleLine(line string) {
	c.log.Debug("received line", zap.String("line", line), zap.Stringer("auth", c.authPhase))

	if line == "" {
		c.out(mail.Codes.FailBadSyntax)
		return
	}

	// a pending AUTH round consumes the whole line
	if c.authPhase != authNone {
		c.continueAuth(strings.TrimSpace(line))
		return
	}

	cmd := parseCommand(line)
	metricCommands.WithLabelValues(cmd.label()).Inc()

	// deception boundary, nothing that moves mail is reachable before AUTH
	if !c.authenticated && !preAuthCommands[cmd.verb] {
		metricDenied.Inc()
		c.log.Info("command requires authentication", zap.Stringer("cmd", cmd))
		c.out(mail.Codes.FailAuthRequired)
		c.close()
		return
	}

	handler, ok := handlers[cmd.verb]
	if !ok {
		c.out(fmt.Sprintf(mail.Codes.FailCmdNotImplemented, cmd.verb))
		return
	}
	handler(c, cmd.arg)
}
