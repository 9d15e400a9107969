package smtpd

import (
	"bytes"
	"encoding/base64"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testBanner   = "Microsoft ESMTP MAIL service ready"
	testHostname = "mx.example.com"
)

var testPeer = &net.TCPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 50000}

// fakeConn records everything written to it, the channel is driven through the framer
type fakeConn struct {
	out    bytes.Buffer
	closed bool
}

func (f *fakeConn) Read(p []byte) (int, error)         { return 0, io.EOF }
func (f *fakeConn) Write(p []byte) (int, error)        { return f.out.Write(p) }
func (f *fakeConn) Close() error                       { f.closed = true; return nil }
func (f *fakeConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 25} }
func (f *fakeConn) RemoteAddr() net.Addr               { return testPeer }
func (f *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

type credentials struct {
	username, password string
}

type fakeSession struct {
	sync.Mutex
	verdict bool
	reports []credentials
	closed  int
}

func (s *fakeSession) ID() string { return "test-session" }

func (s *fakeSession) ReportCredentials(username, password []byte) bool {
	s.Lock()
	defer s.Unlock()
	s.reports = append(s.reports, credentials{string(username), string(password)})
	return s.verdict
}

func (s *fakeSession) Close() {
	s.Lock()
	s.closed++
	s.Unlock()
}

func (s *fakeSession) captured() []credentials {
	s.Lock()
	defer s.Unlock()
	return append([]credentials(nil), s.reports...)
}

type message struct {
	from string
	to   []string
	body string
}

type fakeSink struct {
	status   string
	messages []message
}

func (s *fakeSink) AcceptMessage(peer net.Addr, mailFrom string, rcptTo []string, body []byte) string {
	s.messages = append(s.messages, message{mailFrom, rcptTo, string(body)})
	return s.status
}

type harness struct {
	c    *channel
	conn *fakeConn
	sess *fakeSession
	sink *fakeSink
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		conn: &fakeConn{},
		sess: &fakeSession{},
		sink: &fakeSink{},
	}
	h.c = newChannel(h.conn, testBanner, testHostname, DefaultLimits, h.sess, h.sink, zaptest.NewLogger(t))
	return h
}

// send feeds raw bytes to the channel and returns the reply lines written since the last call
func (h *harness) send(t *testing.T, raw string) []string {
	err := h.c.framer.feed([]byte(raw))
	if err != nil && !errors.Is(err, errHalted) {
		t.Fatalf("feed %q: %v", raw, err)
	}
	out := h.conn.out.String()
	h.conn.out.Reset()
	if out == "" {
		return nil
	}
	require.True(t, strings.HasSuffix(out, "\r\n"), "every reply line ends with CRLF")
	return strings.Split(strings.TrimSuffix(out, "\r\n"), "\r\n")
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestChannel_EmptyLine(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"500 Error: bad syntax"}, h.send(t, "\r\n"))
	assert.False(t, h.c.closing)
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "NOOP\r\n"))
}

func TestChannel_AuthRequired(t *testing.T) {
	for _, line := range []string{
		"MAIL FROM:<a@example.com>",
		"RCPT TO:<b@example.com>",
		"DATA",
		"VRFY postmaster",
		"STARTTLS",
		"XYZZY",
	} {
		t.Run(line, func(t *testing.T) {
			h := newHarness(t)
			assert.Equal(t, []string{"530 Authentication required"}, h.send(t, line+"\r\nNOOP\r\n"))
			assert.True(t, h.c.closing, "connection should be closing")
			assert.Equal(t, 0, h.c.framer.buffered(), "pipelined commands are dropped")
			assert.Empty(t, h.sess.captured())
		})
	}
}

func TestChannel_NoopRset(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "NOOP\r\n"))
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "noop\r\n"), "verbs are case-insensitive")
	assert.Equal(t, []string{"501 Syntax: NOOP"}, h.send(t, "NOOP now\r\n"))
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "RSET\r\n"))
	assert.Equal(t, []string{"501 Syntax: RSET"}, h.send(t, "RSET all\r\n"))
	assert.False(t, h.c.closing)
}

func TestChannel_Ehlo(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{
		"250-" + testBanner + " Hello mail.example.com",
		"250-AUTH PLAIN LOGIN",
		"250 EHLO",
	}, h.send(t, "EHLO mail.example.com\r\n"))
	assert.Equal(t, []string{"503 Duplicate HELO/EHLO"}, h.send(t, "EHLO mail.example.com\r\n"))
	assert.Equal(t, []string{"503 Duplicate HELO/EHLO"}, h.send(t, "HELO mail.example.com\r\n"))
	assert.False(t, h.c.closing)
}

func TestChannel_Helo(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"501 Syntax: HELO/EHLO hostname"}, h.send(t, "HELO\r\n"))
	assert.Equal(t, []string{"501 Syntax: HELO/EHLO hostname"}, h.send(t, "EHLO   \r\n"))
	assert.False(t, h.c.greetingSeen, "a rejected greeting doesn't count")
	assert.Equal(t, []string{"250 " + testHostname}, h.send(t, "HELO client.example.com\r\n"))
	assert.True(t, h.c.greetingSeen)
}

func TestChannel_AuthLogin(t *testing.T) {
	h := newHarness(t)
	h.send(t, "EHLO client\r\n")

	assert.Equal(t, []string{"334 VXNlcm5hbWU6"}, h.send(t, "AUTH LOGIN\r\n"))
	assert.Equal(t, authLoginUsername, h.c.authPhase)
	assert.Empty(t, h.send(t, b64("bob")+"\r\n"), "no reply after the username")
	assert.Equal(t, authLoginPassword, h.c.authPhase)
	assert.Equal(t, []string{"535 authentication failed"}, h.send(t, b64("secret")+"\r\n"))

	assert.True(t, h.c.closing)
	assert.False(t, h.c.authenticated)
	assert.Equal(t, authNone, h.c.authPhase)
	assert.Equal(t, []credentials{{"bob", "secret"}}, h.sess.captured())
}

func TestChannel_AuthLoginInitialResponse(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"334 UGFzc3dvcmQ6"}, h.send(t, "auth login "+b64("bob")+"\r\n"))
	assert.Equal(t, []string{"535 authentication failed"}, h.send(t, b64("hunter2")+"\r\n"))
	assert.Equal(t, []credentials{{"bob", "hunter2"}}, h.sess.captured())
}

func TestChannel_AuthPlain(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"535 Authentication Failed"}, h.send(t, "AUTH PLAIN "+b64("\x00alice\x00pw1")+"\r\n"))
	assert.True(t, h.c.closing)
	assert.Equal(t, []credentials{{"alice", "pw1"}}, h.sess.captured())

	h = newHarness(t)
	assert.Equal(t, []string{"334 "}, h.send(t, "AUTH PLAIN\r\n"))
	assert.Equal(t, authPlainResponse, h.c.authPhase)
	assert.Equal(t, []string{"535 Authentication Failed"}, h.send(t, b64("admin\x00alice\x00pw2")+"\r\n"))
	assert.Equal(t, []credentials{{"alice", "pw2"}}, h.sess.captured(), "authzid is dropped")
}

func TestChannel_AuthVerdictIgnored(t *testing.T) {
	h := newHarness(t)
	h.sess.verdict = true
	assert.Equal(t, []string{"535 Authentication Failed"}, h.send(t, "AUTH PLAIN "+b64("\x00decoy\x00decoy")+"\r\n"))
	assert.False(t, h.c.authenticated)
	assert.True(t, h.c.closing)
}

func TestChannel_Metrics(t *testing.T) {
	rejected := testutil.ToFloat64(metricAuth.WithLabelValues(mechPlain, "rejected"))
	denied := testutil.ToFloat64(metricDenied)
	noops := testutil.ToFloat64(metricCommands.WithLabelValues("NOOP"))

	h := newHarness(t)
	h.send(t, "NOOP\r\n")
	h.send(t, "AUTH PLAIN "+b64("\x00a\x00b")+"\r\n")
	newHarness(t).send(t, "DATA\r\n")

	assert.Equal(t, rejected+1, testutil.ToFloat64(metricAuth.WithLabelValues(mechPlain, "rejected")))
	assert.Equal(t, denied+1, testutil.ToFloat64(metricDenied))
	assert.Equal(t, noops+1, testutil.ToFloat64(metricCommands.WithLabelValues("NOOP")))
}

func TestChannel_AuthMalformed(t *testing.T) {
	h := newHarness(t)
	h.send(t, "AUTH LOGIN\r\n")
	assert.Equal(t, []string{"501 malformed AUTH response"}, h.send(t, "!!!notbase64\r\n"))
	assert.Equal(t, authNone, h.c.authPhase)
	assert.False(t, h.c.closing)
	assert.Empty(t, h.sess.captured())
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "NOOP\r\n"), "back to command mode")

	assert.Equal(t, []string{"501 malformed AUTH response"}, h.send(t, "AUTH LOGIN %%%\r\n"))

	for _, resp := range []string{"alice\x00pw", "a\x00b\x00c\x00d"} {
		assert.Equal(t, []string{"501 malformed AUTH response"}, h.send(t, "AUTH PLAIN "+b64(resp)+"\r\n"))
	}
	assert.False(t, h.c.closing)
	assert.Empty(t, h.sess.captured())
}

func TestChannel_AuthCancel(t *testing.T) {
	h := newHarness(t)
	h.send(t, "AUTH PLAIN\r\n")
	assert.Equal(t, []string{"501 Authentication cancelled"}, h.send(t, "*\r\n"))
	assert.Equal(t, authNone, h.c.authPhase)

	h.send(t, "AUTH LOGIN "+b64("bob")+"\r\n")
	assert.Equal(t, []string{"501 Authentication cancelled"}, h.send(t, "*\r\n"))
	assert.Nil(t, h.c.pendingUsername)
	assert.False(t, h.c.closing)
}

func TestChannel_AuthSyntax(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"504 Unrecognized authentication type"}, h.send(t, "AUTH CRAM-MD5\r\n"))
	assert.Equal(t, []string{"501 Syntax: AUTH mechanism [initial-response]"}, h.send(t, "AUTH\r\n"))
	assert.Equal(t, authNone, h.c.authPhase)
	assert.False(t, h.c.closing)
}

func TestAuthMechanismValid(t *testing.T) {
	for _, mech := range SupportedAuthMechanisms {
		assert.True(t, authMechanismValid(mech))
	}
	assert.True(t, authMechanismValid("login"), "mechanism names are case-insensitive")
	assert.False(t, authMechanismValid("CRAM-MD5"))
	assert.False(t, authMechanismValid("XOAUTH2"))
	assert.Equal(t, "250-AUTH PLAIN LOGIN", authAd)
}

func TestChannel_AuthContinuationFirst(t *testing.T) {
	h := newHarness(t)
	h.send(t, "AUTH LOGIN\r\n")
	// QUIT is valid base64, while a round is pending it is the username
	assert.Empty(t, h.send(t, "QUIT\r\n"))
	assert.False(t, h.c.closing)
	assert.Equal(t, authLoginPassword, h.c.authPhase)
}

func TestChannel_CredentialsRoundTrip(t *testing.T) {
	for _, creds := range []credentials{
		{"user@example.com", "P@ss w0rd!"},
		{"přihlášení", "heslo€"},
		{"\xff\xfe", "\x01\x02\x03"},
		{"", ""},
	} {
		h := newHarness(t)
		h.send(t, "AUTH LOGIN\r\n")
		h.send(t, b64(creds.username)+"\r\n")
		h.send(t, b64(creds.password)+"\r\n")

		h2 := newHarness(t)
		h2.send(t, "AUTH PLAIN "+b64("\x00"+creds.username+"\x00"+creds.password)+"\r\n")

		if creds.username == "" {
			// an empty LOGIN line is a syntax error, not an empty username
			assert.Empty(t, h.sess.captured())
		} else {
			assert.Equal(t, []credentials{creds}, h.sess.captured())
		}
		assert.Equal(t, []credentials{creds}, h2.sess.captured())
	}
}

func TestChannel_Quit(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"221 Bye"}, h.send(t, "QUIT\r\nNOOP\r\n"))
	assert.True(t, h.c.closing)
}

func TestChannel_Pipelining(t *testing.T) {
	h := newHarness(t)
	var replies []string
	for _, chunk := range []string{"EH", "LO x\r", "\nNOOP\r\nRS", "ET\r\n"} {
		replies = append(replies, h.send(t, chunk)...)
	}
	assert.Equal(t, []string{
		"250-" + testBanner + " Hello x",
		"250-AUTH PLAIN LOGIN",
		"250 EHLO",
		"250 Ok",
		"250 Ok",
	}, replies)
}

func TestChannel_NotImplemented(t *testing.T) {
	h := newHarness(t)
	h.c.authenticated = true
	assert.Equal(t, []string{`502 Error: command "VRFY" not implemented`}, h.send(t, "VRFY postmaster\r\n"))
	assert.False(t, h.c.closing)
}

func TestChannel_Transaction(t *testing.T) {
	h := newHarness(t)
	h.c.authenticated = true

	assert.Equal(t, []string{"503 Error: need MAIL command"}, h.send(t, "RCPT TO:<b@example.com>\r\n"))
	assert.Equal(t, []string{"501 Syntax: MAIL FROM:<address>"}, h.send(t, "MAIL TO:<a@example.com>\r\n"))
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "MAIL FROM:<a@example.com>\r\n"))
	assert.Equal(t, []string{"503 Error: nested MAIL command"}, h.send(t, "MAIL FROM:<a@example.com>\r\n"))
	assert.Equal(t, []string{"503 Error: need RCPT command"}, h.send(t, "DATA\r\n"))
	assert.Equal(t, []string{"501 Syntax: RCPT TO: <address>"}, h.send(t, "RCPT TO:<>\r\n"))
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "RCPT TO:<b@example.com>\r\n"))
	assert.Equal(t, []string{"250 Ok"}, h.send(t, "RCPT TO:<c@example.com>\r\n"))
	assert.Equal(t, []string{"501 Syntax: DATA"}, h.send(t, "DATA now\r\n"))
	assert.Equal(t, []string{"354 End data with <CR><LF>.<CR><LF>"}, h.send(t, "DATA\r\n"))
	assert.Equal(t, modeData, h.c.framer.mode)

	assert.Empty(t, h.send(t, "Subject: hi\r\n\r\n..hello\r\n"))
	assert.Equal(t, []string{"250 Ok", "250 Ok"}, h.send(t, "world\r\n.\r\nNOOP\r\n"))
	assert.Equal(t, modeCommand, h.c.framer.mode)

	require.Len(t, h.sink.messages, 1)
	assert.Equal(t, message{
		from: "a@example.com",
		to:   []string{"b@example.com", "c@example.com"},
		body: "Subject: hi\n\n.hello\nworld",
	}, h.sink.messages[0])

	assert.False(t, h.c.envelope.IsSet(), "envelope is reset after the message")
	assert.Equal(t, []string{"503 Error: need MAIL command"}, h.send(t, "RCPT TO:<b@example.com>\r\n"))
}

func TestChannel_EmptyMessage(t *testing.T) {
	h := newHarness(t)
	h.c.authenticated = true
	h.sink.status = "554 Transaction failed"

	h.send(t, "MAIL FROM:<>\r\nRCPT TO:<b@example.com>\r\nDATA\r\n")
	assert.Equal(t, []string{"554 Transaction failed"}, h.send(t, ".\r\n"), "sink status is sent verbatim")
	require.Len(t, h.sink.messages, 1)
	assert.Equal(t, "", h.sink.messages[0].from, "null reverse-path")
	assert.Equal(t, "", h.sink.messages[0].body)
}

func TestDiscardSink(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := &DiscardSink{Log: zap.New(core)}

	body := "Received: from a\nReceived: from b\nSubject: test\n\nbody"
	assert.Equal(t, "", sink.AcceptMessage(testPeer, "a@example.com", []string{"b@example.com"}, []byte(body)))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "test", fields["subject"])
	assert.Equal(t, int64(2), fields["received_hops"])

	assert.Equal(t, "", sink.AcceptMessage(testPeer, "", nil, []byte("X-Mailer: x\n\nbody")))
	require.Equal(t, 2, logs.Len())
	assert.NotContains(t, logs.All()[1].ContextMap(), "subject")

	assert.Equal(t, "", (&DiscardSink{}).AcceptMessage(testPeer, "", nil, nil))
}
