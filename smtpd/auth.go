package smtpd

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/KavitaSah/heralding/mail"
)

/*
SupportedAuthMechanisms is array of string describing currently supported/implemented
authentication mechanisms
*/
var SupportedAuthMechanisms = []string{"PLAIN", "LOGIN"}

// authAd is the AUTH line of the EHLO reply, mechanisms in the order above
var authAd = (&mail.Response{
	BasicCode: 250,
	Comment:   "AUTH " + strings.Join(SupportedAuthMechanisms, " "),
}).Continuation()

const (
	mechLogin = "LOGIN"
	mechPlain = "PLAIN"
)

var (
	errMalformedBase64 = errors.New("AUTH response is not valid base64")
	errMalformedPlain  = errors.New("PLAIN response is not authzid NUL authcid NUL passwd")
)

// handleAuth starts an AUTH exchange: AUTH <mechanism> [initial-response]
func handleAuth(c *channel, arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		c.out(mail.Codes.FailAuthSyntax)
		return
	}
	if !authMechanismValid(fields[0]) {
		c.log.Info("unsupported AUTH mechanism", zap.String("mechanism", fields[0]))
		c.out(mail.Codes.FailAuthMechanism)
		return
	}
	var initial string
	if len(fields) > 1 {
		initial = fields[1]
	}

	switch strings.ToUpper(fields[0]) {
	case mechLogin:
		if initial == "" {
			c.authPhase = authLoginUsername
			c.out(mail.Codes.ContinueLoginUsername)
			return
		}
		username, err := decodeBase64(initial)
		if err != nil {
			c.authMalformed(mechLogin, err)
			return
		}
		c.pendingUsername = username
		c.authPhase = authLoginPassword
		c.out(mail.Codes.ContinueLoginPassword)
	case mechPlain:
		if initial == "" {
			c.authPhase = authPlainResponse
			c.out(mail.Codes.ContinuePlain)
			return
		}
		c.plainResponse(initial)
	}
}

// authMechanismValid checks if selected authentication mechanism is supported
func authMechanismValid(mech string) bool {
	mech = strings.ToUpper(mech)
	for _, m := range SupportedAuthMechanisms {
		if mech == m {
			return true
		}
	}
	return false
}

// continueAuth consumes a line sent while an AUTH round is pending
func (c *channel) continueAuth(arg string) {
	mech := mechLogin
	if c.authPhase == authPlainResponse {
		mech = mechPlain
	}
	// RFC 4954 section 4, the client gives up the exchange
	if arg == "*" {
		c.resetAuth()
		metricAuth.WithLabelValues(mech, "cancelled").Inc()
		c.out(mail.Codes.FailAuthCancelled)
		return
	}

	switch c.authPhase {
	case authLoginUsername:
		username, err := decodeBase64(arg)
		if err != nil {
			c.authMalformed(mech, err)
			return
		}
		c.pendingUsername = username
		// no challenge here, the client goes on with the password
		c.authPhase = authLoginPassword
	case authLoginPassword:
		password, err := decodeBase64(arg)
		if err != nil {
			c.authMalformed(mech, err)
			return
		}
		c.pendingPassword = password
		c.authPhase = authNone
		c.reject(mechLogin, mail.Codes.FailLoginAuthentication)
	case authPlainResponse:
		c.authPhase = authNone
		c.plainResponse(arg)
	}
}

// plainResponse handles the PLAIN response, inline or as a continuation
func (c *channel) plainResponse(resp string) {
	username, password, err := decodePlain(resp)
	if err != nil {
		c.authMalformed(mechPlain, err)
		return
	}
	c.pendingUsername = username
	c.pendingPassword = password
	c.reject(mechPlain, mail.Codes.FailPlainAuthentication)
}

/*
reject reports the pending credentials to the session and fails the login whatever
the session says, the client has to reconnect to try again.
*/
func (c *channel) reject(mech, reply string) {
	valid := c.session.ReportCredentials(c.pendingUsername, c.pendingPassword)
	metricAuth.WithLabelValues(mech, "rejected").Inc()
	c.log.Info("login rejected", zap.String("mechanism", mech), zap.Bool("session_verdict", valid))
	c.resetAuth()
	c.out(reply)
	c.close()
}

func (c *channel) authMalformed(mech string, err error) {
	metricAuth.WithLabelValues(mech, "malformed").Inc()
	c.log.Info("malformed AUTH response", zap.String("mechanism", mech), zap.Error(err))
	c.resetAuth()
	c.out(mail.Codes.FailAuthMalformed)
}

func (c *channel) resetAuth() {
	c.authPhase = authNone
	c.pendingUsername = nil
	c.pendingPassword = nil
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errMalformedBase64
	}
	return b, nil
}

// decodePlain decodes authzid NUL authcid NUL passwd, authzid is dropped
func decodePlain(s string) (username, password []byte, err error) {
	data, err := decodeBase64(s)
	if err != nil {
		return nil, nil, err
	}
	parts := bytes.Split(data, []byte{0})
	if len(parts) != 3 {
		return nil, nil, errMalformedPlain
	}
	return parts[1], parts[2], nil
}
