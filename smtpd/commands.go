package smtpd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/KavitaSah/heralding/mail"
)

var handlers = map[string]func(c *channel, arg string){
	"HELO": handleHelo,
	"EHLO": handleEhlo,
	"QUIT": handleQuit,
	"RSET": handleRset,
	"NOOP": handleNoop,
	"AUTH": handleAuth,
	"MAIL": handleMail,
	"RCPT": handleRcpt,
	"DATA": handleData,
}

// handle Helo command
func handleHelo(c *channel, arg string) {
	if !c.greet(arg) {
		return
	}
	c.out("250 " + c.hostname)
}

// handle Ehlo command, both mechanisms are announced
func handleEhlo(c *channel, arg string) {
	if !c.greet(arg) {
		return
	}
	c.out(
		fmt.Sprintf("250-%s Hello %s", c.banner, arg),
		authAd,
		mail.Codes.SuccessEhlo,
	)
}

// greet checks the HELO/EHLO argument and that it is the first greeting
func (c *channel) greet(host string) bool {
	if host == "" {
		c.out(mail.Codes.FailHeloSyntax)
		return false
	}
	if c.greetingSeen {
		c.out(mail.Codes.FailDuplicateHelo)
		return false
	}
	c.greetingSeen = true
	c.log.Debug("greeted", zap.String("helo", host))
	return true
}

func handleQuit(c *channel, _ string) {
	c.out(mail.Codes.SuccessQuitCmd)
	c.close()
}

func handleNoop(c *channel, arg string) {
	if arg != "" {
		c.out(mail.Codes.FailNoopSyntax)
		return
	}
	c.out(mail.Codes.SuccessOk)
}

// handleRset handle reset commands, empties the envelope
func handleRset(c *channel, arg string) {
	if arg != "" {
		c.out(mail.Codes.FailRsetSyntax)
		return
	}
	c.envelope.Reset()
	c.out(mail.Codes.SuccessOk)
}

/*
MAIL, RCPT and DATA are only reachable by an authenticated client, which never
happens, they are kept so the state machine is complete.
*/
func handleMail(c *channel, arg string) {
	from, ok := mail.ParsePath("FROM:", arg)
	if !ok || from.Validate() != nil {
		c.out(mail.Codes.FailMailSyntax)
		return
	}
	// nested mail command
	if c.envelope.IsSet() {
		c.out(mail.Codes.FailNestedMailCmd)
		return
	}
	c.envelope.MailFrom = &from
	c.out(mail.Codes.SuccessOk)
}

func handleRcpt(c *channel, arg string) {
	if !c.envelope.IsSet() {
		c.out(mail.Codes.FailNeedMailCmd)
		return
	}
	rcpt, ok := mail.ParsePath("TO:", arg)
	if !ok || rcpt == "" || rcpt.Validate() != nil {
		c.out(mail.Codes.FailRcptSyntax)
		return
	}
	c.envelope.AddRecipient(rcpt)
	c.out(mail.Codes.SuccessOk)
}

func handleData(c *channel, arg string) {
	if len(c.envelope.MailTo) == 0 {
		c.out(mail.Codes.FailNeedRcptCmd)
		return
	}
	if arg != "" {
		c.out(mail.Codes.FailDataSyntax)
		return
	}
	if err := c.envelope.BeginData(); err != nil {
		c.out(mail.Codes.FailNeedRcptCmd)
		return
	}
	c.framer.setMode(modeData)
	c.out(mail.Codes.ContinueData)
}

// finishData hands the received block to the sink and goes back to commands
func (c *channel) finishData(block []byte) {
	c.envelope.Write(detransparent(block))
	body := append([]byte(nil), c.envelope.Bytes()...)

	status := c.sink.AcceptMessage(c.conn.RemoteAddr(), c.envelope.Sender(), c.envelope.Recipients(), body)
	c.log.Info("message accepted",
		zap.String("from", c.envelope.Sender()),
		zap.Strings("to", c.envelope.Recipients()),
		zap.Int("size", len(body)),
		zap.String("status", status),
	)

	c.envelope.Reset()
	c.framer.setMode(modeCommand)
	if status == "" {
		c.out(mail.Codes.SuccessOk)
	} else {
		c.out(status)
	}
}
