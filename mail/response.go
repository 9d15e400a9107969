package mail

import "fmt"

const (
	// ClassTransientFailure - the command was not accepted but the condition is temporary.
	ClassTransientFailure = 4
	// ClassPermanentFailure - a permanent failure is one which is not likely to be resolved
	// by resending the command in the current form.
	ClassPermanentFailure = 5
)

// class is a type for the Class* constants
type class int

// String implements stringer for the class type
func (c class) String() string {
	return fmt.Sprintf("%d00", c)
}

// it looks like this ".5.4"
type subjectDetail string

// Enhanced status subjects used by the replies below (RFC 3463)
const (
	SystemNotAccepting = ".3.0"
	SyntaxError        = ".5.2"
	MessageTooBig      = ".3.4"
)

// EnhancedStatusCode are the ones that look like 2.1.0
type EnhancedStatusCode struct {
	Class             class
	SubjectDetailCode subjectDetail
}

// String returns a string representation of EnhancedStatusCode
func (e EnhancedStatusCode) String() string {
	return fmt.Sprintf("%d%s", e.Class, e.SubjectDetailCode)
}

// Response is a single SMTP reply line
type Response struct {
	BasicCode int
	Class     class
	// EnhancedCode is optional, most of the honeypot replies mimic a classic
	// server that doesn't announce ENHANCEDSTATUSCODES
	EnhancedCode subjectDetail
	Comment      string
}

// String returns the Response as it is written on the wire, without CRLF
func (r *Response) String() string {
	c := r.Class
	if c == 0 {
		c = classOf(r.BasicCode)
	}
	if r.EnhancedCode != "" {
		return fmt.Sprintf("%d %s %s", r.BasicCode, EnhancedStatusCode{c, r.EnhancedCode}, r.Comment)
	}
	return fmt.Sprintf("%d %s", r.BasicCode, r.Comment)
}

// Continuation renders the Response as a non-final line of a multi-line reply
func (r *Response) Continuation() string {
	return fmt.Sprintf("%d-%s", r.BasicCode, r.Comment)
}

func classOf(code int) class {
	return class(code / 100)
}

var (
	// Codes is to be read-only, except in the init() function
	Codes Responses
)

// Responses has the pre-constructed replies of the honeypot
type Responses struct {
	// The 500's
	FailBadSyntax           string
	FailLineTooLong         string
	FailTooBig              string
	FailCmdNotImplemented   string // needs the verb, use with fmt.Sprintf
	FailAuthRequired        string
	FailHeloSyntax          string
	FailDuplicateHelo       string
	FailAuthSyntax          string
	FailAuthMechanism       string
	FailAuthMalformed       string
	FailAuthCancelled       string
	FailLoginAuthentication string
	FailPlainAuthentication string
	FailNoopSyntax          string
	FailRsetSyntax          string
	FailMailSyntax          string
	FailNestedMailCmd       string
	FailRcptSyntax          string
	FailNeedMailCmd         string
	FailDataSyntax          string
	FailNeedRcptCmd         string

	// The 400's
	ErrorShutdown string

	// The 300's
	ContinueLoginUsername string
	ContinueLoginPassword string
	ContinuePlain         string
	ContinueData          string

	// The 200's
	SuccessOk      string
	SuccessQuitCmd string
	SuccessEhlo    string
}

// Called automatically during package load to build up the Responses struct
func init() {
	Codes = Responses{}

	Codes.FailBadSyntax = (&Response{BasicCode: 500, Comment: "Error: bad syntax"}).String()
	Codes.FailLineTooLong = (&Response{
		BasicCode:    500,
		Class:        ClassPermanentFailure,
		EnhancedCode: SyntaxError,
		Comment:      "Line too long",
	}).String()
	Codes.FailTooBig = (&Response{
		BasicCode:    552,
		Class:        ClassPermanentFailure,
		EnhancedCode: MessageTooBig,
		Comment:      "Message too big for system",
	}).String()
	Codes.FailCmdNotImplemented = (&Response{BasicCode: 502, Comment: `Error: command "%s" not implemented`}).String()
	Codes.FailAuthRequired = (&Response{BasicCode: 530, Comment: "Authentication required"}).String()
	Codes.FailHeloSyntax = (&Response{BasicCode: 501, Comment: "Syntax: HELO/EHLO hostname"}).String()
	Codes.FailDuplicateHelo = (&Response{BasicCode: 503, Comment: "Duplicate HELO/EHLO"}).String()
	Codes.FailAuthSyntax = (&Response{BasicCode: 501, Comment: "Syntax: AUTH mechanism [initial-response]"}).String()
	Codes.FailAuthMechanism = (&Response{BasicCode: 504, Comment: "Unrecognized authentication type"}).String()
	Codes.FailAuthMalformed = (&Response{BasicCode: 501, Comment: "malformed AUTH response"}).String()
	Codes.FailAuthCancelled = (&Response{BasicCode: 501, Comment: "Authentication cancelled"}).String()
	// the two mechanisms fail with differently cased texts, exactly as the imitated
	// server words them, scanners compare the reply text byte for byte
	Codes.FailLoginAuthentication = (&Response{BasicCode: 535, Comment: "authentication failed"}).String()
	Codes.FailPlainAuthentication = (&Response{BasicCode: 535, Comment: "Authentication Failed"}).String()
	Codes.FailNoopSyntax = (&Response{BasicCode: 501, Comment: "Syntax: NOOP"}).String()
	Codes.FailRsetSyntax = (&Response{BasicCode: 501, Comment: "Syntax: RSET"}).String()
	Codes.FailMailSyntax = (&Response{BasicCode: 501, Comment: "Syntax: MAIL FROM:<address>"}).String()
	Codes.FailNestedMailCmd = (&Response{BasicCode: 503, Comment: "Error: nested MAIL command"}).String()
	Codes.FailRcptSyntax = (&Response{BasicCode: 501, Comment: "Syntax: RCPT TO: <address>"}).String()
	Codes.FailNeedMailCmd = (&Response{BasicCode: 503, Comment: "Error: need MAIL command"}).String()
	Codes.FailDataSyntax = (&Response{BasicCode: 501, Comment: "Syntax: DATA"}).String()
	Codes.FailNeedRcptCmd = (&Response{BasicCode: 503, Comment: "Error: need RCPT command"}).String()

	Codes.ErrorShutdown = (&Response{
		BasicCode:    421,
		Class:        ClassTransientFailure,
		EnhancedCode: SystemNotAccepting,
		Comment:      "Service not available, closing transmission channel",
	}).String()

	Codes.ContinueLoginUsername = (&Response{BasicCode: 334, Comment: "VXNlcm5hbWU6"}).String()
	Codes.ContinueLoginPassword = (&Response{BasicCode: 334, Comment: "UGFzc3dvcmQ6"}).String()
	// the trailing space is part of the AUTH framing (RFC 4954 section 4)
	Codes.ContinuePlain = (&Response{BasicCode: 334, Comment: ""}).String()
	Codes.ContinueData = (&Response{BasicCode: 354, Comment: "End data with <CR><LF>.<CR><LF>"}).String()

	Codes.SuccessOk = (&Response{BasicCode: 250, Comment: "Ok"}).String()
	Codes.SuccessQuitCmd = (&Response{BasicCode: 221, Comment: "Bye"}).String()
	Codes.SuccessEhlo = (&Response{BasicCode: 250, Comment: "EHLO"}).String()
}
