package mail

import (
	"regexp"
	"strings"

	"github.com/go-errors/errors"
)

// Address is a mailbox taken from a MAIL or RCPT path, without brackets
type Address string

// email address size limits
const (
	maxEmailLength      = 256 // max full email address length
	maxLocalPartLength  = 64  // max length of user/local part of email address as per https://tools.ietf.org/html/rfc5321#section-4.5.3.1.1
	maxDomainPartLength = 255 // max length of domain part of email address https://tools.ietf.org/html/rfc5321#section-4.5.3.1.2
)

// simple regex to check email format validity
var emailRegexp = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")

var (
	ErrInvalidAddress   = errors.New("invalid address format")
	ErrAddressTooLong   = errors.New("reverse path must be lower than 255 char (RFC 5321 4.5.1.3.1)")
	ErrLocalPartTooLong = errors.New("local part of path MUST be lower than 65 char (RFC 5321 4.5.3.1.1)")
	ErrDomainTooLong    = errors.New("domain part of path MUST be lower than 256 char (RFC 5321 4.5.3.1.1)")
)

// Hostname returns the name of the host of email address
func (a Address) Hostname() string {
	e := string(a)
	if idx := strings.LastIndex(e, "@"); idx != -1 {
		return strings.ToLower(e[idx+1:])
	}
	return ""
}

// User returns user part of email address
func (a Address) User() string {
	e := string(a)
	if idx := strings.LastIndex(e, "@"); idx != -1 {
		return e[:idx]
	}
	return e
}

// Validate validates given email address, checks size and format.
// The empty address is the null reverse-path and is valid.
func (a Address) Validate() error {
	if len(a) == 0 {
		return nil
	}
	if len(a) > maxEmailLength {
		return ErrAddressTooLong
	}
	if len(a.User()) > maxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if len(a.Hostname()) > maxDomainPartLength {
		return ErrDomainTooLong
	}
	if !emailRegexp.MatchString(string(a)) {
		return ErrInvalidAddress
	}
	return nil
}

// removeBrackets removes trailing and ending brackets (<string> -> string)
func removeBrackets(s string) string {
	if strings.HasPrefix(s, "<") {
		s = s[1:]
	}
	if strings.HasSuffix(s, ">") {
		s = s[0 : len(s)-1]
	}
	return s
}

/*
ParsePath parses the argument of MAIL or RCPT, keyword is "FROM:" or "TO:".
The keyword is matched case-insensitively and may be followed by spaces, anything
after the closing bracket (ESMTP parameters) is ignored. ok is false when the
argument doesn't carry the keyword or the path is empty.
*/
func ParsePath(keyword, arg string) (addr Address, ok bool) {
	if len(arg) < len(keyword) || !strings.EqualFold(arg[:len(keyword)], keyword) {
		return "", false
	}
	path := strings.TrimSpace(arg[len(keyword):])
	if path == "" {
		return "", false
	}
	if strings.HasPrefix(path, "<") {
		end := strings.Index(path, ">")
		if end < 0 {
			return "", false
		}
		path = path[:end+1]
	} else if i := strings.IndexByte(path, ' '); i >= 0 {
		path = path[:i]
	}
	return Address(removeBrackets(path)), true
}
