package smtpd

import (
	"strings"
)

type command struct {
	verb string // upper-cased
	arg  string // trimmed, empty when the line had no argument
}

/*
parseCommand splits a command line on the first space. The verb is
case-normalized, the rest of the line is the argument.
*/
func parseCommand(line string) *command {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return &command{verb: strings.ToUpper(line)}
	}
	return &command{
		verb: strings.ToUpper(line[:i]),
		arg:  strings.TrimSpace(line[i+1:]),
	}
}

/*
String returns back the command line with normalized verb
*/
func (cmd *command) String() string {
	if cmd.arg != "" {
		return cmd.verb + " " + cmd.arg
	}
	return cmd.verb
}

// label bounds the metric label values to the verbs we know of
func (cmd *command) label() string {
	if _, ok := handlers[cmd.verb]; ok {
		return cmd.verb
	}
	return "other"
}
