package session

import (
	"context"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/miekg/dns"
)

// ErrNoPTR is returned when the server answered without a PTR record
var ErrNoPTR = errors.New("no PTR record")

// Resolver resolves peer addresses to names
type Resolver struct {
	Server  string // host:port of the DNS server
	Timeout time.Duration

	client *dns.Client
}

// NewResolver creates a resolver querying server over UDP
func NewResolver(server string, timeout time.Duration) *Resolver {
	return &Resolver{
		Server:  server,
		Timeout: timeout,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupPTR returns the first PTR name of ip without the trailing dot
func (r *Resolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", errors.WrapPrefix(err, "reverse address "+ip, 0)
	}
	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.Server)
	if err != nil {
		return "", errors.WrapPrefix(err, "PTR query", 0)
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", errors.Errorf("PTR query for %s: %s", ip, dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", ErrNoPTR
}
