package session

import (
	"crypto/subtle"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Protocol of the sessions created by this package
const Protocol = "smtp"

// Attempt is a single captured credential pair
type Attempt struct {
	ID       ulid.ULID
	Username string
	Password string
	Time     time.Time
	// Valid is what the session answered, the protocol layer rejects the login anyway
	Valid bool
}

// Session records what a single connection did
type Session struct {
	sync.Mutex

	id         string
	SourceIP   string
	SourcePort int
	Started    time.Time
	Ended      time.Time
	// ReverseName is the PTR name of SourceIP, resolved when the session ends
	ReverseName string

	attempts []Attempt
	ended    bool

	mgr *Manager
	log *zap.Logger
}

func newSession(id string, remote net.Addr, mgr *Manager) *Session {
	s := &Session{
		id:      id,
		Started: time.Now(),
		mgr:     mgr,
	}
	if remote != nil {
		host, port, err := net.SplitHostPort(remote.String())
		if err != nil {
			s.SourceIP = remote.String()
		} else {
			s.SourceIP = host
			s.SourcePort, _ = strconv.Atoi(port)
		}
	}
	s.log = mgr.log.With(
		zap.String("session", id),
		zap.String("protocol", Protocol),
		zap.String("source_ip", s.SourceIP),
		zap.Int("source_port", s.SourcePort),
	)
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

/*
ReportCredentials records a login attempt and returns whether the pair matches
one of the decoy accounts. Safe for concurrent use.
*/
func (s *Session) ReportCredentials(username, password []byte) bool {
	valid := s.mgr.validCredentials(string(username), string(password))
	a := Attempt{
		ID:       ulid.Make(),
		Username: string(username),
		Password: string(password),
		Time:     time.Now(),
		Valid:    valid,
	}

	s.Lock()
	s.attempts = append(s.attempts, a)
	s.Unlock()

	metricCredentials.Inc()
	s.log.Info("credentials captured",
		zap.Stringer("attempt", a.ID),
		zap.String("username", a.Username),
		zap.String("password", a.Password),
		zap.Bool("valid", valid),
	)
	return valid
}

// Attempts returns a copy of the captured credentials
func (s *Session) Attempts() []Attempt {
	s.Lock()
	defer s.Unlock()
	return append([]Attempt(nil), s.attempts...)
}

// Close ends the session, it is safe to call Close more than once
func (s *Session) Close() {
	s.Lock()
	if s.ended {
		s.Unlock()
		return
	}
	s.ended = true
	s.Ended = time.Now()
	attempts := len(s.attempts)
	s.Unlock()

	name := s.mgr.reverseName(s.SourceIP)

	s.Lock()
	s.ReverseName = name
	s.Unlock()

	s.mgr.remove(s)
	s.log.Info("session ended",
		zap.String("reverse_name", name),
		zap.Int("attempts", attempts),
		zap.Duration("duration", s.Ended.Sub(s.Started)),
	)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
