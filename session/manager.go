package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/matoous/go-nanoid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	metricSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heralding_sessions_total",
			Help: "Honeypot sessions opened.",
		},
	)
	metricActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "heralding_sessions_active",
			Help: "Honeypot sessions currently open.",
		},
	)
	metricCredentials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heralding_credentials_captured_total",
			Help: "Credential pairs submitted by clients.",
		},
	)
)

// Manager creates sessions and keeps track of the open ones
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	accounts map[string]string
	resolver *Resolver
	log      *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithAccounts sets the decoy accounts, username -> password
func WithAccounts(accounts map[string]string) Option {
	return func(m *Manager) {
		m.accounts = make(map[string]string, len(accounts))
		for u, p := range accounts {
			m.accounts[u] = p
		}
	}
}

// WithResolver enables PTR lookups of peers when their session ends
func WithResolver(r *Resolver) Option {
	return func(m *Manager) {
		m.resolver = r
	}
}

// NewManager creates new session manager, logger may be nil
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		log:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a session for a new connection from remote
func (m *Manager) Open(remote net.Addr) *Session {
	id, err := gonanoid.Nanoid()
	if err != nil {
		// generating nanoid shouldn't really fail, and if, panicing is OK
		panic(err)
	}
	s := newSession(id, remote, m)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	metricSessions.Inc()
	metricActive.Inc()
	s.log.Info("session started")
	return s
}

// Active returns the number of open sessions
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close ends all open sessions
func (m *Manager) Close() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if _, ok := m.sessions[s.id]; ok {
		delete(m.sessions, s.id)
		metricActive.Dec()
	}
	m.mu.Unlock()
}

func (m *Manager) validCredentials(username, password string) bool {
	expected, ok := m.accounts[username]
	return ok && equal(expected, password)
}

func (m *Manager) reverseName(ip string) string {
	if m.resolver == nil || ip == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.resolver.Timeout+time.Second)
	defer cancel()
	name, err := m.resolver.LookupPTR(ctx, ip)
	if err != nil {
		m.log.Debug("reverse lookup failed", zap.String("ip", ip), zap.Error(err))
		return ""
	}
	return name
}
