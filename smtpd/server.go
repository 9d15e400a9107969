package smtpd

import (
	"net"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"go.uber.org/zap"

	"github.com/KavitaSah/heralding/config"
)

// ErrServerClosed is returned by Serve after Close was called
var ErrServerClosed = errors.New("smtpd: server closed")

/*
Server accepts connections and runs a channel for each of them. The server
itself holds no protocol state, everything lives in the per-connection channel.
*/
type Server struct {
	sync.Mutex
	Addr     string // TCP address to listen on
	Banner   string // greeting text sent as "220 <Banner>"
	Hostname string // name announced in the HELO reply

	openSession  OpenSessionFunc // creates the session of each connection
	sink         MessageSink     // receives messages of authenticated clients
	limits       Limits          // connection limits
	log          *zap.Logger     // servers logger
	listener     net.Listener
	conns        map[net.Conn]*channel // nil until the connection's channel exists
	wg           sync.WaitGroup
	shuttingDown bool // is the server shutting down?
}

/*
NewServer creates new server. sink may be nil, messages are then discarded.
*/
func NewServer(cfg *config.ServerConfig, open OpenSessionFunc, sink MessageSink, logger *zap.Logger, limits ...Limits) (*Server, error) {
	if open == nil {
		return nil, errors.New("smtpd: no session opener")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = &DiscardSink{Log: logger}
	}
	s := &Server{
		Addr:         cfg.HostPort,
		Banner:       cfg.Banner,
		Hostname:     cfg.Hostname,
		openSession:  open,
		sink:         sink,
		log:          logger,
		conns:        make(map[net.Conn]*channel),
		shuttingDown: false,
	}
	// limits are optional, if no limits were provided, use the default ones
	if len(limits) == 1 {
		s.limits = limits[0].withDefaults()
	} else {
		s.limits = DefaultLimits
	}
	return s, nil
}

// ListenAndServe listens on the TCP network address and then
// calls Serve to handle requests on incoming connections.
func (srv *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.WrapPrefix(err, "listen", 0)
	}
	return srv.Serve(l)
}

// Serve incoming connections
// Creates new channel for each connection and starts go routine to handle it
func (srv *Server) Serve(ln net.Listener) error {
	srv.Lock()
	if srv.shuttingDown {
		srv.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	srv.listener = ln
	srv.Unlock()
	defer ln.Close()

	srv.log.Info("listening", zap.Stringer("addr", ln.Addr()))
	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if srv.closed() {
				return ErrServerClosed
			}
			if netError, ok := err.(net.Error); ok && netError.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				srv.log.Error("temporary accept error", zap.Error(err), zap.Duration("retry_in", tempDelay))
				time.Sleep(tempDelay)
				continue
			}
			return errors.WrapPrefix(err, "accept", 0)
		}
		tempDelay = 0
		if !srv.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go srv.handle(conn)
	}
}

func (srv *Server) handle(conn net.Conn) {
	defer srv.wg.Done()
	defer srv.untrack(conn)

	sess := srv.openSession(conn.RemoteAddr())
	defer sess.Close()

	c := newChannel(conn, srv.Banner, srv.Hostname, srv.limits, sess, srv.sink, srv.log)
	if !srv.attach(conn, c) {
		conn.Close()
		return
	}
	c.serve()
}

// Close stops accepting connections, sends "421" to the open ones, closes them
// and waits for their channels to finish
func (srv *Server) Close() error {
	srv.Lock()
	srv.shuttingDown = true
	var err error
	if srv.listener != nil {
		if cerr := srv.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for conn, c := range srv.conns {
		if c == nil {
			conn.Close()
			continue
		}
		// a slow client must not hold up the others
		go c.shutdown()
	}
	srv.Unlock()

	srv.wg.Wait()
	return err
}

func (srv *Server) closed() bool {
	srv.Lock()
	defer srv.Unlock()
	return srv.shuttingDown
}

func (srv *Server) track(conn net.Conn) bool {
	srv.Lock()
	defer srv.Unlock()
	if srv.shuttingDown {
		return false
	}
	srv.conns[conn] = nil
	srv.wg.Add(1)
	return true
}

// attach registers the channel of a tracked connection, false once the server is closing
func (srv *Server) attach(conn net.Conn, c *channel) bool {
	srv.Lock()
	defer srv.Unlock()
	if srv.shuttingDown {
		return false
	}
	srv.conns[conn] = c
	return true
}

func (srv *Server) untrack(conn net.Conn) {
	srv.Lock()
	delete(srv.conns, conn)
	srv.Unlock()
}

// Active returns the number of open connections
func (srv *Server) Active() int {
	srv.Lock()
	defer srv.Unlock()
	return len(srv.conns)
}
