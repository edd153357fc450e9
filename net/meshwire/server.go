// Package meshwire implements the framed CBOR request/response transport
// spoken between mesh nodes. A request is a RequestHeader followed by one
// message; the response is a ResponseHeader followed by one message when
// the header carries no error. Dispatch is by numeric message type.
package meshwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

// Handler serves one message type. New allocates the request message for
// the decoder; Handle receives the remote IP so announcements can be
// anchored to the address observed on the wire.
type Handler struct {
	New    func() any
	Handle func(remote net.IP, req any) (any, error)
}

type Server struct {
	listener net.Listener

	mu       sync.Mutex
	handlers map[uint8]Handler
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
		handlers: make(map[uint8]Handler),
	}
}

func (srv *Server) Register(msgType uint8, h Handler) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if _, dup := srv.handlers[msgType]; dup {
		return fmt.Errorf("meshwire: handler already registered for type %d", msgType)
	}
	srv.handlers[msgType] = h

	log.Debugf("meshwire.Register: type %d", msgType)
	return nil
}

func (srv *Server) handler(msgType uint8) (Handler, bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	h, ok := srv.handlers[msgType]
	return h, ok
}

// Addr returns the address the server listens on.
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Serve accepts connections until the context is cancelled. Cancellation
// closes the listener, which unblocks the accept loop.
func (srv *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Infof("meshwire.Server: context cancelled, closing listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("meshwire.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Infof("meshwire.Server: shutting down listener %s", srv.listener.Addr())
				return ctx.Err()
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("meshwire.Server: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("meshwire.Server: accept error on %s: %v, server stopping", srv.listener.Addr(), err)
			return err
		}

		tempDelay = 0
		log.Debugf("meshwire.Server: accepted connection from %s", conn.RemoteAddr())
		go srv.serveConn(ctx, conn)
	}
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var remote net.IP
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		remote = tcpAddr.IP
	}

	decoder := cbor.NewDecoder(conn)
	encoder := cbor.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			log.Debugf("meshwire.Server: closing connection %s on shutdown", conn.RemoteAddr())
			return
		default:
		}

		req := &RequestHeader{}
		if err := decoder.Decode(req); err != nil {
			if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "use of closed network connection") {
				log.Debugf("meshwire.Server: connection %s closed: %v", conn.RemoteAddr(), err)
			} else {
				log.Errorf("meshwire.Server: error decoding request header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		h, ok := srv.handler(req.Type)
		if !ok {
			log.Errorf("meshwire.Server: no handler for message type %d from %s", req.Type, conn.RemoteAddr())
			return
		}

		msg := h.New()
		if err := decoder.Decode(msg); err != nil {
			log.Errorf("meshwire.Server: error decoding type %d message from %s: %v", req.Type, conn.RemoteAddr(), err)
			return
		}

		var reply any
		var callErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("meshwire.Server: panic handling type %d from %s: %v", req.Type, conn.RemoteAddr(), r)
					callErr = fmt.Errorf("meshwire: internal error handling type %d", req.Type)
				}
			}()
			reply, callErr = h.Handle(remote, msg)
		}()

		resp := &ResponseHeader{Seq: req.Seq}
		if callErr != nil {
			resp.Err = callErr.Error()
		}

		if err := encoder.Encode(resp); err != nil {
			log.Errorf("meshwire.Server: error encoding response header for %s: %v", conn.RemoteAddr(), err)
			return
		}
		if callErr == nil {
			if err := encoder.Encode(reply); err != nil {
				log.Errorf("meshwire.Server: error encoding response body for %s: %v", conn.RemoteAddr(), err)
				return
			}
		}
	}
}
