// Package proxy is the harness around the relay core: it accepts WebSocket
// clients, replays their handshake against the configured upstream, and pumps
// raw bytes from both legs through a wsrelay.Layer, executing the commands
// the layer returns.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/router-for-me/wsmitm/internal/config"
	"github.com/router-for-me/wsmitm/internal/wsrelay"
)

const readBufferSize = 32 << 10

// Server is the intercepting proxy front end.
type Server struct {
	cfg      *config.Config
	upstream *url.URL
	flows    *Registry
	hooks    wsrelay.Hooks
	fallback *httputil.ReverseProxy
	httpSrv  *http.Server
}

// New builds the proxy server. hooks is invoked by every session's relay
// layer; it must be safe for concurrent sessions.
func New(cfg *config.Config, flows *Registry, hooks wsrelay.Hooks) (*Server, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	s := &Server{
		cfg:      cfg,
		upstream: upstream,
		flows:    flows,
		hooks:    hooks,
	}

	httpTarget := *upstream
	switch httpTarget.Scheme {
	case "ws":
		httpTarget.Scheme = "http"
	case "wss":
		httpTarget.Scheme = "https"
	}
	s.fallback = httputil.NewSingleHostReverseProxy(&httpTarget)

	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// ListenAndServe blocks serving the proxy until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	log.Infof("wsmitm listening on %s, upstream %s", s.cfg.Listen, s.cfg.Upstream)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new sessions. Sessions in flight keep relaying on
// their own goroutines until their peers close.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.fallback.ServeHTTP(w, r)
		return
	}
	s.handleWebSocket(w, r)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	serverConn, serverReader, resp, err := dialUpstream(ctx, s.upstream, r, s.cfg.AllowCompression)
	if err != nil {
		log.Warnf("Upstream handshake failed for %s: %v", r.URL.Path, err)
		http.Error(w, "upstream websocket handshake failed", http.StatusBadGateway)
		return
	}

	clientConn, clientReader, err := acceptClient(w, r, resp)
	if err != nil {
		// Past the hijack point the ResponseWriter is unusable; just drop.
		log.Warnf("Client handshake failed for %s: %v", r.URL.Path, err)
		_ = serverConn.Close()
		return
	}

	// Started is stamped before the flow is published to the registry; the
	// relay goroutine must not write fields the registry reads for live flows.
	flow := &wsrelay.Flow{
		ID:             uuid.NewString(),
		Client:         &wsrelay.Endpoint{ID: "client", Addr: clientConn.RemoteAddr().String()},
		Server:         &wsrelay.Endpoint{ID: "server", Addr: serverConn.RemoteAddr().String()},
		Target:         s.upstream.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}).String(),
		ResponseHeader: resp.Header,
		Started:        time.Now(),
	}
	s.flows.Add(flow)

	go s.runRelay(flow, clientConn, clientReader, serverConn, serverReader)
}

// runRelay drives one session: one pump goroutine per leg reads raw bytes and
// dispatches them into the layer under a mutex, preserving the layer's
// one-event-at-a-time contract. Commands are executed in order while the
// mutex is still held, so forwarded bytes can never interleave.
func (s *Server) runRelay(flow *wsrelay.Flow, clientConn net.Conn, clientReader io.Reader, serverConn net.Conn, serverReader io.Reader) {
	layer := wsrelay.NewLayer(flow, s.hooks)
	conns := map[*wsrelay.Endpoint]net.Conn{
		flow.Client: clientConn,
		flow.Server: serverConn,
	}

	var mu sync.Mutex
	dispatch := func(ev wsrelay.Event) {
		mu.Lock()
		defer mu.Unlock()
		for _, cmd := range layer.HandleEvent(ev) {
			switch cmd := cmd.(type) {
			case *wsrelay.SendData:
				if conn := conns[cmd.Endpoint]; conn != nil {
					if _, err := conn.Write(cmd.Data); err != nil {
						log.Debugf("Write to %s failed: %v", cmd.Endpoint, err)
					}
				}
			case *wsrelay.CloseConnection:
				if conn := conns[cmd.Endpoint]; conn != nil {
					_ = conn.Close()
				}
			}
		}
	}

	dispatch(wsrelay.Start{})

	pump := func(reader io.Reader, endpoint *wsrelay.Endpoint) func() error {
		return func() error {
			buf := make([]byte, readBufferSize)
			for {
				n, err := reader.Read(buf)
				if n > 0 {
					data := make([]byte, n)
					copy(data, buf[:n])
					dispatch(&wsrelay.DataReceived{Endpoint: endpoint, Data: data})
				}
				if err != nil {
					dispatch(&wsrelay.ConnectionClosed{Endpoint: endpoint})
					return nil
				}
			}
		}
	}

	g := new(errgroup.Group)
	g.Go(pump(clientReader, flow.Client))
	g.Go(pump(serverReader, flow.Server))
	_ = g.Wait()

	_ = clientConn.Close()
	_ = serverConn.Close()
	s.flows.Finish(flow)
}
