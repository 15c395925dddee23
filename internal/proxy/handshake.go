package proxy

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// websocketGUID is the fixed key-derivation suffix from RFC 6455 section 1.3.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// hopByHopHeaders are removed before forwarding the client handshake; the
// WebSocket-specific ones are regenerated per leg.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
	"Sec-Websocket-Protocol",
}

func computeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func generateChallengeKey() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf[:]), nil
}

// dialUpstream opens the server leg: it connects to the upstream, replays the
// client's handshake against it (regenerating the challenge key), and
// validates the 101 response. The returned bufio.Reader must be used for all
// subsequent reads on the connection, since it may already hold buffered
// frames the server sent immediately after the handshake.
func dialUpstream(ctx context.Context, upstream *url.URL, clientReq *http.Request, allowCompression bool) (net.Conn, *bufio.Reader, *http.Response, error) {
	host := upstream.Host
	secure := upstream.Scheme == "wss" || upstream.Scheme == "https"
	if !strings.Contains(host, ":") {
		if secure {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial upstream: %w", err)
	}
	if secure {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: upstream.Hostname()})
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, nil, nil, fmt.Errorf("upstream TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	key, err := generateChallengeKey()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}

	path := clientReq.URL.RequestURI()
	if path == "" {
		path = "/"
	}
	header := make(http.Header)
	for k, vs := range clientReq.Header {
		header[k] = vs
	}
	for _, k := range hopByHopHeaders {
		header.Del(k)
	}
	header.Set("Upgrade", "websocket")
	header.Set("Connection", "Upgrade")
	header.Set("Sec-WebSocket-Version", "13")
	header.Set("Sec-WebSocket-Key", key)
	if offer := clientReq.Header.Get("Sec-WebSocket-Extensions"); offer != "" && allowCompression {
		header.Set("Sec-WebSocket-Extensions", offer)
	}
	if protocols := clientReq.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
		header.Set("Sec-WebSocket-Protocol", protocols)
	}

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&req, "Host: %s\r\n", upstream.Host)
	if err = header.Write(&req); err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}
	req.WriteString("\r\n")
	if _, err = conn.Write([]byte(req.String())); err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("write upstream handshake: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, fmt.Errorf("read upstream handshake: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, nil, resp, fmt.Errorf("upstream refused upgrade: %s", resp.Status)
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		_ = conn.Close()
		return nil, nil, resp, fmt.Errorf("upstream did not upgrade to websocket")
	}
	if got, want := resp.Header.Get("Sec-Websocket-Accept"), computeAcceptKey(key); got != want {
		_ = conn.Close()
		return nil, nil, resp, fmt.Errorf("upstream accept key mismatch")
	}
	return conn, br, resp, nil
}

// acceptClient completes the client leg: it hijacks the HTTP connection and
// answers the upgrade, mirroring the extension and subprotocol headers the
// upstream negotiated so both legs agree on the session parameters.
func acceptClient(w http.ResponseWriter, r *http.Request, upstreamResp *http.Response) (net.Conn, *bufio.Reader, error) {
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, nil, fmt.Errorf("missing Sec-WebSocket-Key")
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	conn, brw, err := hijacker.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack client connection: %w", err)
	}

	var resp strings.Builder
	resp.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	resp.WriteString("Upgrade: websocket\r\n")
	resp.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&resp, "Sec-WebSocket-Accept: %s\r\n", computeAcceptKey(key))
	if ext := upstreamResp.Header.Get("Sec-Websocket-Extensions"); ext != "" {
		fmt.Fprintf(&resp, "Sec-WebSocket-Extensions: %s\r\n", ext)
	}
	if protocol := upstreamResp.Header.Get("Sec-Websocket-Protocol"); protocol != "" {
		fmt.Fprintf(&resp, "Sec-WebSocket-Protocol: %s\r\n", protocol)
	}
	resp.WriteString("\r\n")

	if _, err = conn.Write([]byte(resp.String())); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("write client handshake: %w", err)
	}
	return conn, brw.Reader, nil
}
