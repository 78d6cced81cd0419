// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/enclave-foundation/enclave/lib/netutil"
)

// HTTPProxy is a filtering HTTP proxy. CONNECT requests become opaque
// tunnels after the domain check; plain HTTP requests are forwarded with
// the response body passed through undecoded.
type HTTPProxy struct {
	filter    Filter
	logger    *slog.Logger
	transport *http.Transport
	server    *http.Server
	listener  net.Listener
	dial      func(network, address string) (net.Conn, error)
}

// HTTPProxyConfig holds configuration for creating a new HTTPProxy.
type HTTPProxyConfig struct {
	Filter Filter
	Logger *slog.Logger
}

// NewHTTPProxy creates a proxy that consults config.Filter before every
// outbound connection.
func NewHTTPProxy(config HTTPProxyConfig) (*HTTPProxy, error) {
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	proxy := &HTTPProxy{
		filter: config.Filter,
		logger: logger,
		transport: &http.Transport{
			// The sandbox decides what is reachable; the transport must
			// not consult the host's proxy environment on its behalf.
			Proxy:                 nil,
			DisableCompression:    true,
			ResponseHeaderTimeout: 2 * time.Minute,
		},
		dial: (&net.Dialer{Timeout: 30 * time.Second}).Dial,
	}
	proxy.server = &http.Server{
		Handler: http.HandlerFunc(proxy.handle),
		// No ReadTimeout: CONNECT tunnels are long-lived and the server
		// timeout would tear down idle but healthy tunnels.
	}
	return proxy, nil
}

// Start listens on an ephemeral loopback port and begins serving.
func (p *HTTPProxy) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for http proxy: %w", err)
	}
	p.listener = listener

	go func() {
		if err := p.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			p.logger.Error("http proxy server error", "error", err)
		}
	}()

	p.logger.Debug("http proxy started", "port", p.Port())
	return nil
}

// Port returns the loopback port the proxy is listening on. Zero before
// Start.
func (p *HTTPProxy) Port() int {
	if p.listener == nil {
		return 0
	}
	return p.listener.Addr().(*net.TCPAddr).Port
}

// Close stops the proxy and drops all active tunnels.
func (p *HTTPProxy) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.server.Close()
}

func (p *HTTPProxy) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleForward(w, r)
}

// handleConnect checks the tunnel target and, when allowed, splices the
// client connection to the destination.
func (p *HTTPProxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		p.logger.Warn("invalid CONNECT target", "target", r.Host)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !p.filter.Allow(host) {
		p.logger.Info("connection blocked", "host", r.Host)
		writeBlocked(w)
		return
	}

	upstream, err := p.dial("tcp", r.Host)
	if err != nil {
		p.logger.Warn("CONNECT dial failed", "target", r.Host, "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	client, buffered, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		p.logger.Error("hijack failed", "error", err)
		return
	}

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	if err := netutil.PipeReaders(client, buffered.Reader, upstream, upstream); err != nil {
		p.logger.Debug("tunnel closed with error", "target", r.Host, "error", err)
	}
}

// handleForward proxies a plain HTTP request. The response body is passed
// through exactly as received, so any Content-Encoding header would
// misdescribe the already-decoded bytes and is dropped.
func (p *HTTPProxy) handleForward(w http.ResponseWriter, r *http.Request) {
	if !r.URL.IsAbs() {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	host := r.URL.Hostname()
	if !p.filter.Allow(host) {
		p.logger.Info("http request blocked", "host", host)
		writeBlocked(w)
		return
	}

	outbound := r.Clone(r.Context())
	outbound.RequestURI = ""
	removeHopHeaders(outbound.Header)

	response, err := p.transport.RoundTrip(outbound)
	if err != nil {
		p.logger.Warn("forward failed", "url", r.URL.String(), "error", err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer response.Body.Close()

	for key, values := range response.Header {
		if key == "Content-Encoding" || isHopHeader(key) {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(response.StatusCode)
	if _, err := io.Copy(w, response.Body); err != nil {
		p.logger.Debug("response copy interrupted", "url", r.URL.String(), "error", err)
	}
}

func writeBlocked(w http.ResponseWriter) {
	w.Header().Set("X-Proxy-Error", "blocked-by-allowlist")
	http.Error(w, "Connection blocked by network allowlist", http.StatusForbidden)
}

// Hop-by-hop headers per RFC 9110 §7.6.1; they describe the client-proxy
// connection and must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, name := range hopHeaders {
		header.Del(name)
	}
}

func isHopHeader(name string) bool {
	for _, hop := range hopHeaders {
		if strings.EqualFold(name, hop) {
			return true
		}
	}
	return false
}
