// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/enclave-foundation/enclave/lib/netutil"
)

// SOCKS5 protocol constants. Only the CONNECT command with no
// authentication is implemented.
const (
	socksVersion = 0x05

	socksCommandConnect = 0x01

	socksAddressIPv4   = 0x01
	socksAddressDomain = 0x03
	socksAddressIPv6   = 0x04

	socksReplySuccess            = 0x00
	socksReplyDenied             = 0x02
	socksReplyConnectFailed      = 0x04
	socksReplyCommandUnsupported = 0x07
	socksReplyAddressUnsupported = 0x08
)

// SocksProxy is a filtering SOCKS5 proxy for non-HTTP traffic. Clients
// are expected to use socks5h:// so hostnames resolve here, on the far
// side of the domain check.
type SocksProxy struct {
	filter   Filter
	logger   *slog.Logger
	listener net.Listener
	dial     func(network, address string) (net.Conn, error)
}

// SocksProxyConfig holds configuration for creating a new SocksProxy.
type SocksProxyConfig struct {
	Filter Filter
	Logger *slog.Logger
}

// NewSocksProxy creates a SOCKS5 proxy that consults config.Filter before
// every outbound connection.
func NewSocksProxy(config SocksProxyConfig) (*SocksProxy, error) {
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SocksProxy{
		filter: config.Filter,
		logger: logger,
		dial:   (&net.Dialer{Timeout: 30 * time.Second}).Dial,
	}, nil
}

// Start listens on an ephemeral loopback port and begins serving.
func (p *SocksProxy) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for socks proxy: %w", err)
	}
	p.listener = listener

	go p.acceptLoop()

	p.logger.Debug("socks proxy started", "port", p.Port())
	return nil
}

// Port returns the loopback port the proxy is listening on. Zero before
// Start.
func (p *SocksProxy) Port() int {
	if p.listener == nil {
		return 0
	}
	return p.listener.Addr().(*net.TCPAddr).Port
}

// Close stops the proxy. Established tunnels are torn down as their
// connections fail.
func (p *SocksProxy) Close() error {
	if p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

func (p *SocksProxy) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				p.logger.Error("socks accept error", "error", err)
			}
			return
		}
		go p.handleConnection(conn)
	}
}

func (p *SocksProxy) handleConnection(client net.Conn) {
	defer client.Close()

	if err := p.negotiate(client); err != nil {
		p.logger.Debug("socks negotiation failed", "error", err)
		return
	}

	host, port, err := p.readRequest(client)
	if err != nil {
		p.logger.Debug("socks request failed", "error", err)
		return
	}

	if !p.filter.Allow(host) {
		p.logger.Info("connection blocked", "host", host, "port", port)
		writeSocksReply(client, socksReplyDenied)
		return
	}

	target := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	upstream, err := p.dial("tcp", target)
	if err != nil {
		p.logger.Warn("socks dial failed", "target", target, "error", err)
		writeSocksReply(client, socksReplyConnectFailed)
		return
	}

	if err := writeSocksReply(client, socksReplySuccess); err != nil {
		upstream.Close()
		return
	}

	if err := netutil.Pipe(client, upstream); err != nil {
		p.logger.Debug("socks tunnel closed with error", "target", target, "error", err)
	}
}

// negotiate handles the SOCKS5 greeting: version and method list in,
// "no authentication" selection out.
func (p *SocksProxy) negotiate(client net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(client, header); err != nil {
		return fmt.Errorf("reading greeting: %w", err)
	}
	if header[0] != socksVersion {
		return fmt.Errorf("unsupported socks version 0x%02x", header[0])
	}

	methods := make([]byte, int(header[1]))
	if _, err := io.ReadFull(client, methods); err != nil {
		return fmt.Errorf("reading auth methods: %w", err)
	}

	if _, err := client.Write([]byte{socksVersion, 0x00}); err != nil {
		return fmt.Errorf("writing method selection: %w", err)
	}
	return nil
}

// readRequest parses the connection request and returns the target host
// and port. Unsupported commands and address types are answered on the
// wire and reported as errors.
func (p *SocksProxy) readRequest(client net.Conn) (string, int, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(client, header); err != nil {
		return "", 0, fmt.Errorf("reading request: %w", err)
	}
	if header[0] != socksVersion {
		return "", 0, fmt.Errorf("unsupported socks version 0x%02x", header[0])
	}
	if header[1] != socksCommandConnect {
		writeSocksReply(client, socksReplyCommandUnsupported)
		return "", 0, fmt.Errorf("unsupported command 0x%02x", header[1])
	}

	var host string
	switch header[3] {
	case socksAddressIPv4:
		address := make([]byte, 4)
		if _, err := io.ReadFull(client, address); err != nil {
			return "", 0, fmt.Errorf("reading ipv4 address: %w", err)
		}
		host = net.IP(address).String()
	case socksAddressDomain:
		length := make([]byte, 1)
		if _, err := io.ReadFull(client, length); err != nil {
			return "", 0, fmt.Errorf("reading domain length: %w", err)
		}
		name := make([]byte, int(length[0]))
		if _, err := io.ReadFull(client, name); err != nil {
			return "", 0, fmt.Errorf("reading domain: %w", err)
		}
		host = string(name)
	case socksAddressIPv6:
		address := make([]byte, 16)
		if _, err := io.ReadFull(client, address); err != nil {
			return "", 0, fmt.Errorf("reading ipv6 address: %w", err)
		}
		host = net.IP(address).String()
	default:
		writeSocksReply(client, socksReplyAddressUnsupported)
		return "", 0, fmt.Errorf("unsupported address type 0x%02x", header[3])
	}

	portBytes := make([]byte, 2)
	if _, err := io.ReadFull(client, portBytes); err != nil {
		return "", 0, fmt.Errorf("reading port: %w", err)
	}
	return host, int(binary.BigEndian.Uint16(portBytes)), nil
}

// writeSocksReply sends a reply with the given code and a zero IPv4 bind
// address. The bind address is meaningless for CONNECT through a proxy,
// and every SOCKS client ignores it.
func writeSocksReply(client net.Conn, code byte) error {
	reply := []byte{socksVersion, code, 0x00, socksAddressIPv4, 0, 0, 0, 0, 0, 0}
	_, err := client.Write(reply)
	return err
}
