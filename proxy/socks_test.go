// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
)

func startSocksProxy(t *testing.T, filter Filter) *SocksProxy {
	t.Helper()

	proxy, err := NewSocksProxy(SocksProxyConfig{Filter: filter})
	if err != nil {
		t.Fatal(err)
	}
	if err := proxy.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { proxy.Close() })
	return proxy
}

func dialSocks(t *testing.T, proxy *SocksProxy) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", proxy.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	// Greeting: version 5, one method, no-auth.
	if _, err := conn.Write([]byte{0x05, 0x01, 0x00}); err != nil {
		t.Fatal(err)
	}
	selection := make([]byte, 2)
	if _, err := io.ReadFull(conn, selection); err != nil {
		t.Fatal(err)
	}
	if selection[0] != 0x05 || selection[1] != 0x00 {
		t.Fatalf("method selection = %#v, want [5 0]", selection)
	}
	return conn
}

// connectDomain sends a CONNECT request for a domain-typed address and
// returns the reply code.
func connectDomain(t *testing.T, conn net.Conn, host string, port int) byte {
	t.Helper()

	request := []byte{0x05, 0x01, 0x00, 0x03, byte(len(host))}
	request = append(request, host...)
	request = binary.BigEndian.AppendUint16(request, uint16(port))
	if _, err := conn.Write(request); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[0] != 0x05 {
		t.Fatalf("reply version = %#x", reply[0])
	}
	return reply[1]
}

// echoListener starts a TCP echo server and returns its port.
func echoListener(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

func TestSocksProxyTunnel(t *testing.T) {
	port := echoListener(t)
	proxy := startSocksProxy(t, &RuleFilter{Allowed: []string{"127.0.0.1"}})
	conn := dialSocks(t, proxy)

	if code := connectDomain(t, conn, "127.0.0.1", port); code != 0x00 {
		t.Fatalf("reply code = %#x, want success", code)
	}

	if _, err := conn.Write([]byte("socks says hello")); err != nil {
		t.Fatal(err)
	}
	echo := make([]byte, len("socks says hello"))
	if _, err := io.ReadFull(conn, echo); err != nil {
		t.Fatal(err)
	}
	if string(echo) != "socks says hello" {
		t.Errorf("echo = %q", echo)
	}
}

func TestSocksProxyDeniedHost(t *testing.T) {
	proxy := startSocksProxy(t, &RuleFilter{Allowed: []string{"example.com"}})
	conn := dialSocks(t, proxy)

	if code := connectDomain(t, conn, "blocked.com", 443); code != 0x02 {
		t.Errorf("reply code = %#x, want 0x02 (connection not allowed)", code)
	}
}

func TestSocksProxyConnectFailure(t *testing.T) {
	// Grab a port and close it so the dial is refused.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadPort := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	proxy := startSocksProxy(t, AllowAllFilter{})
	conn := dialSocks(t, proxy)

	if code := connectDomain(t, conn, "127.0.0.1", deadPort); code != 0x04 {
		t.Errorf("reply code = %#x, want 0x04 (host unreachable)", code)
	}
}

func TestSocksProxyUnsupportedCommand(t *testing.T) {
	proxy := startSocksProxy(t, AllowAllFilter{})
	conn := dialSocks(t, proxy)

	// BIND request.
	request := []byte{0x05, 0x02, 0x00, 0x01, 127, 0, 0, 1, 0x01, 0xBB}
	if _, err := conn.Write(request); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != 0x07 {
		t.Errorf("reply code = %#x, want 0x07 (command not supported)", reply[1])
	}
}

func TestSocksProxyUnsupportedAddressType(t *testing.T) {
	proxy := startSocksProxy(t, AllowAllFilter{})
	conn := dialSocks(t, proxy)

	request := []byte{0x05, 0x01, 0x00, 0x09}
	if _, err := conn.Write(request); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != 0x08 {
		t.Errorf("reply code = %#x, want 0x08 (address type not supported)", reply[1])
	}
}

func TestSocksProxyIPv4Address(t *testing.T) {
	port := echoListener(t)
	proxy := startSocksProxy(t, &RuleFilter{Allowed: []string{"127.0.0.1"}})
	conn := dialSocks(t, proxy)

	request := []byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1}
	request = binary.BigEndian.AppendUint16(request, uint16(port))
	if _, err := conn.Write(request); err != nil {
		t.Fatal(err)
	}

	reply := make([]byte, 10)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatal(err)
	}
	if reply[1] != 0x00 {
		t.Errorf("reply code = %#x, want success", reply[1])
	}
}

func TestSocksProxyRejectsWrongVersion(t *testing.T) {
	proxy := startSocksProxy(t, AllowAllFilter{})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", proxy.Port()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// SOCKS4 greeting: the proxy drops the connection without replying.
	if _, err := conn.Write([]byte{0x04, 0x01}); err != nil {
		t.Fatal(err)
	}
	buffer := make([]byte, 1)
	if _, err := conn.Read(buffer); err != io.EOF {
		t.Errorf("read after bad version = %v, want EOF", err)
	}
}
