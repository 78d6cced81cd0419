// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy provides the network egress path for sandboxed commands.
//
// A sandboxed process has no direct network access: its network namespace
// (Linux) or Seatbelt profile (macOS) only lets it reach two loopback
// forwarders, which lead back to the proxies in this package running on the
// host. Every outbound connection therefore passes a domain check before any
// bytes reach the destination.
//
// [HTTPProxy] handles HTTP traffic. CONNECT requests are checked and, when
// allowed, tunneled as opaque byte streams. Plain HTTP requests are checked
// against the request host and forwarded. Denied requests get a 403 with an
// X-Proxy-Error header so in-sandbox tooling can distinguish policy denials
// from network failures.
//
// [SocksProxy] handles everything that is not HTTP. It implements the SOCKS5
// CONNECT command only, with no authentication; BIND and UDP ASSOCIATE are
// refused. Tools pick it up via ALL_PROXY=socks5h:// and resolve hostnames
// through the proxy, so the domain check sees names rather than addresses.
//
// Both proxies share [RuleFilter], which applies deny-over-allow semantics:
// a connection must match the allow list and must not match the deny list.
// An empty allow list denies everything. Denials are reported through the
// filter's OnDenied callback so the violation store can record them.
package proxy
