// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge provides the Unix-socket forwarders that carry traffic
// out of a network-isolated Linux sandbox.
//
// Inside a bubblewrap sandbox with --unshare-net the only interface is
// loopback; the host's TCP stack is unreachable. Unix sockets on the host
// filesystem can, however, be bind-mounted into the sandbox. The bridge
// exploits this: for each proxy (HTTP and SOCKS5) it runs a host-side
// socat process listening on a Unix socket and forwarding every accepted
// connection to the proxy's loopback TCP port. The sandbox setup
// bind-mounts the sockets and runs the mirror-image socat listeners
// inside, so http://localhost:3128 and socks5h://localhost:1080 inside
// the sandbox lead to the filtering proxies outside.
//
// [Start] launches both forwarders and polls until their sockets exist,
// killing everything on any failure; a half-started bridge would leave a
// sandbox that silently has no network. [Pair.Stop] terminates the
// forwarders and removes the socket files.
package bridge
