// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"strings"

	"github.com/enclave-foundation/enclave/lib/platform"
)

// Fixed loopback ports inside a network-restricted Linux sandbox. The
// in-sandbox socat listeners bind these and forward into the bridge
// sockets.
const (
	insideHTTPPort  = 3128
	insideSocksPort = 1080
)

// noProxyAddresses lists the destinations tools must reach directly:
// loopback, mDNS names, link-local, and the private ranges.
var noProxyAddresses = strings.Join([]string{
	"localhost",
	"127.0.0.1",
	"::1",
	"*.local",
	".local",
	"169.254.0.0/16",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}, ",")

// ProxyEnvironment returns KEY=VALUE pairs pointing the common tool
// ecosystems (curl, git, npm, docker, gcloud, gRPC) at the sandbox
// proxies. Zero ports mean the respective proxy is absent; with both
// absent only the marker variables are returned.
func ProxyEnvironment(httpProxyPort, socksProxyPort int, os platform.Platform) []string {
	env := []string{
		"SANDBOX_RUNTIME=1",
		"TMPDIR=/tmp/enclave",
	}

	if httpProxyPort == 0 && socksProxyPort == 0 {
		return env
	}

	env = append(env,
		"NO_PROXY="+noProxyAddresses,
		"no_proxy="+noProxyAddresses,
	)

	if httpProxyPort != 0 {
		httpURL := fmt.Sprintf("http://localhost:%d", httpProxyPort)
		env = append(env,
			"HTTP_PROXY="+httpURL,
			"HTTPS_PROXY="+httpURL,
			"http_proxy="+httpURL,
			"https_proxy="+httpURL,
		)
	}

	if socksProxyPort != 0 {
		socksURL := fmt.Sprintf("socks5h://localhost:%d", socksProxyPort)
		env = append(env,
			"ALL_PROXY="+socksURL,
			"all_proxy="+socksURL,
		)

		// ssh has no proxy environment convention; route it through the
		// SOCKS proxy explicitly. Only macOS ships nc with SOCKS support.
		if os == platform.MacOS {
			env = append(env, fmt.Sprintf(
				`GIT_SSH_COMMAND="ssh -o ProxyCommand='nc -X 5 -x localhost:%d %%h %%p'"`,
				socksProxyPort,
			))
		}

		env = append(env,
			"FTP_PROXY="+socksURL,
			"ftp_proxy="+socksURL,
			fmt.Sprintf("RSYNC_PROXY=localhost:%d", socksProxyPort),
		)

		// Docker's CLI talks HTTP to its API even when everything else
		// speaks SOCKS.
		dockerPort := httpProxyPort
		if dockerPort == 0 {
			dockerPort = socksProxyPort
		}
		env = append(env,
			fmt.Sprintf("DOCKER_HTTP_PROXY=http://localhost:%d", dockerPort),
			fmt.Sprintf("DOCKER_HTTPS_PROXY=http://localhost:%d", dockerPort),
		)

		if httpProxyPort != 0 {
			env = append(env,
				"CLOUDSDK_PROXY_TYPE=https",
				"CLOUDSDK_PROXY_ADDRESS=localhost",
				fmt.Sprintf("CLOUDSDK_PROXY_PORT=%d", httpProxyPort),
			)
		}

		env = append(env,
			"GRPC_PROXY="+socksURL,
			"grpc_proxy="+socksURL,
		)
	}

	return env
}
