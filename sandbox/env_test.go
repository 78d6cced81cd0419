// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"slices"
	"strings"
	"testing"

	"github.com/enclave-foundation/enclave/lib/platform"
)

func TestProxyEnvironmentMarkersOnly(t *testing.T) {
	env := ProxyEnvironment(0, 0, platform.Linux)
	want := []string{"SANDBOX_RUNTIME=1", "TMPDIR=/tmp/enclave"}
	if !slices.Equal(env, want) {
		t.Errorf("ProxyEnvironment(0, 0) = %v, want %v", env, want)
	}
}

func TestProxyEnvironmentHTTPOnly(t *testing.T) {
	env := ProxyEnvironment(3128, 0, platform.Linux)

	for _, want := range []string{
		"HTTP_PROXY=http://localhost:3128",
		"HTTPS_PROXY=http://localhost:3128",
		"http_proxy=http://localhost:3128",
		"https_proxy=http://localhost:3128",
	} {
		if !slices.Contains(env, want) {
			t.Errorf("missing %q in %v", want, env)
		}
	}
	for _, entry := range env {
		if strings.HasPrefix(entry, "ALL_PROXY=") || strings.HasPrefix(entry, "GRPC_PROXY=") {
			t.Errorf("unexpected SOCKS entry %q without a SOCKS port", entry)
		}
	}
}

func TestProxyEnvironmentSocksEntries(t *testing.T) {
	env := ProxyEnvironment(3128, 1080, platform.Linux)

	for _, want := range []string{
		"ALL_PROXY=socks5h://localhost:1080",
		"all_proxy=socks5h://localhost:1080",
		"FTP_PROXY=socks5h://localhost:1080",
		"RSYNC_PROXY=localhost:1080",
		"DOCKER_HTTP_PROXY=http://localhost:3128",
		"DOCKER_HTTPS_PROXY=http://localhost:3128",
		"CLOUDSDK_PROXY_TYPE=https",
		"CLOUDSDK_PROXY_PORT=3128",
		"GRPC_PROXY=socks5h://localhost:1080",
	} {
		if !slices.Contains(env, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestProxyEnvironmentNoProxyList(t *testing.T) {
	env := ProxyEnvironment(3128, 1080, platform.Linux)

	var noProxy string
	for _, entry := range env {
		if value, found := strings.CutPrefix(entry, "NO_PROXY="); found {
			noProxy = value
		}
	}
	if noProxy == "" {
		t.Fatal("NO_PROXY not set")
	}
	for _, want := range []string{"localhost", "127.0.0.1", "::1", "169.254.0.0/16", "10.0.0.0/8"} {
		if !strings.Contains(noProxy, want) {
			t.Errorf("NO_PROXY %q missing %q", noProxy, want)
		}
	}
}

func TestProxyEnvironmentGitSSHIsMacOSOnly(t *testing.T) {
	hasGitSSH := func(env []string) bool {
		for _, entry := range env {
			if strings.HasPrefix(entry, "GIT_SSH_COMMAND=") {
				return true
			}
		}
		return false
	}

	if hasGitSSH(ProxyEnvironment(3128, 1080, platform.Linux)) {
		t.Error("GIT_SSH_COMMAND set on linux; nc there has no SOCKS support")
	}
	macEnv := ProxyEnvironment(3128, 1080, platform.MacOS)
	if !hasGitSSH(macEnv) {
		t.Error("GIT_SSH_COMMAND missing on macos")
	}
	for _, entry := range macEnv {
		if strings.HasPrefix(entry, "GIT_SSH_COMMAND=") && !strings.Contains(entry, "localhost:1080") {
			t.Errorf("GIT_SSH_COMMAND %q does not target the SOCKS port", entry)
		}
	}
}

func TestProxyEnvironmentDockerFallsBackToSocks(t *testing.T) {
	env := ProxyEnvironment(0, 1080, platform.Linux)
	if !slices.Contains(env, "DOCKER_HTTP_PROXY=http://localhost:1080") {
		t.Errorf("docker proxy should fall back to the SOCKS port: %v", env)
	}
	for _, entry := range env {
		if strings.HasPrefix(entry, "CLOUDSDK_") {
			t.Errorf("unexpected %q without an HTTP proxy", entry)
		}
	}
}
