// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/enclave-foundation/enclave/lib/platform"
	"github.com/enclave-foundation/enclave/lib/ripgrep"
)

// sessionSuffix tags every Seatbelt rule message for this process, so the
// log monitor can separate this session's violations from everyone
// else's. Random per process lifetime.
var sessionSuffix = func() string {
	raw := make([]byte, 9)
	rand.Read(raw)
	return "_" + hex.EncodeToString(raw) + "_SBX"
}()

// LogTag returns the violation-correlation tag embedded in a command's
// Seatbelt rules and matched by the log monitor.
func LogTag(command string) string {
	return fmt.Sprintf("CMD64_%s_END_%s", EncodeCommand(command), sessionSuffix)
}

// MacOSWrapSpec describes one command to confine on macOS.
type MacOSWrapSpec struct {
	Command string

	NeedsNetworkRestriction bool

	// HTTPProxyPort and SocksProxyPort are the host proxy ports; on
	// macOS the sandboxed process reaches them directly over loopback.
	HTTPProxyPort  int
	SocksProxyPort int

	Read  *ReadRestriction
	Write *WriteRestriction

	// AllowUnixSockets lists Unix socket paths the profile permits.
	// Seatbelt can filter by path, unlike Linux seccomp.
	AllowUnixSockets    []string
	AllowAllUnixSockets bool

	// AllowLocalBinding permits loopback listeners inside the sandbox.
	AllowLocalBinding bool
}

// MacOSBuilder assembles sandbox-exec invocations with generated Seatbelt
// profiles.
type MacOSBuilder struct {
	// Shell is the absolute path of the shell that runs the confined
	// command.
	Shell string

	// ProfileDir, when set, receives a copy of each generated profile
	// for debugging.
	ProfileDir string

	Ripgrep ripgrep.Config
	Logger  *slog.Logger
}

// Wrap returns a shell command that runs spec.Command under sandbox-exec.
// When the spec carries no restrictions at all, the command is returned
// unchanged.
func (b *MacOSBuilder) Wrap(ctx context.Context, spec MacOSWrapSpec) (string, error) {
	hasReadRestrictions := spec.Read != nil && len(spec.Read.Deny) > 0
	hasWriteRestrictions := spec.Write != nil

	if !spec.NeedsNetworkRestriction && !hasReadRestrictions && !hasWriteRestrictions {
		return spec.Command, nil
	}

	logTag := LogTag(spec.Command)
	profile, err := b.generateProfile(ctx, spec, logTag)
	if err != nil {
		return "", err
	}

	if b.ProfileDir != "" {
		profilePath := filepath.Join(b.ProfileDir, "sandbox_profile.sb")
		if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
			b.logger().Warn("writing debug profile", "path", profilePath, "error", err)
		}
	}

	// Proxy environment rides inside the shell command: sandbox-exec has
	// no --setenv equivalent.
	var environment strings.Builder
	for _, entry := range ProxyEnvironment(spec.HTTPProxyPort, spec.SocksProxyPort, platform.MacOS) {
		environment.WriteString("export " + entry + " && ")
	}

	parts := []string{
		"sandbox-exec",
		"-p",
		profile,
		b.Shell,
		"-c",
		environment.String() + spec.Command,
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = shellQuote(part)
	}

	b.logger().Debug("wrapped command with sandbox-exec",
		"network", spec.NeedsNetworkRestriction,
		"read", hasReadRestrictions,
		"write", hasWriteRestrictions,
	)
	return strings.Join(quoted, " "), nil
}

func (b *MacOSBuilder) generateProfile(ctx context.Context, spec MacOSWrapSpec, logTag string) (string, error) {
	var profile []string
	profile = append(profile, "(version 1)")
	profile = append(profile, fmt.Sprintf(`(deny default (with message %q))`, logTag))
	profile = append(profile, "")
	profile = append(profile, "; LogTag: "+logTag)
	profile = append(profile, seatbeltPreamble...)

	profile = append(profile, "; Network")
	profile = append(profile, b.networkRules(spec)...)
	profile = append(profile, "")

	profile = append(profile, "; File read")
	profile = append(profile, b.readRules(spec.Read, logTag)...)
	profile = append(profile, "")

	profile = append(profile, "; File write")
	writeRules, err := b.writeRules(ctx, spec.Write, logTag)
	if err != nil {
		return "", err
	}
	profile = append(profile, writeRules...)

	return strings.Join(profile, "\n"), nil
}

func (b *MacOSBuilder) networkRules(spec MacOSWrapSpec) []string {
	if !spec.NeedsNetworkRestriction {
		return []string{"(allow network*)"}
	}

	var rules []string
	if spec.AllowLocalBinding {
		rules = append(rules,
			`(allow network-bind (local ip "localhost:*"))`,
			`(allow network-inbound (local ip "localhost:*"))`,
			`(allow network-outbound (local ip "localhost:*"))`,
		)
	}

	// DNS must keep working: resolution happens in-process before the
	// proxies ever see a hostname.
	rules = append(rules,
		"; DNS Resolution",
		`(allow network-outbound (literal "/private/var/run/mDNSResponder"))`,
		`(allow network-outbound (remote ip "localhost:53"))`,
		`(allow network-outbound (remote ip "localhost:5353"))`,
		"(allow system-socket)",
	)

	switch {
	case spec.AllowAllUnixSockets:
		rules = append(rules, `(allow network* (subpath "/"))`)
	case len(spec.AllowUnixSockets) > 0:
		for _, socketPath := range spec.AllowUnixSockets {
			rules = append(rules, fmt.Sprintf("(allow network* (subpath %s))", escapeSeatbeltPath(NormalizePath(socketPath))))
		}
	}

	for _, port := range []int{spec.HTTPProxyPort, spec.SocksProxyPort} {
		if port == 0 {
			continue
		}
		rules = append(rules,
			fmt.Sprintf(`(allow network-bind (local ip "localhost:%d"))`, port),
			fmt.Sprintf(`(allow network-inbound (local ip "localhost:%d"))`, port),
			fmt.Sprintf(`(allow network-outbound (remote ip "localhost:%d"))`, port),
		)
	}
	return rules
}

func (b *MacOSBuilder) readRules(read *ReadRestriction, logTag string) []string {
	rules := []string{"(allow file-read*)"}
	if read == nil {
		return rules
	}

	for _, pattern := range read.Deny {
		normalized := NormalizePath(pattern)
		if ContainsGlobChars(normalized) {
			rules = append(rules, denyRule("file-read*", "regex", globToRegex(normalized), logTag))
		} else {
			rules = append(rules, denyRule("file-read*", "subpath", normalized, logTag))
		}
	}

	rules = append(rules, b.moveBlockingRules(read.Deny, logTag)...)
	return rules
}

func (b *MacOSBuilder) writeRules(ctx context.Context, write *WriteRestriction, logTag string) ([]string, error) {
	if write == nil {
		return []string{"(allow file-write*)"}, nil
	}

	var rules []string

	// The per-user temp tree must stay writable or nothing runs; /var is
	// a symlink to /private/var, so both spellings are allowed.
	for _, tmpdirParent := range tmpdirParents(os.Getenv("TMPDIR")) {
		rules = append(rules, allowRule("file-write*", "subpath", NormalizePath(tmpdirParent), logTag))
	}

	for _, pattern := range write.Allow {
		normalized := NormalizePath(pattern)
		if ContainsGlobChars(normalized) {
			rules = append(rules, allowRule("file-write*", "regex", globToRegex(normalized), logTag))
		} else {
			rules = append(rules, allowRule("file-write*", "subpath", normalized, logTag))
		}
	}

	denyPaths := append([]string{}, write.Deny...)
	mandatory, err := MandatoryDenyPaths(ctx, b.Ripgrep)
	if err != nil {
		return nil, err
	}
	denyPaths = append(denyPaths, mandatory...)

	for _, pattern := range denyPaths {
		normalized := NormalizePath(pattern)
		if ContainsGlobChars(normalized) {
			rules = append(rules, denyRule("file-write*", "regex", globToRegex(normalized), logTag))
		} else {
			rules = append(rules, denyRule("file-write*", "subpath", normalized, logTag))
		}
	}

	rules = append(rules, b.moveBlockingRules(denyPaths, logTag)...)
	return rules, nil
}

// moveBlockingRules denies file-write-unlink on protected paths and their
// ancestors. Without them, mv of an ancestor directory would carry a
// protected path out from under its deny rule.
func (b *MacOSBuilder) moveBlockingRules(patterns []string, logTag string) []string {
	var rules []string
	for _, pattern := range patterns {
		normalized := NormalizePath(pattern)

		if ContainsGlobChars(normalized) {
			rules = append(rules, denyRule("file-write-unlink", "regex", globToRegex(normalized), logTag))

			prefix := staticGlobPrefix(normalized)
			if prefix == "" || prefix == "/" {
				continue
			}
			baseDir := strings.TrimSuffix(prefix, "/")
			if !strings.HasSuffix(prefix, "/") {
				baseDir = filepath.Dir(prefix)
			}
			rules = append(rules, denyRule("file-write-unlink", "literal", baseDir, logTag))
			for _, ancestor := range ancestorDirectories(baseDir) {
				rules = append(rules, denyRule("file-write-unlink", "literal", ancestor, logTag))
			}
			continue
		}

		rules = append(rules, denyRule("file-write-unlink", "subpath", normalized, logTag))
		for _, ancestor := range ancestorDirectories(normalized) {
			rules = append(rules, denyRule("file-write-unlink", "literal", ancestor, logTag))
		}
	}
	return rules
}

func allowRule(operation, match, value, logTag string) string {
	return fmt.Sprintf("(allow %s\n  (%s %s)\n  (with message %q))",
		operation, match, escapeSeatbeltPath(value), logTag)
}

func denyRule(operation, match, value, logTag string) string {
	return fmt.Sprintf("(deny %s\n  (%s %s)\n  (with message %q))",
		operation, match, escapeSeatbeltPath(value), logTag)
}

// escapeSeatbeltPath quotes a path for a Seatbelt expression. JSON string
// encoding happens to match the profile language's escaping rules.
func escapeSeatbeltPath(path string) string {
	encoded, _ := json.Marshal(path)
	return string(encoded)
}

var tmpdirPattern = regexp.MustCompile(`^/(private/)?var/folders/[^/]{2}/[^/]+/T/?$`)

// tmpdirParents returns the per-user temp parent directory in both its
// /var and /private/var spellings, or nothing when TMPDIR is not the
// standard macOS per-user pattern.
func tmpdirParents(tmpdir string) []string {
	if tmpdir == "" || !tmpdirPattern.MatchString(tmpdir) {
		return nil
	}

	parent := strings.TrimSuffix(tmpdir, "/")
	parent = strings.TrimSuffix(parent, "/T")

	if strings.HasPrefix(parent, "/private/var/") {
		return []string{parent, strings.TrimPrefix(parent, "/private")}
	}
	if strings.HasPrefix(parent, "/var/") {
		return []string{parent, "/private" + parent}
	}
	return []string{parent}
}

var (
	regexSpecial    = regexp.MustCompile(`[.^$+{}()|\\]`)
	unclosedBracket = regexp.MustCompile(`\[([^\]]*)$`)
)

// globToRegex converts a gitignore-style glob to the regex dialect used
// in Seatbelt (regex ...) expressions: * stops at separators, ** crosses
// them, ? is one non-separator character.
func globToRegex(glob string) string {
	pattern := regexSpecial.ReplaceAllString(glob, `\$0`)
	pattern = unclosedBracket.ReplaceAllString(pattern, `\[$1`)

	// Placeholders keep ** substitutions from being re-matched by the
	// single-star rule.
	pattern = strings.ReplaceAll(pattern, "**/", "\x00GSLASH\x00")
	pattern = strings.ReplaceAll(pattern, "**", "\x00GSTAR\x00")
	pattern = strings.ReplaceAll(pattern, "*", "[^/]*")
	pattern = strings.ReplaceAll(pattern, "?", "[^/]")
	pattern = strings.ReplaceAll(pattern, "\x00GSLASH\x00", "(.*/)?")
	pattern = strings.ReplaceAll(pattern, "\x00GSTAR\x00", ".*")

	return "^" + pattern + "$"
}

func (b *MacOSBuilder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// seatbeltPreamble is the fixed allow set every profile carries,
// modeled on Chrome's sandbox policy: process control, the Mach services
// baseline tooling needs, safe sysctls, and device-file I/O.
var seatbeltPreamble = []string{
	"",
	"; Essential permissions - based on Chrome sandbox policy",
	"; Process permissions",
	"(allow process-exec)",
	"(allow process-fork)",
	"(allow process-info* (target same-sandbox))",
	"(allow signal (target same-sandbox))",
	"(allow mach-priv-task-port (target same-sandbox))",
	"",
	"; User preferences",
	"(allow user-preference-read)",
	"",
	"; Mach IPC - specific services only (no wildcard)",
	"(allow mach-lookup",
	`  (global-name "com.apple.audio.systemsoundserver")`,
	`  (global-name "com.apple.distributed_notifications@Uv3")`,
	`  (global-name "com.apple.FontObjectsServer")`,
	`  (global-name "com.apple.fonts")`,
	`  (global-name "com.apple.logd")`,
	`  (global-name "com.apple.lsd.mapdb")`,
	`  (global-name "com.apple.PowerManagement.control")`,
	`  (global-name "com.apple.system.logger")`,
	`  (global-name "com.apple.system.notification_center")`,
	`  (global-name "com.apple.trustd.agent")`,
	`  (global-name "com.apple.system.opendirectoryd.libinfo")`,
	`  (global-name "com.apple.system.opendirectoryd.membership")`,
	`  (global-name "com.apple.bsd.dirhelper")`,
	`  (global-name "com.apple.securityd.xpc")`,
	`  (global-name "com.apple.coreservices.launchservicesd")`,
	")",
	"",
	"; POSIX IPC - shared memory",
	"(allow ipc-posix-shm)",
	"",
	"; POSIX IPC - semaphores",
	"(allow ipc-posix-sem)",
	"",
	"; IOKit - specific operations only",
	"(allow iokit-open",
	`  (iokit-registry-entry-class "IOSurfaceRootUserClient")`,
	`  (iokit-registry-entry-class "RootDomainUserClient")`,
	`  (iokit-user-client-class "IOSurfaceSendRight")`,
	")",
	"",
	"; IOKit properties",
	"(allow iokit-get-properties)",
	"",
	"; Specific safe system-sockets, doesn't allow network access",
	"(allow system-socket (require-all (socket-domain AF_SYSTEM) (socket-protocol 2)))",
	"",
	"; sysctl - specific sysctls only",
	"(allow sysctl-read",
	`  (sysctl-name "hw.activecpu")`,
	`  (sysctl-name "hw.busfrequency_compat")`,
	`  (sysctl-name "hw.byteorder")`,
	`  (sysctl-name "hw.cacheconfig")`,
	`  (sysctl-name "hw.cachelinesize_compat")`,
	`  (sysctl-name "hw.cpufamily")`,
	`  (sysctl-name "hw.cpufrequency")`,
	`  (sysctl-name "hw.cpufrequency_compat")`,
	`  (sysctl-name "hw.cputype")`,
	`  (sysctl-name "hw.l1dcachesize_compat")`,
	`  (sysctl-name "hw.l1icachesize_compat")`,
	`  (sysctl-name "hw.l2cachesize_compat")`,
	`  (sysctl-name "hw.l3cachesize_compat")`,
	`  (sysctl-name "hw.logicalcpu")`,
	`  (sysctl-name "hw.logicalcpu_max")`,
	`  (sysctl-name "hw.machine")`,
	`  (sysctl-name "hw.memsize")`,
	`  (sysctl-name "hw.ncpu")`,
	`  (sysctl-name "hw.nperflevels")`,
	`  (sysctl-name "hw.packages")`,
	`  (sysctl-name "hw.pagesize_compat")`,
	`  (sysctl-name "hw.pagesize")`,
	`  (sysctl-name "hw.physicalcpu")`,
	`  (sysctl-name "hw.physicalcpu_max")`,
	`  (sysctl-name "hw.tbfrequency_compat")`,
	`  (sysctl-name "hw.vectorunit")`,
	`  (sysctl-name "kern.argmax")`,
	`  (sysctl-name "kern.bootargs")`,
	`  (sysctl-name "kern.hostname")`,
	`  (sysctl-name "kern.maxfiles")`,
	`  (sysctl-name "kern.maxfilesperproc")`,
	`  (sysctl-name "kern.maxproc")`,
	`  (sysctl-name "kern.ngroups")`,
	`  (sysctl-name "kern.osproductversion")`,
	`  (sysctl-name "kern.osrelease")`,
	`  (sysctl-name "kern.ostype")`,
	`  (sysctl-name "kern.osvariant_status")`,
	`  (sysctl-name "kern.osversion")`,
	`  (sysctl-name "kern.secure_kernel")`,
	`  (sysctl-name "kern.tcsm_available")`,
	`  (sysctl-name "kern.tcsm_enable")`,
	`  (sysctl-name "kern.usrstack64")`,
	`  (sysctl-name "kern.version")`,
	`  (sysctl-name "kern.willshutdown")`,
	`  (sysctl-name "machdep.cpu.brand_string")`,
	`  (sysctl-name "machdep.ptrauth_enabled")`,
	`  (sysctl-name "security.mac.lockdown_mode_state")`,
	`  (sysctl-name "sysctl.proc_cputype")`,
	`  (sysctl-name "vm.loadavg")`,
	`  (sysctl-name-prefix "hw.optional.arm")`,
	`  (sysctl-name-prefix "hw.optional.arm.")`,
	`  (sysctl-name-prefix "hw.optional.armv8_")`,
	`  (sysctl-name-prefix "hw.perflevel")`,
	`  (sysctl-name-prefix "kern.proc.pgrp.")`,
	`  (sysctl-name-prefix "kern.proc.pid.")`,
	`  (sysctl-name-prefix "machdep.cpu.")`,
	`  (sysctl-name-prefix "net.routetable.")`,
	")",
	"",
	"; V8 thread calculations",
	"(allow sysctl-write",
	`  (sysctl-name "kern.tcsm_enable")`,
	")",
	"",
	"; Distributed notifications",
	"(allow distributed-notification-post)",
	"",
	"; Specific mach-lookup permissions for security operations",
	`(allow mach-lookup (global-name "com.apple.SecurityServer"))`,
	"",
	"; File I/O on device files",
	`(allow file-ioctl (literal "/dev/null"))`,
	`(allow file-ioctl (literal "/dev/zero"))`,
	`(allow file-ioctl (literal "/dev/random"))`,
	`(allow file-ioctl (literal "/dev/urandom"))`,
	`(allow file-ioctl (literal "/dev/dtracehelper"))`,
	`(allow file-ioctl (literal "/dev/tty"))`,
	"",
	"(allow file-ioctl file-read-data file-write-data",
	"  (require-all",
	`    (literal "/dev/null")`,
	"    (vnode-type CHARACTER-DEVICE)",
	"  )",
	")",
	"",
}
