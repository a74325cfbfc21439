// Package netenv prepares the network environment of a run.
//
// The experiment runs inside a network namespace connected to the host
// through a veth pair. This package checks that we can enter the
// namespace, finds the interface where the loader attaches, forces
// QUIC with nftables, shapes the host uplink and cleans up leftovers
// of previous runs. Creating the namespace is out of scope.
package netenv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/shellx"
)

// DefaultInterface is the interface we use when autodetection fails.
const DefaultInterface = "eth0"

// Namespace is a network namespace.
type Namespace struct {
	logger model.Logger
	name   string
	prefix []string
}

// NewNamespace returns the namespace with the given name. The empty
// name means the current namespace.
func NewNamespace(logger model.Logger, name string) *Namespace {
	ns := &Namespace{
		logger: model.NewPrefixLogger("netenv", logger),
		name:   name,
	}
	if name != "" {
		ns.prefix = []string{"ip", "netns", "exec", name}
	}
	return ns
}

// SetExecPrefix replaces the default "ip netns exec <name>" prefix with
// the given command line, e.g. "sudo -n ip netns exec wfns". The empty
// string keeps the default.
func (ns *Namespace) SetExecPrefix(cmdline string) error {
	prefix, err := shellx.SplitPrefix(cmdline)
	if err != nil {
		return model.NewConfigurationError("exec_prefix", err)
	}
	if len(prefix) > 0 {
		ns.prefix = prefix
	}
	return nil
}

// Name returns the namespace name.
func (ns *Namespace) Name() string {
	return ns.name
}

// Prefix returns the prefix to execute commands inside the namespace.
func (ns *Namespace) Prefix() []string {
	return append([]string{}, ns.prefix...)
}

func (ns *Namespace) argv(command string, args ...string) (*shellx.Argv, error) {
	inner, err := shellx.NewArgv(command, args...)
	if err != nil {
		return nil, err
	}
	return shellx.WrapArgv(ns.prefix, inner)
}

// output runs a command inside the namespace and returns its stdout.
func (ns *Namespace) output(command string, args ...string) (string, error) {
	argv, err := ns.argv(command, args...)
	if err != nil {
		return "", err
	}
	data, err := shellx.OutputEx(&shellx.Config{Logger: ns.logger}, argv, &shellx.Envp{})
	return string(data), err
}

// run runs a command inside the namespace.
func (ns *Namespace) run(command string, args ...string) error {
	argv, err := ns.argv(command, args...)
	if err != nil {
		return err
	}
	return shellx.RunEx(&shellx.Config{Logger: ns.logger}, argv, &shellx.Envp{})
}

// CheckAccess returns a [*model.ConfigurationError] when we cannot
// execute commands inside the namespace.
func (ns *Namespace) CheckAccess() error {
	if len(ns.prefix) <= 0 {
		return nil
	}
	if err := ns.run("true"); err != nil {
		return model.NewConfigurationError("namespace",
			fmt.Errorf("cannot enter namespace %q (are you root?): %w", ns.name, err))
	}
	return nil
}

// DetectInterface returns the interface of the default route, or the
// first non-loopback interface, or [DefaultInterface].
func (ns *Namespace) DetectInterface() string {
	if out, err := ns.output("ip", "-o", "-4", "route", "show", "default"); err == nil {
		if iface := fieldAfter(out, "dev"); iface != "" {
			return iface
		}
	}
	if out, err := ns.output("ip", "-o", "link", "show"); err == nil {
		if iface := firstNonLoopback(out); iface != "" {
			return iface
		}
	}
	ns.logger.Warnf("cannot detect interface; using %s", DefaultInterface)
	return DefaultInterface
}

// fieldAfter returns the whitespace separated field following key.
func fieldAfter(output, key string) string {
	fields := strings.Fields(output)
	for idx := 0; idx+1 < len(fields); idx++ {
		if fields[idx] == key {
			return fields[idx+1]
		}
	}
	return ""
}

// firstNonLoopback parses `ip -o link show` lines like
// "2: veth1@if5: <BROADCAST,...> mtu 1500 ...".
func firstNonLoopback(output string) string {
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, ": ", 3)
		if len(parts) < 3 {
			continue
		}
		name, _, _ := strings.Cut(parts[1], "@")
		if name != "" && name != "lo" {
			return name
		}
	}
	return ""
}

// quicOnlyRules forces QUIC by rejecting HTTPS over TCP.
const quicOnlyRules = `add table inet quiconly
add chain inet quiconly out { type filter hook output priority 0; policy accept; }
add rule inet quiconly out udp dport 443 accept
add rule inet quiconly out tcp dport 443 reject
`

// InstallQUICOnly installs the nftables rules forcing QUIC inside the
// namespace. The rules file lives in dir.
func (ns *Namespace) InstallQUICOnly(dir string) error {
	rules := filepath.Join(dir, "quiconly.nft")
	if err := os.WriteFile(rules, []byte(quicOnlyRules), 0600); err != nil {
		return err
	}
	if err := ns.run("nft", "-f", rules); err != nil {
		return fmt.Errorf("installing QUIC-only rules: %w", err)
	}
	return nil
}

// UninstallQUICOnly removes the rules installed by [*Namespace.InstallQUICOnly].
func (ns *Namespace) UninstallQUICOnly() error {
	return ns.run("nft", "delete", "table", "inet", "quiconly")
}

// StalePatterns match the processes a previous run may have left behind.
var StalePatterns = []string{
	"chrome.*--enable-quic",
	"chromedriver",
	"tcpdump.*veth1",
}

// CleanupDelay is the time we give stale processes to exit.
var CleanupDelay = 500 * time.Millisecond

// Clean kills the stale processes of previous runs. We ignore errors
// because pkill fails when nothing matches.
func (ns *Namespace) Clean() {
	ns.logger.Infof("cleaning namespace %q", ns.name)
	for _, pattern := range StalePatterns {
		_ = ns.run("pkill", "-f", pattern)
	}
	time.Sleep(CleanupDelay)
}

// Ping returns whether we can ping the given address from the namespace.
func (ns *Namespace) Ping(address string) bool {
	return ns.run("ping", "-c1", "-W1", address) == nil
}

// Diagnose returns the interfaces, routes and firewall rules of the
// namespace, for troubleshooting.
func (ns *Namespace) Diagnose() string {
	commands := [][]string{
		{"ip", "-br", "link"},
		{"ip", "-4", "route"},
		{"ss", "-u", "-n"},
		{"nft", "list", "table", "inet", "quiconly"},
	}
	var sb strings.Builder
	for _, cmd := range commands {
		out, err := ns.output(cmd[0], cmd[1:]...)
		fmt.Fprintf(&sb, "[diag] %s:\n", strings.Join(cmd, " "))
		if err != nil {
			fmt.Fprintf(&sb, "error: %s\n", err.Error())
			continue
		}
		sb.WriteString(out)
	}
	return sb.String()
}
