package netenv

//
// shaper.go - host traffic shaping.
//

import (
	"errors"
	"fmt"

	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/shellx"
)

// DefaultSubnet is the subnet of the namespace side of the veth pair.
const DefaultSubnet = "10.200.0.0/24"

// Shaper isolates the experiment traffic from the host traffic using
// an HTB hierarchy on the host uplink: the namespace subnet gets most
// of the bandwidth and everything else is squeezed into a small class.
type Shaper struct {
	iface  string
	logger model.Logger
	subnet string
}

// NewShaper creates a new [*Shaper] for the given subnet.
func NewShaper(logger model.Logger, subnet string) *Shaper {
	if subnet == "" {
		subnet = DefaultSubnet
	}
	return &Shaper{logger: model.NewPrefixLogger("netenv", logger), subnet: subnet}
}

// ErrNoWANInterface indicates that we could not find the host uplink.
var ErrNoWANInterface = errors.New("cannot detect the WAN interface")

// WANInterface returns the host interface routing towards the Internet.
func WANInterface(logger model.Logger) (string, error) {
	argv, err := shellx.NewArgv("ip", "route", "get", "1.1.1.1")
	if err != nil {
		return "", err
	}
	out, err := shellx.OutputEx(&shellx.Config{Logger: logger}, argv, &shellx.Envp{})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoWANInterface, err.Error())
	}
	iface := fieldAfter(string(out), "dev")
	if iface == "" {
		return "", ErrNoWANInterface
	}
	return iface, nil
}

// Install installs the shaping rules and returns the shaped interface.
func (s *Shaper) Install() (string, error) {
	iface, err := WANInterface(s.logger)
	if err != nil {
		return "", err
	}
	// a previous run may have left a root qdisc behind
	_ = s.tc("qdisc", "del", "dev", iface, "root")

	commands := [][]string{
		{"qdisc", "add", "dev", iface, "root", "handle", "1:", "htb", "default", "30"},
		{"class", "add", "dev", iface, "parent", "1:", "classid", "1:1", "htb", "rate", "100mbit"},
		{"class", "add", "dev", iface, "parent", "1:1", "classid", "1:10", "htb", "rate", "90mbit", "ceil", "95mbit"},
		{"class", "add", "dev", iface, "parent", "1:1", "classid", "1:30", "htb", "rate", "10mbit", "ceil", "20mbit"},
		{"filter", "add", "dev", iface, "parent", "1:", "protocol", "ip", "prio", "1", "u32",
			"match", "ip", "src", s.subnet, "classid", "1:10"},
		{"filter", "add", "dev", iface, "parent", "1:", "protocol", "ip", "prio", "2", "u32",
			"match", "ip", "src", "0.0.0.0/0", "classid", "1:30"},
	}
	for _, args := range commands {
		if err := s.tc(args...); err != nil {
			_ = s.tc("qdisc", "del", "dev", iface, "root")
			return "", fmt.Errorf("installing traffic shaping on %s: %w", iface, err)
		}
	}
	s.iface = iface
	s.logger.Infof("shaping traffic on %s (experiment subnet %s)", iface, s.subnet)
	return iface, nil
}

// Uninstall removes the shaping rules. It is a no-op unless Install succeeded.
func (s *Shaper) Uninstall() error {
	if s.iface == "" {
		return nil
	}
	err := s.tc("qdisc", "del", "dev", s.iface, "root")
	s.iface = ""
	return err
}

func (s *Shaper) tc(args ...string) error {
	argv, err := shellx.NewArgv("tc", args...)
	if err != nil {
		return err
	}
	return shellx.RunEx(&shellx.Config{Logger: s.logger}, argv, &shellx.Envp{})
}
