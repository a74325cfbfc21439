package netenv

import (
	"strings"
	"testing"

	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/shellx/shellxtesting"
)

const routeGet = "/usr/bin/ip route get 1.1.1.1"

func TestShaper(t *testing.T) {
	t.Run("install and uninstall", func(t *testing.T) {
		fs := &fakeShell{outputs: map[string]string{
			routeGet: "1.1.1.1 via 192.168.1.1 dev enp3s0 src 192.168.1.10 uid 0\n    cache\n",
		}}
		shaper := NewShaper(model.DiscardLogger, "")
		var iface string
		var errInstall, errUninstall, errAgain error
		shellxtesting.WithCustomLibrary(fs.library(), func() {
			iface, errInstall = shaper.Install()
			errUninstall = shaper.Uninstall()
			errAgain = shaper.Uninstall()
		})
		if errInstall != nil || errUninstall != nil || errAgain != nil {
			t.Fatal(errInstall, errUninstall, errAgain)
		}
		if iface != "enp3s0" {
			t.Fatal("unexpected interface", iface)
		}
		// route, stale cleanup, six rules and a single uninstall
		if len(fs.commands) != 9 {
			t.Fatal("unexpected commands", fs.commands)
		}
		if !strings.Contains(fs.commands[6], "match ip src 10.200.0.0/24 classid 1:10") {
			t.Fatal("unexpected filter", fs.commands[6])
		}
		if fs.commands[8] != "/usr/bin/tc qdisc del dev enp3s0 root" {
			t.Fatal("unexpected uninstall", fs.commands[8])
		}
	})

	t.Run("without a WAN interface", func(t *testing.T) {
		fs := &fakeShell{fail: map[string]bool{routeGet: true}}
		var err error
		shellxtesting.WithCustomLibrary(fs.library(), func() {
			_, err = NewShaper(model.DiscardLogger, "").Install()
		})
		if err == nil || !strings.Contains(err.Error(), ErrNoWANInterface.Error()) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("when tc fails", func(t *testing.T) {
		fs := &fakeShell{
			outputs: map[string]string{routeGet: "1.1.1.1 dev eth0 src 10.0.0.2\n"},
			fail: map[string]bool{
				"/usr/bin/tc class add dev eth0 parent 1: classid 1:1 htb rate 100mbit": true,
			},
		}
		shaper := NewShaper(model.DiscardLogger, "")
		var err error
		shellxtesting.WithCustomLibrary(fs.library(), func() {
			_, err = shaper.Install()
		})
		if err == nil {
			t.Fatal("expected an error")
		}
		last := fs.commands[len(fs.commands)-1]
		if last != "/usr/bin/tc qdisc del dev eth0 root" {
			t.Fatal("expected rollback, got", last)
		}
	})
}
