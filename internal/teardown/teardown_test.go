package teardown

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wfeval/wfeval/internal/model"
)

func TestRegistry(t *testing.T) {
	t.Run("runs hooks once in LIFO order", func(t *testing.T) {
		var order []string
		r := New(model.DiscardLogger)
		for _, name := range []string{"netenv", "injector", "capture"} {
			name := name
			r.Register(name, func() error {
				order = append(order, name)
				return nil
			})
		}
		r.Run()
		r.Run()
		if diff := cmp.Diff([]string{"capture", "injector", "netenv"}, order); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("failing and panicking hooks do not stop the others", func(t *testing.T) {
		var ran int
		r := New(nil)
		r.Register("first", func() error {
			ran++
			return nil
		})
		r.Register("panics", func() error {
			panic("mocked panic")
		})
		r.Register("fails", func() error {
			return errors.New("mocked error")
		})
		r.Run()
		if ran != 1 {
			t.Fatal("expected the first hook to run")
		}
	})
}
