package runtimex

import "testing"

func TestAssert(t *testing.T) {
	Assert(true, "should not happen")
	var got error
	func() {
		defer func() {
			got = recover().(error)
		}()
		Assert(false, "expected at least one URL")
	}()
	if got == nil || got.Error() != "expected at least one URL" {
		t.Fatal("unexpected", got)
	}
}
