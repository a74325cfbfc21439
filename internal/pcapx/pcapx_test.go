package pcapx

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/wfeval/wfeval/internal/pcapx/pcapxtesting"
)

func testPackets() []pcapxtesting.Packet {
	return []pcapxtesting.Packet{
		pcapxtesting.Up(0, 58),
		pcapxtesting.Down(10*time.Millisecond, 58),
		pcapxtesting.Down(20*time.Millisecond, 158),
	}
}

func TestCount(t *testing.T) {
	dir := t.TempDir()

	t.Run("with a pcap file", func(t *testing.T) {
		pathname := filepath.Join(dir, "trial.pcap")
		if err := pcapxtesting.WriteFile(pathname, testPackets()...); err != nil {
			t.Fatal(err)
		}
		count, err := Count(pathname)
		if err != nil || count != 3 {
			t.Fatal("unexpected", count, err)
		}
	})

	t.Run("with a pcapng file", func(t *testing.T) {
		pathname := filepath.Join(dir, "trial.pcapng")
		if err := pcapxtesting.WriteNgFile(pathname, testPackets()...); err != nil {
			t.Fatal(err)
		}
		count, err := Count(pathname)
		if err != nil || count != 3 {
			t.Fatal("unexpected", count, err)
		}
	})

	t.Run("with a header-only file", func(t *testing.T) {
		pathname := filepath.Join(dir, "empty.pcap")
		if err := pcapxtesting.WriteFile(pathname); err != nil {
			t.Fatal(err)
		}
		count, err := Count(pathname)
		if err != nil || count != 0 {
			t.Fatal("unexpected", count, err)
		}
	})

	t.Run("with a missing file", func(t *testing.T) {
		_, err := Count(filepath.Join(dir, "nonexistent.pcap"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestTruncatedTrace(t *testing.T) {
	pathname := filepath.Join(t.TempDir(), "trial.pcap")
	if err := pcapxtesting.WriteFile(pathname, testPackets()...); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(pathname)
	if err != nil {
		t.Fatal(err)
	}
	// cut the last packet in half as if tcpdump was killed
	if err := os.Truncate(pathname, info.Size()-100); err != nil {
		t.Fatal(err)
	}

	tr, err := Open(pathname)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if tr.LinkType() != layers.LinkTypeEthernet {
		t.Fatal("unexpected link type", tr.LinkType())
	}
	var count int
	for {
		_, _, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 2 {
		t.Fatal("expected two complete packets, got", count)
	}
	if !tr.Truncated() {
		t.Fatal("expected the trace to be marked as truncated")
	}
}
