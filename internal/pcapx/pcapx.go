// Package pcapx reads packet captures written by tcpdump.
//
// We support the classic pcap format and pcapng. A capture whose writer
// was killed in the middle of a packet is read up to the last complete
// packet and marked as [*Trace.Truncated].
package pcapx

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/wfeval/wfeval/internal/fsx"
)

// HeaderSize is the size of the classic pcap file header.
const HeaderSize = 24

// pcapngMagic is the block type of the pcapng section header block.
const pcapngMagic = 0x0A0D0D0A

// packetReader is the interface shared by pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Trace is an open packet capture.
type Trace struct {
	file      fs.File
	reader    packetReader
	truncated bool
}

// Open opens the capture at the given path.
func Open(pathname string) (*Trace, error) {
	file, err := fsx.OpenFile(pathname)
	if err != nil {
		return nil, err
	}
	reader, err := newPacketReader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Trace{file: file, reader: reader}, nil
}

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// LinkType returns the capture link type.
func (tr *Trace) LinkType() layers.LinkType {
	return tr.reader.LinkType()
}

// Next returns the next packet or io.EOF at the end of the capture.
func (tr *Trace) Next() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := tr.reader.ReadPacketData()
	if errors.Is(err, io.ErrUnexpectedEOF) {
		tr.truncated = true
		err = io.EOF
	}
	return data, ci, err
}

// Truncated returns whether the capture ends with a partial packet.
func (tr *Trace) Truncated() bool {
	return tr.truncated
}

// Close closes the underlying file.
func (tr *Trace) Close() error {
	return tr.file.Close()
}

// Count returns the number of complete packets in the capture.
func Count(pathname string) (int64, error) {
	tr, err := Open(pathname)
	if err != nil {
		return 0, err
	}
	defer tr.Close()
	var count int64
	for {
		_, _, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		count++
	}
}
