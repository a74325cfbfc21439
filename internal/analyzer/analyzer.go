// Package analyzer derives flow metrics from the captures of a run.
//
// For each trial we replay its capture and only consider UDP packets
// whose source or destination port is the secure transport port. A
// packet towards the port is uplink, a packet from the port is downlink.
package analyzer

import (
	"errors"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/wfeval/wfeval/internal/humanize"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/pcapx"
)

// DefaultPort is the QUIC port.
const DefaultPort = 443

// Config contains the [*Analyzer] config.
type Config struct {
	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// Port is the OPTIONAL server port.
	Port uint16
}

// Analyzer computes [model.FlowMetrics].
type Analyzer struct {
	logger model.Logger
	port   layers.UDPPort
}

// New creates a new [*Analyzer].
func New(config *Config) *Analyzer {
	port := config.Port
	if port == 0 {
		port = DefaultPort
	}
	return &Analyzer{
		logger: model.ValidLoggerOrDefault(config.Logger),
		port:   layers.UDPPort(port),
	}
}

// AnalyzeAll analyzes all the trials, preserving their order.
func (a *Analyzer) AnalyzeAll(trials []*model.Trial) []*model.FlowMetrics {
	out := make([]*model.FlowMetrics, 0, len(trials))
	for _, trial := range trials {
		out = append(out, a.Analyze(trial))
	}
	return out
}

// Analyze computes the flow metrics of a trial. A missing or unreadable
// capture produces zero metrics and a warning.
func (a *Analyzer) Analyze(trial *model.Trial) *model.FlowMetrics {
	fm := &model.FlowMetrics{Trial: trial}
	if err := a.replay(trial.CapturePath, fm); err != nil {
		a.logger.Warnf("analyzer: %s: %s", trial.CapturePath, err.Error())
		return &model.FlowMetrics{Trial: trial}
	}
	a.logger.Debugf("analyzer: %s: up %d pkts %s, down %d pkts %s, %s",
		trial.CapturePath, fm.PacketsUp, humanize.Bytes(fm.BytesUp),
		fm.PacketsDown, humanize.Bytes(fm.BytesDown), fm.Duration)
	return fm
}

// direction tracks the state of one direction of the flow.
type direction struct {
	bytes   *int64
	packets *int64
	iat     *[]time.Duration
	prev    time.Time
	seen    bool
}

func (d *direction) add(ci gopacket.CaptureInfo) {
	*d.packets++
	*d.bytes += int64(ci.CaptureLength)
	if d.seen {
		*d.iat = append(*d.iat, ci.Timestamp.Sub(d.prev))
	}
	d.prev, d.seen = ci.Timestamp, true
}

func (a *Analyzer) replay(pathname string, fm *model.FlowMetrics) error {
	trace, err := pcapx.Open(pathname)
	if err != nil {
		return err
	}
	defer trace.Close()

	up := &direction{bytes: &fm.BytesUp, packets: &fm.PacketsUp, iat: &fm.IATUp}
	down := &direction{bytes: &fm.BytesDown, packets: &fm.PacketsDown, iat: &fm.IATDown}
	var first, last time.Time
	var seen bool

	options := gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	for {
		data, ci, err := trace.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		packet := gopacket.NewPacket(data, trace.LinkType(), options)
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}
		switch {
		case udp.DstPort == a.port:
			up.add(ci)
		case udp.SrcPort == a.port:
			down.add(ci)
		default:
			continue
		}
		if !seen {
			first, seen = ci.Timestamp, true
		}
		last = ci.Timestamp
	}
	if trace.Truncated() {
		a.logger.Warnf("analyzer: %s: truncated capture", pathname)
	}
	if seen {
		fm.Duration = last.Sub(first)
	}
	return nil
}
