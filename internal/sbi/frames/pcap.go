package frames

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// CaptureWriter appends frames to a pcap stream. The replay tool uses it to
// dump every packet-out so runs can be inspected with standard tooling.
type CaptureWriter struct {
	mu sync.Mutex
	w  *pcapgo.Writer
}

// NewCaptureWriter writes the pcap file header to w.
func NewCaptureWriter(w io.Writer) (*CaptureWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &CaptureWriter{w: pw}, nil
}

// Write appends one frame stamped with ts.
func (c *CaptureWriter) Write(ts time.Time, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	return c.w.WritePacket(ci, data)
}

// ReadCapture returns every frame in a pcap stream, in order.
func ReadCapture(r io.Reader) ([][]byte, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	var out [][]byte
	for {
		data, _, err := pr.ReadPacketData()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read pcap: %w", err)
		}
		out = append(out, data)
	}
}
