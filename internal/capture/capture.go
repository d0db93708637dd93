// Package capture records implicit I/O datagrams to pcap files.
package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tonylturner/eipscan/internal/cip/connection"
)

const snapLen = 65535

// ErrClosed is returned when recording after Close.
var ErrClosed = errors.New("capture: recorder closed")

var (
	originatorMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	targetMAC     = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Recorder writes each datagram as a synthesized Ethernet/IPv4/UDP frame.
type Recorder struct {
	mu         sync.Mutex
	writer     *pcapgo.Writer
	closer     io.Closer
	originator net.IP
	target     net.IP
	port       layers.UDPPort
	now        func() time.Time
	count      int
	err        error
	closed     bool
}

// NewRecorder writes a pcap header to w and returns a recorder that frames
// O->T datagrams from originator to target and T->O datagrams the other way.
func NewRecorder(w io.Writer, originator, target net.IP) (*Recorder, error) {
	o, t := originator.To4(), target.To4()
	if o == nil || t == nil {
		return nil, fmt.Errorf("capture needs IPv4 endpoints, have %s and %s", originator, target)
	}
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	r := &Recorder{
		writer:     writer,
		originator: o,
		target:     t,
		port:       layers.UDPPort(connection.DefaultPort),
		now:        time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r, nil
}

// Create opens path for writing and returns a recorder over it.
func Create(path string, originator, target net.IP) (*Recorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	r, err := NewRecorder(file, originator, target)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// Record implements the I/O engine recorder. Write failures are kept and
// reported by Err; recording stops after the first one.
func (r *Recorder) Record(flow connection.Flow, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	frame, err := r.frame(flow, payload)
	if err == nil {
		ci := gopacket.CaptureInfo{Timestamp: r.now(), CaptureLength: len(frame), Length: len(frame)}
		err = r.writer.WritePacket(ci, frame)
	}
	if err != nil {
		r.err = err
		return
	}
	r.count++
}

func (r *Recorder) frame(flow connection.Flow, payload []byte) ([]byte, error) {
	srcIP, dstIP := r.originator, r.target
	srcMAC, dstMAC := originatorMAC, targetMAC
	if flow == connection.FlowTToO {
		srcIP, dstIP = dstIP, srcIP
		srcMAC, dstMAC = dstMAC, srcMAC
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: srcIP, DstIP: dstIP}
	udp := &layers.UDP{SrcPort: r.port, DstPort: r.port}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Count returns the number of frames written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the underlying file when the recorder owns one.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Datagram is one UDP payload read back from a recording.
type Datagram struct {
	Timestamp time.Time
	Src       *net.UDPAddr
	Dst       *net.UDPAddr
	Payload   []byte
}

// ReadDatagrams returns the UDP datagrams of a pcap file in order. Frames
// without a UDP layer are skipped.
func ReadDatagrams(path string) ([]Datagram, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap file: %w", err)
	}
	defer file.Close()
	return DecodeDatagrams(file)
}

// DecodeDatagrams is ReadDatagrams over a reader.
func DecodeDatagrams(rd io.Reader) ([]Datagram, error) {
	reader, err := pcapgo.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	var out []Datagram
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read packet %d: %w", len(out)+1, err)
		}
		pkt := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		ipLayer, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		udpLayer, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if ipLayer == nil || udpLayer == nil {
			continue
		}
		out = append(out, Datagram{
			Timestamp: ci.Timestamp,
			Src:       &net.UDPAddr{IP: ipLayer.SrcIP, Port: int(udpLayer.SrcPort)},
			Dst:       &net.UDPAddr{IP: ipLayer.DstIP, Port: int(udpLayer.DstPort)},
			Payload:   append([]byte(nil), udpLayer.Payload...),
		})
	}
}

// FlowSummary counts the datagrams between one source and destination.
type FlowSummary struct {
	Src     string
	Dst     string
	Packets int
	Bytes   int
	First   time.Time
	Last    time.Time
}

// Summarize groups datagrams by source and destination, in first-seen order.
func Summarize(datagrams []Datagram) []FlowSummary {
	var flows []FlowSummary
	index := make(map[string]int)
	for _, d := range datagrams {
		key := d.Src.String() + ">" + d.Dst.String()
		i, ok := index[key]
		if !ok {
			i = len(flows)
			index[key] = i
			flows = append(flows, FlowSummary{Src: d.Src.String(), Dst: d.Dst.String(), First: d.Timestamp})
		}
		f := &flows[i]
		f.Packets++
		f.Bytes += len(d.Payload)
		f.Last = d.Timestamp
	}
	return flows
}
