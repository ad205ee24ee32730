// Package discovery implements the UDP broadcast query/answer protocol
// clients use to find a host on the local network without knowing its
// address in advance: a client broadcasts a fixed header to DiscoveryPort
// and collects descriptor replies; a discoverable Answerer listens on the
// same port and echoes its descriptor back to anyone who asked.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/tbnf-go/tbnf/internal/metrics"
	"github.com/tbnf-go/tbnf/internal/wire"
)

// DefaultDiscoveryPort is the well-known UDP port both sides default to.
const DefaultDiscoveryPort = 54656

// BroadcastHeader is the fixed, case-insensitive-matched prefix every valid
// query datagram must start with.
const BroadcastHeader = "TBNF-DISCOVER"

// maxDatagram caps a descriptor at the UDP payload ceiling referenced in the
// wire layout (65507 bytes for IPv4/UDP).
const maxDatagram = 65507

// Descriptor is the application-supplied, discoverable identity of a host.
type Descriptor struct {
	Name           string
	GameIdentifier string
	AdditionalData []byte
}

// Answer pairs a Descriptor with the host's reachable address, as decoded
// from a reply datagram.
type Answer struct {
	Descriptor
	IP   net.IP
	Port int
}

// encodeAnswer serializes descriptor plus (ip, port) per the wire layout:
// u16 additionalDataLength | length-prefixed Name | length-prefixed
// GameIdentifier | additionalData bytes | u8 addressByteLength | address
// bytes | i32 TCP port (all little-endian).
func encodeAnswer(d Descriptor, ip net.IP, port int) ([]byte, error) {
	w := wire.NewWriter()
	if len(d.AdditionalData) > 0xFFFF {
		return nil, fmt.Errorf("discovery: additional data too large (%d bytes)", len(d.AdditionalData))
	}
	w.WriteUint16(uint16(len(d.AdditionalData)))
	w.WriteString(d.Name)
	w.WriteString(d.GameIdentifier)
	w.WriteBytes(d.AdditionalData)

	addrBytes := ip.To4()
	if addrBytes == nil {
		addrBytes = ip.To16()
	}
	if len(addrBytes) > 0xFF {
		return nil, fmt.Errorf("discovery: address too large (%d bytes)", len(addrBytes))
	}
	w.WriteUint8(uint8(len(addrBytes)))
	w.WriteBytes(addrBytes)
	w.WriteInt32(int32(port))

	if w.Len() > maxDatagram {
		return nil, fmt.Errorf("discovery: descriptor too large for one datagram (%d bytes)", w.Len())
	}
	return w.Bytes(), nil
}

func decodeAnswer(payload []byte) (Answer, error) {
	r := wire.NewReader(payload)
	addlLen, err := r.ReadUint16()
	if err != nil {
		return Answer{}, fmt.Errorf("discovery: read additional data length: %w", err)
	}
	name, err := r.ReadString()
	if err != nil {
		return Answer{}, fmt.Errorf("discovery: read name: %w", err)
	}
	gameID, err := r.ReadString()
	if err != nil {
		return Answer{}, fmt.Errorf("discovery: read game identifier: %w", err)
	}
	additional, err := r.ReadBytes(int(addlLen))
	if err != nil {
		return Answer{}, fmt.Errorf("discovery: read additional data: %w", err)
	}
	addrLen, err := r.ReadUint8()
	if err != nil {
		return Answer{}, fmt.Errorf("discovery: read address length: %w", err)
	}
	addrBytes, err := r.ReadBytes(int(addrLen))
	if err != nil {
		return Answer{}, fmt.Errorf("discovery: read address: %w", err)
	}
	port, err := r.ReadInt32()
	if err != nil {
		return Answer{}, fmt.Errorf("discovery: read port: %w", err)
	}
	return Answer{
		Descriptor: Descriptor{Name: name, GameIdentifier: gameID, AdditionalData: additional},
		IP:         net.IP(addrBytes),
		Port:       int(port),
	}, nil
}

// Discover broadcasts a query on port and collects answers for up to
// timeout, optionally filtering by gameIdentifier (empty accepts all).
func Discover(ctx context.Context, port int, gameIdentifier string, timeout time.Duration) ([]Answer, error) {
	if port <= 0 {
		port = DefaultDiscoveryPort
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("discovery: listen: %w", err)
	}
	defer conn.Close()

	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
	if _, err := conn.WriteTo([]byte(BroadcastHeader), broadcastAddr); err != nil {
		metrics.IncError(metrics.ErrDiscoveryQuery)
		return nil, fmt.Errorf("discovery: broadcast query: %w", err)
	}
	metrics.IncDiscoveryQuery()

	deadline := time.Now().Add(timeout)
	_ = conn.SetReadDeadline(deadline)
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	var answers []Answer
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return answers, nil
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return answers, nil
		}
		answer, err := decodeAnswer(buf[:n])
		if err != nil {
			continue
		}
		if gameIdentifier != "" && answer.GameIdentifier != gameIdentifier {
			continue
		}
		answers = append(answers, answer)
	}
}

// Answerer listens on DiscoveryPort and replies to matching queries with
// its own Descriptor and reachable (IP, TCP port).
type Answerer struct {
	descriptor  Descriptor
	tcpPort     int
	port        int
	conn        *net.UDPConn
	mdnsService *zeroconf.Server
}

// NewAnswerer constructs an Answerer for descriptor, advertising tcpPort as
// the TCP listening port clients should connect to.
func NewAnswerer(descriptor Descriptor, tcpPort int, discoveryPort int) *Answerer {
	if discoveryPort <= 0 {
		discoveryPort = DefaultDiscoveryPort
	}
	return &Answerer{descriptor: descriptor, tcpPort: tcpPort, port: discoveryPort}
}

// Start binds the UDP socket with address reuse and launches the answer
// loop in the background.
func (a *Answerer) Start(ctx context.Context) error {
	lc := listenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("discovery: listen: %w", err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return fmt.Errorf("discovery: unexpected packet conn type %T", pc)
	}
	a.conn = conn

	go func() { <-ctx.Done(); _ = conn.Close() }()
	go a.answerLoop()
	return nil
}

func (a *Answerer) answerLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if !strings.HasPrefix(strings.ToUpper(string(buf[:n])), strings.ToUpper(BroadcastHeader)) {
			continue
		}
		localIP := localAddrIP(a.conn, addr)
		payload, err := encodeAnswer(a.descriptor, localIP, a.tcpPort)
		if err != nil {
			metrics.IncError(metrics.ErrDiscoveryReply)
			continue
		}
		if _, err := a.conn.WriteToUDP(payload, addr); err != nil {
			metrics.IncError(metrics.ErrDiscoveryReply)
			continue
		}
		metrics.IncDiscoveryAnswer()
	}
}

func localAddrIP(conn *net.UDPConn, remote *net.UDPAddr) net.IP {
	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || local.IP == nil || local.IP.IsUnspecified() {
		// A wildcard-bound socket can't report its own outward-facing
		// address; fall back to discovering the local interface used to
		// reach the requester.
		if dial, err := net.Dial("udp4", remote.String()); err == nil {
			defer dial.Close()
			if addr, ok := dial.LocalAddr().(*net.UDPAddr); ok {
				return addr.IP
			}
		}
		return net.IPv4zero
	}
	return local.IP
}

// Close stops the answer loop, releases the socket, and shuts down the
// mDNS advertisement if EnableMDNS was called.
func (a *Answerer) Close() error {
	a.closeMDNS()
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
