package discovery

import (
	"context"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58

	echoPayload  = "netscan"
	readBufSize  = 1500
	ipv4MinHdr   = 20
	ipv4TTLIndex = 8
)

// icmpProber sends echo requests, one socket per probe so concurrent probes
// never read each other's replies.
type icmpProber struct {
	mode Mode
	id   int
	seq  atomic.Uint32
}

func newICMPProber(mode Mode) *icmpProber {
	return &icmpProber{mode: mode, id: os.Getpid() & 0xffff}
}

func (p *icmpProber) Mode() Mode {
	return p.mode
}

// endpoint returns the network and listen address for the mode and family.
func endpoint(mode Mode, v6 bool) (string, string) {
	switch {
	case mode == ModeICMP && v6:
		return "ip6:ipv6-icmp", "::"
	case mode == ModeICMP:
		return "ip4:icmp", "0.0.0.0"
	case v6:
		return "udp6", "::"
	default:
		return "udp4", "0.0.0.0"
	}
}

// canListen reports whether the kernel lets us open the mode's socket.
func canListen(mode Mode, v6 bool) error {
	network, address := endpoint(mode, v6)
	conn, err := icmp.ListenPacket(network, address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *icmpProber) Probe(ctx context.Context, addr netip.Addr) (Reply, error) {
	addr = addr.Unmap()
	v6 := !addr.Is4()
	network, address := endpoint(p.mode, v6)

	conn, err := icmp.ListenPacket(network, address)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeoutSeconds * time.Second)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Reply{}, err
	}

	var request, reply icmp.Type = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	proto := protocolICMP
	if v6 {
		request, reply, proto = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply, protocolIPv6ICMP
		if pc := conn.IPv6PacketConn(); pc != nil {
			_ = pc.SetControlMessage(ipv6.FlagHopLimit, true)
		}
	} else if pc := conn.IPv4PacketConn(); pc != nil {
		_ = pc.SetControlMessage(ipv4.FlagTTL, true)
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: request,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte(echoPayload)},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return Reply{}, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, p.destination(addr)); err != nil {
		return Reply{}, err
	}

	buf := make([]byte, readBufSize)
	for {
		payload, ttl, peer, err := read(conn, v6, buf)
		if err != nil {
			return Reply{}, err
		}
		rtt := time.Since(start)
		if peerAddr(peer) != addr {
			continue
		}
		rm, err := icmp.ParseMessage(proto, payload)
		if err != nil || rm.Type != reply {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// Datagram sockets rewrite the identifier to the local port.
		if p.mode == ModeICMP && echo.ID != p.id {
			continue
		}
		return Reply{RTT: rtt, TTL: ttl}, nil
	}
}

func (p *icmpProber) destination(addr netip.Addr) net.Addr {
	if p.mode == ModeICMP {
		return &net.IPAddr{IP: addr.AsSlice(), Zone: addr.Zone()}
	}
	return &net.UDPAddr{IP: addr.AsSlice(), Zone: addr.Zone()}
}

// read returns one ICMP message with the TTL or hop limit it arrived with.
func read(conn *icmp.PacketConn, v6 bool, buf []byte) ([]byte, int, net.Addr, error) {
	if v6 {
		if pc := conn.IPv6PacketConn(); pc != nil {
			n, cm, peer, err := pc.ReadFrom(buf)
			if err != nil {
				return nil, 0, nil, err
			}
			hops := 0
			if cm != nil {
				hops = cm.HopLimit
			}
			return buf[:n], hops, peer, nil
		}
	} else if pc := conn.IPv4PacketConn(); pc != nil {
		n, cm, peer, err := pc.ReadFrom(buf)
		if err != nil {
			return nil, 0, nil, err
		}
		payload, hdrTTL := trimIPv4Header(buf[:n])
		ttl := hdrTTL
		if cm != nil && cm.TTL > 0 {
			ttl = cm.TTL
		}
		return payload, ttl, peer, nil
	}

	n, peer, err := conn.ReadFrom(buf)
	if err != nil {
		return nil, 0, nil, err
	}
	return buf[:n], 0, peer, nil
}

// trimIPv4Header strips the IP header raw sockets deliver ahead of the ICMP
// message and returns the header's TTL. An echo reply starts with type 0, so
// a leading version nibble of 4 can only be a header.
func trimIPv4Header(b []byte) ([]byte, int) {
	if len(b) < ipv4MinHdr || b[0]>>4 != 4 {
		return b, 0
	}
	hdrLen := int(b[0]&0x0f) << 2
	if hdrLen < ipv4MinHdr || hdrLen > len(b) {
		return b, 0
	}
	return b[hdrLen:], int(b[ipv4TTLIndex])
}

func peerAddr(a net.Addr) netip.Addr {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPAddr:
		ip = v.IP
	case *net.UDPAddr:
		ip = v.IP
	default:
		return netip.Addr{}
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
