package detection

import (
	"context"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"

	"github.com/anstrom/netscan/internal/scanning"
)

const (
	dnsQueryName = "example.com."
	sysDescrOID  = "1.3.6.1.2.1.1.1.0"
)

// dnsDetector sends an A query over the port's transport. Any well-formed
// answer, whatever its rcode, counts as a match.
type dnsDetector struct {
	opts Options
}

func (d *dnsDetector) Name() string    { return DNS }
func (d *dnsDetector) Service() string { return "DNS" }

func (d *dnsDetector) WellKnown(port uint16) bool {
	return port == 53
}

func (d *dnsDetector) Supports(scanning.Transport) bool {
	return true
}

func (d *dnsDetector) Detect(ctx context.Context, target Target) (string, error) {
	client := &dns.Client{Net: string(target.Transport), Timeout: d.opts.Timeout}
	if target.Transport == "" {
		client.Net = string(scanning.TCP)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dnsQueryName, dns.TypeA)

	resp, _, err := client.ExchangeContext(ctx, msg, target.Address())
	if err != nil {
		if target.Transport == scanning.UDP && scanning.IsTimeout(err) {
			return "", mismatch("no response")
		}
		if _, ok := err.(*dns.Error); ok {
			return "", mismatch("unexpected response")
		}
		return "", err
	}
	if !resp.Response {
		return "", mismatch("unexpected response")
	}
	return "DNS " + dns.RcodeToString[resp.Rcode], nil
}

// snmpDetector asks for sysDescr with SNMP v2c.
type snmpDetector struct {
	opts Options
}

func (d *snmpDetector) Name() string    { return SNMP }
func (d *snmpDetector) Service() string { return "SNMP" }

func (d *snmpDetector) WellKnown(port uint16) bool {
	return port == 161
}

func (d *snmpDetector) Supports(transport scanning.Transport) bool {
	return transport == scanning.UDP
}

func (d *snmpDetector) Detect(ctx context.Context, target Target) (string, error) {
	timeout := d.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	client := &gosnmp.GoSNMP{
		Target:    target.Addr.String(),
		Port:      target.Port,
		Transport: "udp",
		Community: d.opts.SNMPCommunity,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return "", err
	}
	defer client.Conn.Close()

	packet, err := client.Get([]string{sysDescrOID})
	if err != nil {
		if scanning.IsTimeout(err) || strings.Contains(err.Error(), "timeout") {
			return "", mismatch("no response")
		}
		return "", err
	}
	for _, v := range packet.Variables {
		if v.Type == gosnmp.OctetString {
			if b, ok := v.Value.([]byte); ok {
				return cleanBanner(string(b)), nil
			}
		}
	}
	return "", nil
}
