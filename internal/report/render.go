package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/netscan/internal/scanning"
)

// Render writes the human-readable session report.
func Render(w io.Writer, s *scanning.Session) error {
	if s == nil {
		_, err := fmt.Fprintln(w, "No results available")
		return err
	}

	fmt.Fprintln(w, "Scan Results:")
	fmt.Fprintln(w, "=============")
	fmt.Fprintf(w, "Session: %s\n", s.ID)
	fmt.Fprintf(w, "Scan started: %s\n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(w, "Scan duration: %v\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Probe mode: %s\n", s.ProbeMode)
	fmt.Fprintf(w, "Hosts probed: %d, Live: %d\n", s.Counters.Candidates, s.Counters.HostsLive)
	if s.Interrupted {
		fmt.Fprintln(w, "Scan interrupted: results are partial")
	}
	fmt.Fprintln(w)

	if len(s.Hosts) > 0 {
		if err := renderHosts(w, s.Hosts); err != nil {
			return err
		}
		if err := renderPorts(w, s.Hosts); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, "No live hosts found")
	}

	fmt.Fprintf(w, "\nTotal open ports: %d\n", s.Counters.PortsOpen)
	fmt.Fprintf(w, "Total errors: %d\n", s.Counters.Errors)

	failures := ProtocolFailureCounts(s)
	if len(failures) > 0 {
		fmt.Fprintln(w, "\nProtocol failures:")
		for _, name := range sortedKeys(failures) {
			fmt.Fprintf(w, "  %s: %d\n", name, failures[name])
		}
	}
	return nil
}

func renderHosts(w io.Writer, hosts []scanning.HostRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("Host", "Method", "RTT", "TTL", "OS Guess", "MAC", "Vendor")
	for i := range hosts {
		h := &hosts[i]
		ttl := ""
		if h.TTL > 0 {
			ttl = strconv.Itoa(h.TTL)
		}
		_ = table.Append([]string{
			h.Address.String(),
			h.Method,
			h.RTT.Round(time.Microsecond).String(),
			ttl,
			h.OSGuess,
			h.MAC,
			h.Vendor,
		})
	}
	return table.Render()
}

func renderPorts(w io.Writer, hosts []scanning.HostRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("Host", "Port", "Transport", "Service", "Status", "Error")
	rows := 0
	for i := range hosts {
		for _, p := range hosts[i].Ports {
			_ = table.Append([]string{
				hosts[i].Address.String(),
				strconv.Itoa(int(p.Port)),
				string(p.Transport),
				p.Service,
				string(p.Status),
				p.Error,
			})
			rows++
		}
	}
	if rows == 0 {
		return nil
	}
	return table.Render()
}

// ProtocolFailureCounts counts, per detector, the ports where it could not
// complete a probe.
func ProtocolFailureCounts(s *scanning.Session) map[string]int {
	counts := make(map[string]int)
	for i := range s.Hosts {
		for _, p := range s.Hosts[i].Ports {
			for _, name := range p.ProtocolFailures {
				counts[name]++
			}
		}
	}
	return counts
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
