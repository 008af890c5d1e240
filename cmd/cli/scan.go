package cli

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/netscan/internal/config"
	"github.com/anstrom/netscan/internal/db"
	"github.com/anstrom/netscan/internal/engine"
	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
	"github.com/anstrom/netscan/internal/report"
	"github.com/anstrom/netscan/internal/scanning"
)

var (
	scanTargets     string
	scanPorts       string
	scanProtocols   string
	scanUDP         bool
	scanNoDetect    bool
	scanFingerprint bool
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover live hosts and scan their ports and services",
	Long: `Sweep the targets for live hosts, scan the requested ports on each of
them and identify the services behind the ports that answer.

Without --ports the range 0-1024 is scanned. Without --protocols every
detector runs on open ports; naming protocols runs those detectors on
every scanned port.`,
	Example: `  netscan scan --targets 192.168.1.0/24
  netscan scan --targets 127.0.0.1 --ports 22,80 --protocols ssh,http
  netscan scan --targets 10.0.0.1-20 --udp --ports 53,161 --json services.json
  netscan scan --targets 192.168.1.0/24 --fingerprint --mode tcp`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.StringVar(&scanTargets, "targets", "", "Targets: addresses, ranges (10.0.0.1-20) or CIDR blocks, comma-separated")
	flags.StringVar(&scanPorts, "ports", "", "Ports: '80,443' or '1-1024' (default 0-1024)")
	flags.StringVar(&scanProtocols, "protocols", "", "Protocols to detect: ssh,http,https,ftp,smtp,pop3,imap,telnet,dns,snmp")
	flags.BoolVar(&scanUDP, "udp", false, "Also scan UDP ports")
	flags.BoolVar(&scanNoDetect, "no-detect", false, "Skip service detection")
	flags.BoolVar(&scanFingerprint, "fingerprint", false, "Resolve MAC address and vendor of live hosts")
	flags.String("mode", "", "Discovery probe mode: auto, icmp, udp or tcp")
	flags.String("json", "", "Export detected services as JSON to this file")
	flags.String("csv", "", "Failure summary CSV file")
	flags.Duration("timeout", 0, "Connect timeout per port")
	flags.Int("workers", 0, "Concurrent port probes")
	flags.Bool("nmap", false, "Fall back to nmap for MAC resolution")
	flags.Bool("save", false, "Persist the session to the configured database")
	flags.String("metrics-file", "", "Write Prometheus metrics in textfile format")

	_ = scanCmd.MarkFlagRequired("targets")
}

var scanFlagKeys = map[string]string{
	"discovery.mode":       "mode",
	"report.services_json": "json",
	"report.failure_csv":   "csv",
	"scanning.timeout":     "timeout",
	"scanning.workers":     "workers",
	"fingerprint.use_nmap": "nmap",
	"database.enabled":     "save",
	"metrics.textfile":     "metrics-file",
}

func runScan(cmd *cobra.Command, _ []string) error {
	bindFlags(cmd.Flags(), scanFlagKeys)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := buildScanRequest(cfg)
	if err != nil {
		return err
	}
	return runSession(cmd, cfg, req)
}

// buildScanRequest turns the scan flags into an engine request.
func buildScanRequest(cfg *config.Config) (engine.Request, error) {
	req := engine.Request{
		Targets:        splitList(scanTargets),
		Protocols:      splitList(scanProtocols),
		DetectServices: cfg.Detection.Enabled && !scanNoDetect,
		Fingerprint:    cfg.Fingerprint.Enabled || scanFingerprint,
	}
	if len(req.Targets) == 0 {
		return req, errors.ErrInvalidTarget(scanTargets)
	}

	if scanPorts != "" {
		ports, err := scanning.ParsePorts(scanPorts)
		if err != nil {
			return req, err
		}
		req.Ports = ports
	}

	for _, name := range cfg.Scanning.Transports {
		if t, ok := scanning.ParseTransport(name); ok && !slices.Contains(req.Transports, t) {
			req.Transports = append(req.Transports, t)
		}
	}
	if scanUDP && !slices.Contains(req.Transports, scanning.UDP) {
		req.Transports = append(req.Transports, scanning.UDP)
	}
	return req, nil
}

// runSession runs req until it finishes or the process is interrupted and
// prints the report. An interrupted session still prints what it found.
func runSession(cmd *cobra.Command, cfg *config.Config, req engine.Request) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, closeStore := storeOptions(ctx, cfg)
	defer closeStore()

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}
	session, err := eng.Run(ctx, req)
	if err != nil {
		return err
	}
	return report.Render(cmd.OutOrStdout(), session)
}

// storeOptions connects the session store when persistence is enabled. A
// database that cannot be reached is logged and the scan runs without it.
func storeOptions(ctx context.Context, cfg *config.Config) ([]engine.Option, func()) {
	if !cfg.Database.Enabled {
		return nil, func() {}
	}
	database, err := connectDatabase(ctx, cfg)
	if err != nil {
		logging.Warn("Session persistence disabled", "error", err)
		return nil, func() {}
	}
	return []engine.Option{engine.WithStore(db.NewSessionRepository(database))}, func() {
		if err := database.Close(); err != nil {
			logging.Warn("Failed to close database connection", "error", err)
		}
	}
}
