package cli

import (
	"github.com/spf13/cobra"

	"github.com/anstrom/netscan/internal/engine"
	"github.com/anstrom/netscan/internal/errors"
)

var sweepTargets string

// sweepCmd represents the sweep command.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Find live hosts without scanning their ports",
	Long: `Probe every target address for liveness and list the hosts that
answered, with round-trip time, TTL and a coarse OS guess.

Raw ICMP needs root or CAP_NET_RAW. Without it netscan falls back to
unprivileged ICMP and then to TCP connect probes; the report shows the mode
that was used.`,
	Example: `  netscan sweep --targets 192.168.1.0/24
  netscan sweep --targets 10.0.0.1-50 --mode tcp`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&sweepTargets, "targets", "", "Targets: addresses, ranges or CIDR blocks, comma-separated")
	sweepCmd.Flags().String("mode", "", "Probe mode: auto, icmp, udp or tcp")
	sweepCmd.Flags().Bool("save", false, "Persist the session to the configured database")
	_ = sweepCmd.MarkFlagRequired("targets")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	bindFlags(cmd.Flags(), map[string]string{
		"discovery.mode":   "mode",
		"database.enabled": "save",
	})
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets := splitList(sweepTargets)
	if len(targets) == 0 {
		return errors.ErrInvalidTarget(sweepTargets)
	}
	return runSession(cmd, cfg, engine.Request{Targets: targets, SweepOnly: true})
}
