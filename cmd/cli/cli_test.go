package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscan/internal/config"
	"github.com/anstrom/netscan/internal/db"
	"github.com/anstrom/netscan/internal/errors"
	"github.com/anstrom/netscan/internal/logging"
	"github.com/anstrom/netscan/internal/scanning"
)

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"10.0.0.1", "10.0.1.0/24"}, splitList(" 10.0.0.1, ,10.0.1.0/24 "))
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList(" , "))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, exitFatal, exitCode(errors.ErrInvalidTarget("x")))
	assert.Equal(t, exitFatal, exitCode(errors.ErrNoProbeMode(assert.AnError)))
	assert.Equal(t, exitFailure, exitCode(assert.AnError))
}

func setScanFlags(t *testing.T, targets, ports, protocols string, udp, noDetect bool) {
	t.Helper()
	old := []any{scanTargets, scanPorts, scanProtocols, scanUDP, scanNoDetect}
	t.Cleanup(func() {
		scanTargets = old[0].(string)
		scanPorts = old[1].(string)
		scanProtocols = old[2].(string)
		scanUDP = old[3].(bool)
		scanNoDetect = old[4].(bool)
	})
	scanTargets, scanPorts, scanProtocols, scanUDP, scanNoDetect = targets, ports, protocols, udp, noDetect
}

func TestBuildScanRequest(t *testing.T) {
	setScanFlags(t, "127.0.0.1, 10.0.0.0/30", "80,22", "SSH,http", true, false)

	req, err := buildScanRequest(config.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.0/30"}, req.Targets)
	assert.Equal(t, []uint16{22, 80}, req.Ports)
	assert.Equal(t, []string{"SSH", "http"}, req.Protocols)
	assert.Equal(t, []scanning.Transport{scanning.TCP, scanning.UDP}, req.Transports)
	assert.True(t, req.DetectServices)
	assert.False(t, req.Fingerprint)
}

func TestBuildScanRequestDefaults(t *testing.T) {
	setScanFlags(t, "127.0.0.1", "", "", false, true)

	req, err := buildScanRequest(config.Default())
	require.NoError(t, err)
	assert.Nil(t, req.Ports, "nil selects the default range")
	assert.Nil(t, req.Protocols)
	assert.Equal(t, []scanning.Transport{scanning.TCP}, req.Transports)
	assert.False(t, req.DetectServices)
}

func TestBuildScanRequestRejectsBadInput(t *testing.T) {
	setScanFlags(t, " , ", "", "", false, false)
	_, err := buildScanRequest(config.Default())
	assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))

	setScanFlags(t, "127.0.0.1", "22-abc", "", false, false)
	_, err = buildScanRequest(config.Default())
	assert.True(t, errors.IsCode(err, errors.CodePortInvalid))
}

func envViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestApplyOverridesFromEnvironment(t *testing.T) {
	t.Setenv("NETSCAN_DISCOVERY_MODE", "tcp")
	t.Setenv("NETSCAN_DISCOVERY_RETRIES", "4")
	t.Setenv("NETSCAN_DISCOVERY_PROBE_PORTS", "22,8080")
	t.Setenv("NETSCAN_SCANNING_TIMEOUT", "750ms")
	t.Setenv("NETSCAN_SCANNING_ATTEMPTS", "3")
	t.Setenv("NETSCAN_SCANNING_RATE_LIMIT_ENABLED", "true")
	t.Setenv("NETSCAN_SCANNING_RATE_LIMIT_REQUESTS_PER_SECOND", "50")
	t.Setenv("NETSCAN_DETECTION_TIMEOUT", "3s")
	t.Setenv("NETSCAN_REPORT_FAILURE_CSV", "/tmp/failures.csv")
	t.Setenv("NETSCAN_DATABASE_ENABLED", "true")
	t.Setenv("NETSCAN_DATABASE_HOST", "db.internal")
	t.Setenv("NETSCAN_LOGGING_LEVEL", "debug")

	cfg := config.Default()
	require.NoError(t, applyOverrides(cfg, envViper()))

	assert.Equal(t, "tcp", cfg.Discovery.Mode)
	assert.Equal(t, 4, cfg.Discovery.Retries)
	assert.Equal(t, []uint16{22, 8080}, cfg.Discovery.ProbePorts)
	assert.Equal(t, 750*time.Millisecond, cfg.Scanning.Timeout)
	assert.Equal(t, 3, cfg.Scanning.Attempts)
	assert.True(t, cfg.Scanning.RateLimit.Enabled)
	assert.Equal(t, 50, cfg.Scanning.RateLimit.RequestsPerSecond)
	assert.Equal(t, 3*time.Second, cfg.Detection.Timeout)
	assert.Equal(t, "/tmp/failures.csv", cfg.Report.FailureCSV)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)

	defaults := config.Default()
	assert.Equal(t, defaults.Scanning.Workers, cfg.Scanning.Workers, "unset keys keep their value")
	assert.Equal(t, defaults.Scanning.Transports, cfg.Scanning.Transports)
	assert.Equal(t, defaults.Database.Port, cfg.Database.Port)
	assert.Equal(t, defaults.Database.ConnMaxLifetime, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, defaults.Fingerprint.OUIURL, cfg.Fingerprint.OUIURL)
}

func TestApplyOverridesKeepsLoadedValues(t *testing.T) {
	cfg := config.Default()
	cfg.Scanning.Workers = 7
	cfg.Discovery.ProbePorts = []uint16{443}
	require.NoError(t, applyOverrides(cfg, envViper()))
	assert.Equal(t, 7, cfg.Scanning.Workers)
	assert.Equal(t, []uint16{443}, cfg.Discovery.ProbePorts)
}

func TestApplyOverridesRejectsMalformedValue(t *testing.T) {
	t.Setenv("NETSCAN_SCANNING_WORKERS", "lots")

	err := applyOverrides(config.Default(), envViper())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderHistory(&buf, nil))
	assert.Contains(t, buf.String(), "No sessions found")

	buf.Reset()
	id := uuid.New()
	require.NoError(t, renderHistory(&buf, []db.SessionRow{{
		ID:        id,
		Targets:   []string{"10.0.0.0/24"},
		PortSpec:  "0-1024",
		ProbeMode: "icmp",
		Status:    "completed",
		StartedAt: time.Now(),
		HostsLive: 3,
		PortsOpen: 7,
	}}))
	assert.Contains(t, buf.String(), id.String())
	assert.Contains(t, buf.String(), "10.0.0.0/24")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "", redact(""))
	assert.Equal(t, "********", redact("hunter2"))
}

func TestExecuteMalformedTargetIsFatal(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := config.Default()
	cfg.Report.FailureCSV = filepath.Join(dir, "failures.csv")
	require.NoError(t, cfg.Save(cfgPath))

	rootCmd.SetArgs([]string{"--config", cfgPath, "scan", "--targets", "10.0.0.300", "--ports", "22"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	assert.Equal(t, exitFatal, Execute())
	_, err := os.Stat(cfg.Report.FailureCSV)
	assert.True(t, os.IsNotExist(err), "no probe, no artifact")
}

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netscan.yaml")
	var out bytes.Buffer
	configInitCmd.SetOut(&out)
	require.NoError(t, configInitCmd.RunE(configInitCmd, []string{path}))
	assert.Contains(t, out.String(), path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Scanning.Workers, loaded.Scanning.Workers)
}
