// Package daemon derives license-daemon reachability from two independent
// signals: the service-control state and a TCP probe of the license port.
package daemon

import (
	"context"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/flexwatch/flexwatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service state codes as reported by `sc query`.
const (
	StateStopped      = 1
	StateStartPending = 2
	StateStopPending  = 3
	StateRunning      = 4
)

var reServiceState = regexp.MustCompile(`(?im)STATE\s*:\s*(\d+)\s+([A-Za-z_]+)`)

// Status is one combined observation of both signals.
type Status struct {
	ServiceUp bool
	PortOpen  bool
}

// Up requires both signals to agree. Disagreement or a failed probe reads as
// down; a false "up" alert is worse than a duplicate "down".
func (s Status) Up() bool {
	return s.ServiceUp && s.PortOpen
}

// Prober observes the daemon's reachability.
type Prober interface {
	Probe(ctx context.Context) Status
}

// Module provides the exec+dial prober.
var Module = fx.Provide(
	NewProber,
	func(p *ExecProber) Prober { return p },
)

// ExecProber queries the service controller and dials the license port.
type ExecProber struct {
	serviceName  string
	queryCmd     []string
	address      string
	probeTimeout time.Duration
	log          *zap.Logger
}

func NewProber(cfg config.Config, log *zap.Logger) *ExecProber {
	queryCmd := cfg.ServiceQueryCmd
	if len(queryCmd) == 0 {
		queryCmd = []string{"sc", "query"}
	}
	return &ExecProber{
		serviceName:  cfg.ServiceName,
		queryCmd:     queryCmd,
		address:      net.JoinHostPort(cfg.LicenseHost, cfg.LicensePort),
		probeTimeout: cfg.ProbeTimeout,
		log:          log.Named("daemon.prober"),
	}
}

func (p *ExecProber) Probe(ctx context.Context) Status {
	return Status{
		ServiceUp: p.serviceRunning(ctx),
		PortOpen:  p.portOpen(),
	}
}

func (p *ExecProber) serviceRunning(ctx context.Context) bool {
	if p.serviceName == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	argv := serviceQueryArgv(p.queryCmd, p.serviceName)
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		p.log.Debug("service query failed", zap.Error(err))
		return false
	}
	code, _, ok := ParseServiceState(string(out))
	return ok && code == StateRunning
}

func (p *ExecProber) portOpen() bool {
	conn, err := net.DialTimeout("tcp", p.address, p.probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// serviceQueryArgv appends the service name to the configured query command.
func serviceQueryArgv(cmd []string, serviceName string) []string {
	argv := make([]string, 0, len(cmd)+1)
	argv = append(argv, cmd...)
	return append(argv, serviceName)
}

// ParseServiceState extracts the numeric state code and name from `sc query`
// output. ok is false when no STATE line is present.
func ParseServiceState(out string) (code int, name string, ok bool) {
	m := reServiceState.FindStringSubmatch(out)
	if m == nil {
		return 0, "", false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return code, m[2], true
}
