package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/flexwatch/flexwatch/internal/config"
)

func TestStatusUpRequiresAgreement(t *testing.T) {
	cases := []struct {
		name   string
		status Status
		up     bool
	}{
		{"both up", Status{ServiceUp: true, PortOpen: true}, true},
		{"service up, port closed", Status{ServiceUp: true, PortOpen: false}, false},
		{"service down, port open", Status{ServiceUp: false, PortOpen: true}, false},
		{"both down", Status{ServiceUp: false, PortOpen: false}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.up, tc.status.Up())
		})
	}
}

func TestServiceQueryCommandConfigurable(t *testing.T) {
	log := zap.NewNop()

	p := NewProber(config.Config{
		ServiceName:     "lmgrd",
		ServiceQueryCmd: []string{"systemctl", "show", "--property=SubState"},
		LicenseHost:     "localhost",
		LicensePort:     "27008",
	}, log)
	assert.Equal(t,
		[]string{"systemctl", "show", "--property=SubState", "lmgrd"},
		serviceQueryArgv(p.queryCmd, p.serviceName),
	)

	// Missing config falls back to the service controller.
	p = NewProber(config.Config{ServiceName: "FLEXnet License Server"}, log)
	assert.Equal(t,
		[]string{"sc", "query", "FLEXnet License Server"},
		serviceQueryArgv(p.queryCmd, p.serviceName),
	)
}

func TestParseServiceState(t *testing.T) {
	out := `
SERVICE_NAME: FLEXnet License Server
        TYPE               : 10  WIN32_OWN_PROCESS
        STATE              : 4  RUNNING
                                (STOPPABLE, NOT_PAUSABLE, ACCEPTS_SHUTDOWN)
        WIN32_EXIT_CODE    : 0  (0x0)
`
	code, name, ok := ParseServiceState(out)
	assert.True(t, ok)
	assert.Equal(t, StateRunning, code)
	assert.Equal(t, "RUNNING", name)

	_, _, ok = ParseServiceState("The specified service does not exist.")
	assert.False(t, ok)

	code, name, ok = ParseServiceState("        STATE              : 1  STOPPED")
	assert.True(t, ok)
	assert.Equal(t, StateStopped, code)
	assert.Equal(t, "STOPPED", name)
}
