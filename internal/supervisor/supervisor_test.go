package supervisor

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverlock/fleetctl/internal/domain"
)

func newTestSupervisor(protectedPort int) *Supervisor {
	log := zerolog.New(io.Discard)
	return New(Config{
		ProtectedPort:   protectedPort,
		ManagedPortBase: protectedPort,
	}, log)
}

func TestParseDebugPort(t *testing.T) {
	tests := []struct {
		name     string
		cmdline  string
		wantPort int
		wantOK   bool
	}{
		{
			name:     "flag present mid-command",
			cmdline:  "/usr/bin/chrome --remote-debugging-port=9223 --user-data-dir=/tmp/x --no-first-run",
			wantPort: 9223,
			wantOK:   true,
		},
		{
			name:     "flag present at end",
			cmdline:  "/usr/bin/chrome --user-data-dir=/tmp/x --remote-debugging-port=9300",
			wantPort: 9300,
			wantOK:   true,
		},
		{
			name:    "flag absent",
			cmdline: "/usr/bin/chrome --user-data-dir=/tmp/x",
			wantOK:  false,
		},
		{
			name:    "malformed value",
			cmdline: "/usr/bin/chrome --remote-debugging-port=notanumber",
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := parseDebugPort(tt.cmdline)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantPort, port)
			}
		})
	}
}

func TestLaunch_RejectsPortAtOrBelowProtected(t *testing.T) {
	s := newTestSupervisor(9222)

	_, _, err := s.Launch(nil, "acct-1", 9222)
	require.Error(t, err)

	_, _, err = s.Launch(nil, "acct-1", 9000)
	require.Error(t, err)
}

func TestTerminate_NilHandleIsNoop(t *testing.T) {
	s := newTestSupervisor(9222)

	record := &domain.InstanceRecord{AccountName: "acct-1", Port: 9223}
	err := s.Terminate(record, nil)
	assert.NoError(t, err)

	err = s.Terminate(record, &ProcessHandle{})
	assert.NoError(t, err)
}

func TestDialTCP_NothingListening(t *testing.T) {
	// Port 1 is a privileged port extremely unlikely to have anything
	// listening in a test sandbox.
	assert.False(t, dialTCP(1))
}
