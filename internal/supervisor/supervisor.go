// Package supervisor spawns, tracks, and terminates browser processes on a
// designated port range, enforcing the protected-port invariant: a process
// whose command line declares the protected port is never returned,
// signaled, or counted by anything in this package.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/riverlock/fleetctl/internal/domain"
	"github.com/riverlock/fleetctl/internal/errkind"
)

const remoteDebugPortFlag = "--remote-debugging-port="

// Config controls how the supervisor launches and identifies browser
// processes.
type Config struct {
	BinaryPath       string        // path to the browser executable
	ProfileRoot      string        // parent directory under which per-instance profile_dir scratch directories are created
	ProtectedPort    int           // never launched on, never terminated, never enumerated
	ManagedPortBase  int           // lower bound (exclusive) of the managed port range
	StartupTimeout   time.Duration // bounded window for the debug port to accept TCP after spawn
	ExtraArgs        []string      // additional fixed arguments appended to every launch
}

// ProcessHandle is the opaque handle domain.InstanceRecord.PID refers to -
// the supervisor is the only component that dereferences it.
type ProcessHandle struct {
	cmd *exec.Cmd
	pid int
}

// Supervisor manages the set of browser processes this orchestrator owns.
type Supervisor struct {
	cfg Config
	log zerolog.Logger
}

// New creates a Supervisor bound to cfg.
func New(cfg Config, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg: cfg,
		log: log.With().Str("component", "supervisor").Logger(),
	}
}

// Launch spawns a fresh browser process for accountName on port, with a
// dedicated profile directory. Precondition: port must exceed the protected
// port (enforced here, not trusted from the caller). Postcondition: the
// process is alive and the debug port accepts TCP within cfg.StartupTimeout;
// otherwise the launch is rolled back (process killed, profile dir removed)
// and an errkind.LaunchFailed error is returned.
func (s *Supervisor) Launch(ctx context.Context, accountName string, port int) (*domain.InstanceRecord, *ProcessHandle, error) {
	if port <= s.cfg.ProtectedPort {
		return nil, nil, errkind.New(errkind.LaunchFailed, accountName,
			fmt.Sprintf("port %d does not exceed protected port %d", port, s.cfg.ProtectedPort), nil)
	}

	profileDir := filepath.Join(s.cfg.ProfileRoot, fmt.Sprintf("%s-%d", accountName, port))
	if err := os.RemoveAll(profileDir); err != nil {
		return nil, nil, errkind.New(errkind.LaunchFailed, accountName, "failed to clear stale profile dir", err)
	}
	if err := os.MkdirAll(profileDir, 0755); err != nil {
		return nil, nil, errkind.New(errkind.LaunchFailed, accountName, "failed to create profile dir", err)
	}

	args := append([]string{
		remoteDebugPortFlag + strconv.Itoa(port),
		"--user-data-dir=" + profileDir,
		"--no-first-run",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--no-default-browser-check",
	}, s.cfg.ExtraArgs...)

	cmd := exec.Command(s.cfg.BinaryPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	s.log.Info().Str("account_name", accountName).Int("port", port).Str("profile_dir", profileDir).Msg("Launching browser instance")

	if err := cmd.Start(); err != nil {
		os.RemoveAll(profileDir)
		return nil, nil, errkind.New(errkind.LaunchFailed, accountName, "failed to spawn process", err)
	}

	handle := &ProcessHandle{cmd: cmd, pid: cmd.Process.Pid}

	// Reap the process asynchronously so it never becomes a zombie; the
	// supervisor tracks liveness via the process table, not via this Wait.
	go func() { _ = cmd.Wait() }()

	if err := s.waitForPort(ctx, port, s.cfg.StartupTimeout); err != nil {
		s.log.Warn().Str("account_name", accountName).Int("port", port).Msg("Startup window exceeded, rolling back launch")
		_ = s.killHandle(handle)
		os.RemoveAll(profileDir)
		return nil, nil, errkind.New(errkind.LaunchFailed, accountName, "debug port did not become responsive within startup window", err)
	}

	record := &domain.InstanceRecord{
		AccountName:   accountName,
		Port:          port,
		PID:           handle.pid,
		ProfileDir:    profileDir,
		State:         domain.StateRunning,
		LastHealthyAt: time.Now(),
	}

	s.log.Info().Str("account_name", accountName).Int("port", port).Int("pid", handle.pid).Msg("Browser instance launched")
	return record, handle, nil
}

// waitForPort polls port until it accepts a TCP connection or timeout
// elapses.
func (s *Supervisor) waitForPort(ctx context.Context, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if dialTCP(port) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for port %d", port)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Terminate issues a graceful termination request, waits up to 10 seconds,
// then force-kills. Always removes the instance's profile directory.
// Terminate never touches a process whose reported PID is 0 or whose
// command line declares the protected port - callers must pass a handle
// obtained from Launch or EnumerateManaged.
func (s *Supervisor) Terminate(record *domain.InstanceRecord, handle *ProcessHandle) error {
	if handle == nil || handle.pid == 0 {
		return nil
	}

	if s.declaresProtectedPort(handle.pid) {
		return errkind.New(errkind.LaunchFailed, record.AccountName, "refusing to terminate a process declaring the protected port", nil)
	}

	s.log.Info().Str("account_name", record.AccountName).Int("pid", handle.pid).Msg("Terminating browser instance")

	_ = handle.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = handle.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.log.Warn().Str("account_name", record.AccountName).Int("pid", handle.pid).Msg("Graceful termination timed out, force-killing")
		_ = s.killHandle(handle)
	}

	if record.ProfileDir != "" {
		if err := os.RemoveAll(record.ProfileDir); err != nil {
			s.log.Error().Err(err).Str("profile_dir", record.ProfileDir).Msg("Failed to remove profile dir")
		}
	}

	return nil
}

func (s *Supervisor) killHandle(handle *ProcessHandle) error {
	if handle == nil || handle.cmd == nil || handle.cmd.Process == nil {
		return nil
	}
	return handle.cmd.Process.Kill()
}

// EnumerateManaged returns the PIDs of every process on this host whose
// command line declares a --remote-debugging-port in the managed range
// (strictly above ProtectedPort). A process declaring the protected port is
// never returned, regardless of any other argument it carries.
func (s *Supervisor) EnumerateManaged() ([]int32, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	var managed []int32
	for _, p := range procs {
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}

		port, ok := parseDebugPort(cmdline)
		if !ok {
			continue
		}
		if port == s.cfg.ProtectedPort {
			continue
		}
		if port <= s.cfg.ManagedPortBase {
			continue
		}

		managed = append(managed, p.Pid)
	}

	return managed, nil
}

// IsAlive reports whether pid currently identifies a live process. Used by
// the Health Watchdog's cheapest probe tier (process alive).
func (s *Supervisor) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := gopsprocess.PidExists(int32(pid))
	return err == nil && alive
}

// declaresProtectedPort reports whether the process identified by pid has
// the protected port on its command line. Used as a last-line guard before
// any signal is sent.
func (s *Supervisor) declaresProtectedPort(pid int) bool {
	p, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		return false
	}
	port, ok := parseDebugPort(cmdline)
	return ok && port == s.cfg.ProtectedPort
}

// parseDebugPort extracts the value of --remote-debugging-port=N from a
// command line string.
func parseDebugPort(cmdline string) (int, bool) {
	idx := strings.Index(cmdline, remoteDebugPortFlag)
	if idx == -1 {
		return 0, false
	}
	rest := cmdline[idx+len(remoteDebugPortFlag):]
	end := strings.IndexAny(rest, " \t")
	if end != -1 {
		rest = rest[:end]
	}
	port, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return port, true
}
