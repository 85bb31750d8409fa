// Package adapter implements the Session Adapter: the per-instance control
// surface that hides tab resolution, bundle injection, and result
// extraction behind a command API returning a Verified/Rejected/Error/
// Timeout result for every call. A result is Verified only when the
// injected bundle's observation endpoints report evidence consistent with
// the command - never merely because the command was dispatched.
package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverlock/fleetctl/internal/bundle"
	"github.com/riverlock/fleetctl/internal/debugclient"
	"github.com/riverlock/fleetctl/internal/errkind"
)

// Phase is the adapter's lifecycle state.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseAttaching Phase = "attaching"
	PhaseLoggingIn Phase = "logging_in"
	PhaseInjecting Phase = "injecting"
	PhaseReady     Phase = "ready"
)

const (
	maxInjectionAttempts = 3
	singleEntryTimeout   = 15 * time.Second
	perLevelTimeout      = 2 * time.Second
)

// requiredGlobals are probed for after injection; if any is missing the
// adapter retries the upload with exponential backoff before failing.
var requiredGlobals = []string{
	bundle.MethodAutoTrade,
	bundle.MethodAutoTradeScale,
	bundle.MethodClickExitForSymbol,
	bundle.MethodGetConsoleLogs,
	bundle.MethodClearConsoleLogs,
}

// Config configures one adapter instance.
type Config struct {
	AccountName  string
	Port         int
	TradingHost  string // URL host the target tab must match
	BundleSource string // the opaque bundle script to inject
}

// Adapter is the per-instance control surface. Exactly one exists per
// managed browser instance for its lifetime.
type Adapter struct {
	cfg Config
	log zerolog.Logger

	mu                  sync.Mutex // per-instance command serialization, submit to result
	phase               Phase
	session             *debugclient.Session
	injectionGeneration int
}

// New creates an Adapter in the Starting phase. It does not attach until
// EnsureReady is called.
func New(cfg Config, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:   cfg,
		log:   log.With().Str("component", "adapter").Str("account_name", cfg.AccountName).Logger(),
		phase: PhaseStarting,
	}
}

// Phase returns the adapter's current lifecycle phase.
func (a *Adapter) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// InjectionGeneration returns the number of successful injections so far.
func (a *Adapter) InjectionGeneration() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.injectionGeneration
}

// EnsureReady drives the adapter from its current phase to Ready,
// performing tab resolution and, if necessary, re-injection. It is called
// before every command dispatch per the tab-resolution algorithm (§4.3):
// if no session is attached or no tab's URL contains the trading host, the
// adapter transitions back to Injecting. A tab's injection generation is
// not compared; see resolveTabLocked.
func (a *Adapter) EnsureReady(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ensureReadyLocked(ctx)
}

func (a *Adapter) ensureReadyLocked(ctx context.Context) error {
	tab, err := a.resolveTabLocked(ctx)
	if err != nil {
		a.phase = PhaseAttaching
		return err
	}
	if tab == nil {
		a.phase = PhaseInjecting
		return a.injectLocked(ctx)
	}

	a.phase = PhaseReady
	return nil
}

// resolveTabLocked enumerates tabs and returns the first whose URL host
// matches the configured trading host - resolution is purely host-matched;
// injection-generation freshness is enforced by re-injecting whenever no
// session is currently attached, so a stale tab is never mistaken for Ready.
func (a *Adapter) resolveTabLocked(ctx context.Context) (*debugclient.TabInfo, error) {
	if a.session == nil {
		return nil, nil
	}

	tabs, err := debugclient.ListTabs(ctx, a.cfg.Port)
	if err != nil {
		return nil, errkind.New(errkind.AttachFailed, a.cfg.AccountName, "failed to list tabs", err)
	}

	for _, tab := range tabs {
		if strings.Contains(tab.URL, a.cfg.TradingHost) {
			return &tab, nil
		}
	}

	return nil, nil
}

// injectLocked attaches (if needed) to the target tab and uploads the
// instrumentation bundle, probing for the required globals afterward. It
// retries up to maxInjectionAttempts times with exponential backoff before
// failing the adapter.
func (a *Adapter) injectLocked(ctx context.Context) error {
	tabs, err := debugclient.ListTabs(ctx, a.cfg.Port)
	if err != nil {
		return errkind.New(errkind.AttachFailed, a.cfg.AccountName, "failed to list tabs for injection", err)
	}

	var target *debugclient.TabInfo
	for i, tab := range tabs {
		if strings.Contains(tab.URL, a.cfg.TradingHost) {
			target = &tabs[i]
			break
		}
	}
	if target == nil {
		return errkind.New(errkind.AttachFailed, a.cfg.AccountName, "no tab matches the configured trading host", nil)
	}

	if a.session == nil {
		session, err := debugclient.Attach(ctx, target.WebSocketDebuggerURL, a.log)
		if err != nil {
			return err
		}
		a.session = session
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 1; attempt <= maxInjectionAttempts; attempt++ {
		if _, err := a.session.Evaluate(ctx, a.cfg.BundleSource, false, singleEntryTimeout); err != nil {
			lastErr = err
		} else if err := a.probeGlobalsLocked(ctx); err != nil {
			lastErr = err
		} else {
			a.injectionGeneration++
			a.phase = PhaseReady
			a.log.Info().Int("injection_generation", a.injectionGeneration).Msg("Bundle injected")
			return nil
		}

		a.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("Injection attempt failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return errkind.New(errkind.InjectionFailed, a.cfg.AccountName, "context canceled during injection backoff", ctx.Err())
		}
		backoff *= 2
	}

	return errkind.New(errkind.InjectionFailed, a.cfg.AccountName, "exhausted injection attempts", lastErr)
}

// probeGlobalsLocked verifies every required global is present on window.
func (a *Adapter) probeGlobalsLocked(ctx context.Context) error {
	expr := "[" + strings.Join(wrapTypeofChecks(requiredGlobals), ",") + "]"
	result, err := a.session.Evaluate(ctx, expr, false, 5*time.Second)
	if err != nil {
		return err
	}

	var present []bool
	if err := decodeJSON(result, &present); err != nil {
		return errkind.New(errkind.InjectionFailed, a.cfg.AccountName, "failed to decode global probe result", err)
	}

	for i, ok := range present {
		if !ok {
			return errkind.New(errkind.InjectionFailed, a.cfg.AccountName, fmt.Sprintf("missing global %s after injection", requiredGlobals[i]), nil)
		}
	}

	return nil
}

func wrapTypeofChecks(names []string) []string {
	checks := make([]string, len(names))
	for i, name := range names {
		checks[i] = fmt.Sprintf("typeof window.%s === 'function'", name)
	}
	return checks
}
