package agent

import (
	"context"

	"github.com/jonwraymond/offlinecache/health"
)

// HealthChecker reports the agent's lifecycle state as a health check named
// "agent": healthy once activated, unhealthy after a failed install, and
// degraded in between.
func (a *Agent) HealthChecker() health.Checker {
	return health.NewCheckerFunc("agent", func(ctx context.Context) health.Result {
		state := a.State()
		details := map[string]any{"state": state.String(), "version": a.cfg.Version}

		switch state {
		case StateActivated:
			return health.Healthy("serving from " + a.cfg.Version).WithDetails(details)
		case StateInstallFailed:
			return health.Unhealthy("install failed", ErrInstallFailed).WithDetails(details)
		default:
			return health.Degraded("lifecycle " + state.String()).WithDetails(details)
		}
	})
}
