package health

import (
	"context"
	"fmt"
	"time"
)

// ProxyPoolCheck returns a check that reports degraded once every
// configured third-party proxy is marked failed. The relay still
// serves requests in that state (fallback or pool reset), so it is
// degraded rather than unhealthy.
func ProxyPoolCheck(totalProxies int, failedCount func() int) CheckFunc {
	return func() Check {
		failed := failedCount()
		if totalProxies > 0 && failed >= totalProxies {
			return Check{
				Status:  StatusDegraded,
				Message: "all third-party proxies failed",
			}
		}
		return Check{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d/%d proxies failed", failed, totalProxies),
		}
	}
}

// PingCheck returns a check that pings a dependency with a bounded
// timeout, reporting unhealthy on error.
func PingCheck(name string, timeout time.Duration, ping func(context.Context) error) CheckFunc {
	return func() Check {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := ping(ctx); err != nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("%s unreachable: %v", name, err),
			}
		}
		return Check{Status: StatusHealthy}
	}
}
