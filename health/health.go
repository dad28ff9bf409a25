// Package health provides reusable health checks for cache deployments.
// It offers standardized ways to verify snapshot storage and connectivity.
package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/zero-day-ai/recall/types"
)

// dialTimeout bounds NetworkCheck when the caller supplies no context.
const dialTimeout = 5 * time.Second

// DirCheck verifies that a directory exists and is writable, probed with a
// temporary file that is removed again. It is meant for the directory a
// file snapshot store writes to: the cache keeps serving with a broken
// snapshot directory, but operators want to know before a restart loses
// the contents.
//
// Example:
//
//	status := health.DirCheck(cfg.CacheDir)
//	if !status.IsHealthy() {
//	    log.Println("snapshots will not survive a restart")
//	}
func DirCheck(path string) types.HealthStatus {
	if path == "" {
		return types.NewUnhealthyStatus("directory path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewUnhealthyStatus(
				fmt.Sprintf("directory '%s' does not exist", path),
				map[string]any{"path": path},
			)
		}

		return types.NewUnhealthyStatus(
			fmt.Sprintf("failed to stat '%s'", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}

	if !info.IsDir() {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("'%s' is not a directory", path),
			map[string]any{"path": path},
		)
	}

	probe, err := os.CreateTemp(path, ".health-probe-*")
	if err != nil {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("directory '%s' is not writable", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}
	probe.Close()
	os.Remove(probe.Name())

	return types.NewHealthyStatus(
		fmt.Sprintf("directory '%s' is writable", path),
	)
}

// NetworkCheck verifies TCP connectivity to a host and port. It suits
// remote snapshot backends such as a Redis store. The provided context
// bounds the dial; a nil context gets a five second timeout.
//
// Example:
//
//	status := health.NetworkCheck(ctx, "cache-redis", 6379)
//	if status.IsUnhealthy() {
//	    log.Println("snapshot backend unreachable")
//	}
func NetworkCheck(ctx context.Context, host string, port int) types.HealthStatus {
	if host == "" {
		return types.NewUnhealthyStatus("host cannot be empty", nil)
	}

	if port <= 0 || port > 65535 {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("failed to connect to %s", address),
			map[string]any{
				"host":  host,
				"port":  port,
				"error": err.Error(),
			},
		)
	}
	conn.Close()

	return types.NewHealthyStatus(
		fmt.Sprintf("successfully connected to %s", address),
	)
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
//
// Example:
//
//	status := health.Combine(
//	    cache.HealthCheck(ctx),
//	    health.DirCheck(cfg.CacheDir),
//	)
//	if status.IsUnhealthy() {
//	    log.Fatal("cache not serviceable")
//	}
func Combine(checks ...types.HealthStatus) types.HealthStatus {
	if len(checks) == 0 {
		return types.NewHealthyStatus("no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	for _, check := range checks {
		switch check.Status {
		case types.StatusUnhealthy:
			msg := check.Message
			if msg == "" {
				msg = "unnamed check"
			}
			unhealthyChecks = append(unhealthyChecks, msg)
		case types.StatusDegraded:
			msg := check.Message
			if msg == "" {
				msg = "unnamed check"
			}
			degradedChecks = append(degradedChecks, msg)
		case types.StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return types.NewUnhealthyStatus(
			fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthyChecks),
				"degraded":      len(degradedChecks),
				"healthy":       healthyCount,
				"failed_checks": unhealthyChecks,
			},
		)
	}

	if len(degradedChecks) > 0 {
		return types.NewDegradedStatus(
			fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		)
	}

	return types.NewHealthyStatus(
		fmt.Sprintf("all %d check(s) passed", len(checks)),
	)
}
