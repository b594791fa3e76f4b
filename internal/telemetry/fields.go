package telemetry

import (
	"time"

	"go.uber.org/zap"
)

// Event names for recurring log lines, mirroring the teacher's
// internal/infra/telemetry/log_fields.go constant block.
const (
	EventStartAttempt      = "start_attempt"
	EventStartSuccess      = "start_success"
	EventStartFailure      = "start_failure"
	EventInitializeFailure = "initialize_failure"
	EventPingFailure       = "ping_failure"
	EventRouteError        = "route_error"
	EventIdleReap          = "idle_reap"
	EventStopSuccess       = "stop_success"
	EventStopFailure       = "stop_failure"
	EventHealthFailure     = "health_failure"
	EventHealthRestart     = "health_restart"
	EventHealthDead        = "health_dead"
	EventConfigReload      = "config_reload"
	EventCacheReload       = "cache_reload"
	EventConnectionError   = "connection_error"
	EventRestartAndRetry   = "restart_and_retry"
)

func EventField(name string) zap.Field { return zap.String("event", name) }

func ServerNameField(name string) zap.Field { return zap.String("server", name) }

func InstanceIDField(id int) zap.Field { return zap.Int("instance", id) }

func StateField(state string) zap.Field { return zap.String("state", state) }

func DurationField(d time.Duration) zap.Field { return zap.Duration("duration", d) }

func AttemptField(n int) zap.Field { return zap.Int("attempt", n) }

func MethodField(method string) zap.Field { return zap.String("method", method) }
