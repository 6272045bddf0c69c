package metrics

import "expvar"

// 结算链路计数器，通过 /debug/vars 暴露
var (
	RequestsTotal      = expvar.NewInt("market_requests_total")
	RequestsRejected   = expvar.NewInt("market_requests_rejected")
	RequestsFailed     = expvar.NewInt("market_requests_failed")
	RequestsDuplicate  = expvar.NewInt("market_requests_duplicate")
	EffectsExecuted    = expvar.NewInt("market_effects_executed")
	EffectsCompensated = expvar.NewInt("market_effects_compensated")
	CommitFailures     = expvar.NewInt("market_commit_failures")
	CriticalFailures   = expvar.NewInt("market_critical_failures")
	BreakerRejections  = expvar.NewInt("market_breaker_rejections")

	// RequestsByAction counts committed requests per action.
	RequestsByAction = expvar.NewMap("market_requests_by_action")
	// RejectionsByCode counts rejections per error code.
	RejectionsByCode = expvar.NewMap("market_rejections_by_code")
)
