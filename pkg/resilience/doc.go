// Package resilience provides error classification, recovery
// orchestration, retry with backoff, and circuit breaking for services
// that talk to unreliable dependencies.
//
// # Overview
//
// The package is organized around an Orchestrator that classifies
// failures, matches them against an ordered table of recovery rules,
// and runs the matched rule's strategy. Per-resource circuit breakers
// stop repeated calls to a failing dependency; breaker state can live
// in Redis so every process sees the same breaker.
//
// # Recovery
//
// Wrap an operation with automatic retry:
//
//	orch := resilience.New(resilience.DefaultConfig())
//
//	result, err := orch.RecoverWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
//		return client.Send(ctx, msg)
//	}, resilience.RetryRequest{
//		ResourceKey: "provider:openai",
//		Operation:   "chat_completion",
//	})
//
// Or recover from an error you already hold:
//
//	if err := store.Save(ctx, record); err != nil {
//		if !orch.Recover(ctx, err, resilience.RecoverRequest{
//			ResourceKey: "database",
//			Operation:   "save_record",
//		}) {
//			return err
//		}
//	}
//
// # Rules
//
// Custom rules are consulted before the defaults:
//
//	orch.RegisterRule(&resilience.RecoveryRule{
//		Name:     "billing-fallback",
//		Matches:  resilience.MatchCode("BILLING_UNAVAILABLE"),
//		Strategy: resilience.StrategyFallback,
//		FallbackAction: func(ctx context.Context, ec *resilience.ErrorContext) error {
//			return cache.ServeStale(ctx)
//		},
//	})
//
// Safety and compliance errors always escalate. No rule ordering or
// custom registration can downgrade them below critical severity.
//
// # Events
//
// Lifecycle events fan out to subscribers for audit trails and
// alerting:
//
//	orch.Events().Subscribe(resilience.EventCircuitOpened, func(ctx context.Context, e resilience.Event, ec *resilience.ErrorContext) {
//		pager.Notify(ec.ResourceKey)
//	})
package resilience
