// Package cron registers recurring webhook deliveries for export jobs.
//
// The engine hands a [Request] to [Scheduler.Schedule] when a webhook
// delivery carries a cron expression. The scheduler validates the
// expression with the standard 5-field parser, computes the next fire
// time, and persists an [Entry] through a [Store]. Registration never
// dispatches anything.
//
// # Firing
//
// When started with a [FireFunc], the scheduler evaluates due entries on
// every tick, acquires a per-entry lock so that only one process fires a
// given occurrence, calls the FireFunc, and advances LastRunAt and
// NextRunAt. A failed fire is logged; the entry still advances to its next
// occurrence.
//
//	sched := cron.NewScheduler(store,
//	    cron.WithFire(func(ctx context.Context, e *cron.Entry) error {
//	        res := dispatcher.Dispatch(ctx, webhook.Request{...})
//	        ...
//	    }),
//	)
//	sched.Start(ctx)
//	defer sched.Stop(ctx)
package cron
