// Package export provides the job orchestration and delivery engine behind
// gameplay-session analytics exports.
//
// A tenant submits a filter over its session data. The engine estimates the
// result size and either renders the artifact inline (sync path) or records a
// queued job and hands it to a background worker through a DeliveryQueue
// (async path). Finished artifacts are persisted with an expiring signed
// download link and optionally pushed to a tenant webhook, once or on a cron
// schedule. Every state transition is written to an append-only audit trail.
//
// # Quick Start
//
//	s := memory.New()
//	q := memqueue.New()
//	eng, err := engine.New(engine.Deps{
//	    Analytics: s,
//	    Jobs:      s,
//	    Audit:     s,
//	    Artifacts: artifact.NewStore(localBucket, signer),
//	    Queue:     q,
//	    Webhooks:  webhook.NewDispatcher(secrets),
//	})
//
//	rt := worker.NewRuntime(q, worker.New(eng))
//	_ = rt.Start(ctx)
//
//	res, err := eng.CreateExportJob(ctx, "tenant-1", filters, engine.AuthContext{ActorID: "u1"})
//
// # Architecture
//
// Each collaborator (analytics source, job repository, audit log, scheduler,
// artifact bucket, queue) is a small interface. Backends live under store/,
// blob/ and queue/. Nothing is reached through process-wide state: every
// dependency is constructed by the caller and injected.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers such as "exp_01h2xcejqtf2nbrexx3vqjhp41".
package export
