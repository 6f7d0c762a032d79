// Package queue defines the delivery queue that decouples export
// submission from background processing.
//
// The engine pushes one [Message] per asynchronous job through
// [DeliveryQueue.Enqueue]; workers receive messages through
// [DeliveryQueue.Subscribe]. A message carries everything needed to process
// the job, so a worker never reads the submission request.
//
// Implementations:
//
//	queue/memory : in-process FIFO, handlers serialized per queue
//	queue/redis  : Redis list (LPUSH / BRPOP) for multi-process setups
//
// Delivery is at-least-once at best and at-most-once per pop for the
// provided adapters; there is no redelivery and no dead-letter queue.
// Processing is not deduplicated, so the engine relies on idempotent
// artifact writes when a message is seen twice.
package queue
