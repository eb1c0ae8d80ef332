// Package relay forwards the wallet adapter's lifecycle events to external
// collaborators. Events are flattened into Records, buffered without
// blocking the emitter and delivered by a single worker to every Sink: an
// in-memory history, Redis pub/sub, a RabbitMQ exchange or the SQL journal.
package relay
