// Package publish emits availability records to a message bus.
//
// Every record computed by the evaluator is encoded as JSON and sent to
// the configured backend: NATS publishes on "<subject>.<device>", Kafka
// writes to a topic keyed by device ID so that a device's records stay on
// one partition. Nop discards everything and is used when publishing is
// disabled.
package publish
