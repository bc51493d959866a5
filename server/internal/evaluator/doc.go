// Package evaluator runs the periodic availability computation.
//
// Each cycle takes one snapshot of the active configuration, lists the
// devices and computes every configured period for each of them on a
// bounded pool of workers. Every record is stored in the results store,
// exported as a Prometheus gauge, published to the message bus and fed to
// the alert engine. A failing device is logged and counted; it never aborts
// the cycle for the others.
package evaluator
