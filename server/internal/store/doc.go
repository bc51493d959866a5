// Package store provides the read side of device and outage storage.
//
// OutageSource returns the outages of one device that end at or after a
// cutoff (or are still ongoing), ordered by start ascending. DeviceSource
// lists devices with their continuous-uptime counters.
//
// Memory is a thread-safe in-process implementation, optionally seeded from
// a YAML fixture. Postgres reads the devices and device_outages tables
// through a pgx connection pool.
package store
