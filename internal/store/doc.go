// Package store holds the device's live status snapshot.
//
// The provisioning controller and telemetry loop write into a [MemoryStore];
// the setup portal reads it for /api/status and streams it over
// Server-Sent Events. Subscribers receive updates via channels with
// non-blocking sends, so a slow client misses snapshots rather than stalling
// the device.
package store
