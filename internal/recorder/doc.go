// Package recorder persists platform events to PostgreSQL.
//
// The recorder subscribes to every event on the connection's bus, queues
// them in memory and writes them in batches to the platform_events table.
// Events are appended, never updated.
package recorder
