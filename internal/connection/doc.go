// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one WebSocket connection to the platform per process
//   - Correlates requests and responses by v1 UUID correlation id
//   - Resolves the subject of inbound frames and emits them as typed events
//   - Reconnects with jittered exponential backoff after abnormal closes
package connection
