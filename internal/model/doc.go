// Package model defines the wire types shared by the connection layer and
// the fallback HTTP transport.
//
// Conventions:
//   - Every message travels in an Envelope: type, headers, payload
//   - Message types are "<namespace>:<Verb>" (e.g. "rule:ListRules")
//   - Addresses are "<prefix>:<namespace>:<id>" (e.g. "DRIV:dev:1f2e...")
//   - Correlation ids are v1 UUID strings
package model
