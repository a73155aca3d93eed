// Package request shapes platform requests into envelopes and sends them
// over the persistent connection or, for a few message types, over the
// stateless HTTP fallback.
//
// A small table of rule message types renames one attribute between its
// wire name ("on") and the name local code uses ("ON"); see Alias.
package request
