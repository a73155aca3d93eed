// Package api is the stateless fallback transport for platform requests.
//
// A request is the same envelope the persistent connection carries, POSTed
// as JSON to <base>/<namespace>/<Verb>:
//
//	POST https://platform.example.com/client/sess/SetActivePlace
//	Authorization: Bearer <session token>
//
// The reply is an envelope too; Post returns its payload attributes, or a
// *model.ProtocolError when the reply is an Error envelope.
package api
