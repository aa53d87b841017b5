// Package confidence scores how strongly a request is believed to come from
// a known device, and maps the score to a resolver outcome.
//
// Scoring starts from a base determined by how the candidate was matched
// (exact token, cross-browser identity header, owner context) and adjusts it
// with stored evidence: a recent verification, multiple confirmed browsers,
// coarse characteristic agreement and a previously seen IP address. An
// explicit fingerprint mismatch is the one negative signal and outweighs any
// single positive one.
package confidence
