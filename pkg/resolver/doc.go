// Package resolver answers the question "which known device is this
// request coming from, and how sure are we".
//
// A resolution walks the available hints strongest-first. A signed
// identity header names a device directly and is checked against the
// stored owner binding before anything is revealed; a mismatch is treated
// as a spoofing attempt and resolves to NoMatch. An opaque browser token
// is matched exactly against browser associations. Failing both, the
// session's owner context nominates the owner's most recently verified
// device. Matched candidates are scored by pkg/confidence and the score
// decides between auto-login, a PIN step-up and out-of-band verification.
//
// Resolution is read-mostly: the only writes are registering a newly seen
// browser token and refreshing the verification time on auto-login, and
// both are skipped when the deadline has expired.
package resolver
