// Package sync contains the engine that keeps the local mirror in step with
// the upstream repository. The engine runs one pipeline at a time through the
// phases fetch, mirror and reload; triggers arriving while a cycle is in
// flight are coalesced into a single follow-up cycle.
package sync
