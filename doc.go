// Package identity is a multi-tenant identity and access-control core. It
// authenticates principals through passwords, phone/email one-time codes, and
// federated identities, issues and rotates signed access/refresh token pairs,
// and resolves a principal's effective permission set through a role-permission
// graph.
//
// Account lifecycle:
//   - Users carry a Status field persisted via Bun. Accounts are created
//     pending and become active once the relevant channel (email or phone) is
//     verified; federated accounts are created active. Administrative
//     suspension toggles active and inactive.
//   - UserStateMachine centralizes the transition graph, hooks, and
//     persistence. Invoke Transition with ActorRef metadata whenever an
//     account moves between states.
//
// Tokens:
//   - Access tokens embed the principal id, role name, and the flat
//     permission-name list so resource servers can authorize without a
//     database round-trip. Refresh tokens carry only the principal id and are
//     signed with a separate key; they are single-use and rotated atomically
//     through the SessionStore, which detects replay.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the Authenticator,
//     the OTP engine, and the state machine to describe lifecycle, login,
//     verification, and rotation events. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking
//     authentication.
package identity
