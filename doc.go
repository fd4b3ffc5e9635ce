// Package admission decides whether a new identity is admitted into an
// application, and under which status.
//
// Registration pipeline:
//   - Engine.Admit runs every registration through an ordered set of gates:
//     domain permission, TOTP, org normalization, org/domain match, unknown
//     domain classification, role and approval assignment, persistence,
//     new-user listeners and the verification email.
//   - Gates before persistence reject without side effects. Failures after
//     persistence trigger a compensating delete of the new record. There is
//     no transaction spanning the listener and mail side effects, so a crash
//     between insert and delete can leave an orphaned unapproved record.
//
// Email approval:
//   - Verification emails carry two sealed query values, the identity and the
//     registration time. EmailApprovalVerifier opens them, checks expiry and
//     skew against the stored record and approves it once. Approving an
//     already approved identity succeeds without a write.
//
// Listeners:
//   - ListenerRegistry keeps ordered (locator, function) entries and resolves
//     them at call time through a ListenerResolver, so veto logic can be
//     rebound while the process runs. Every listener is consulted and the
//     first veto wins.
//
// Deferred jobs:
//   - Login-stats updates and admin notifications run on a JobQueue after a
//     configurable delay. They are never awaited and their failures are only
//     logged.
package admission
