// Package accounts manages user accounts: creation with hashed credentials,
// password authentication that mints signed session tokens, merge updates
// and soft deletion.
//
// Account lifecycle:
//   - An Account is active while DeletedAt is nil. SoftDeleteAccount stamps
//     the deletion time through AccountStateMachine; there is no restore.
//     Updates and deletes only apply to active accounts and return
//     ErrAlreadyDeleted otherwise.
//   - Usernames and emails are unique. By default identifiers of deleted
//     accounts stay reserved; WithReserveDeletedIdentifiers(false) releases
//     them so a new account may reuse them.
//
// Sessions:
//   - TokenService issues HS256 tokens bound to the account id. When a
//     SessionRegistry is configured (memory or redis) every token is
//     tracked, and deleting an account revokes all of its sessions.
//
// Errors:
//   - Every operation returns categorized go-errors values. Use
//     IsValidationError, IsDuplicateKey, IsNotFound, IsAlreadyDeleted,
//     IsInvalidCredentials and IsDependencyFailure to classify them; the
//     HTTP layer maps them to status codes.
//
// Activity sinks:
//   - ActivitySink receives account.created, account.updated,
//     account.deleted and login events. Sinks run best-effort (errors are
//     logged) so they can forward to a log, metrics or a queue without
//     blocking the request.
package accounts
