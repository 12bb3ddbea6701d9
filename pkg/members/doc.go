// Package members manages workspaces, boards and the membership rows that
// rbac reads.
//
// Creating a workspace makes its creator workspace_admin and creating a board
// makes its creator board_owner. The last admin of a workspace and the last
// owner of a board can be neither demoted nor removed.
//
// Users join through direct adds, email invitations (valid for InvitationTTL)
// or shareable board join links. Every committed change fires the configured
// rbac.MembershipHook, which is how cached authorization decisions are
// evicted:
//
//	invalidator := rbac.NewInvalidator(cache, logger, metrics)
//	service := members.NewPostgresService(db, members.WithHook(invalidator))
//
// Handlers expose the service over HTTP. Each guarded route names an rbac
// rule; DefaultPolicy holds the rules and can be replaced by a YAML policy.
package members
