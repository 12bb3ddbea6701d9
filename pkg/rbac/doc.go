// Package rbac decides who may do what on a corkboard workspace or board.
//
// # Overview
//
// Access is granted by membership rows. A user holds at most one role per
// workspace and at most one role per board. Roles map to a fixed set of
// "resource:action" permissions through the role catalog, and the catalog is
// seeded from BuiltInRoles at startup.
//
// # Roles
//
// Workspace and board roles share one ordinal scale:
//
//	TierAdmin      workspace_admin, board_owner, board_admin
//	TierModerator  workspace_moderator, board_moderator
//	TierMember     workspace_member, board_member
//	TierObserver   workspace_observer, board_observer
//
// A workspace role is inherited by every board of the workspace. The
// effective role on a board is the higher of the direct board role and the
// inherited workspace role; on a tie the board role wins, so a board owner
// who is also a workspace admin is reported as board_owner.
//
// # Permissions
//
// Visibility never grants a permission. A user with no role on a board is
// denied every permission regardless of the board being public. On top of
// the catalog a few board settings apply:
//
//   - a closed board denies every content mutation
//   - members:invite is granted to any member when the board's
//     member_manage_policy is all_members
//   - boards:create is denied on an archived workspace
//
// # Viewing
//
// Read access follows visibility first:
//
//	public     anyone, including anonymous callers
//	workspace  any workspace member, plus direct board members
//	private    direct board members and workspace admins
//
// Denials say "Not a member" by default. WithHideForbidden answers "Resource
// not found" instead so private boards cannot be discovered.
//
// # Usage
//
//	store := rbac.NewSQLStore(db)
//	catalog, _ := rbac.NewCachedCatalog(store)
//	resolver := rbac.NewResolver(store, store, catalog,
//		rbac.WithCache(rbac.NewMemoryCache(10000, time.Minute)),
//		rbac.WithLogger(logger),
//	)
//
//	ok, err := resolver.HasBoardPermission(ctx, userID, boardID, rbac.PermCardsMove)
//
// Every check runs in a tracing span and is counted. Store failures always
// deny; the returned error wraps ErrStoreUnavailable.
//
// # Caching
//
// Resolved memberships are cached per (user, scope) in a DecisionCache.
// MemoryCache serves a single process and RedisCache is shared between
// replicas. Each user has an epoch that EvictUser advances; an entry loaded
// under an older epoch is discarded on Put, so a read that races a
// membership change can never store the stale role.
//
// Mutations of membership rows must fire a MembershipHook after they commit.
// Invalidator is the hook that evicts the user's cached entries.
//
// # HTTP
//
// Guard wraps handlers with a Rule naming the resource type, where its id is
// read from (path, query or JSON body) and the check to run:
//
//	guard := rbac.NewGuard(resolver, logger)
//	router.Handle("/cards/{cardID}", guard.Require(rbac.Rule{
//		Name:       "cards.update",
//		Resource:   rbac.ResourceCard,
//		Source:     rbac.SourcePath,
//		Field:      "cardID",
//		Check:      rbac.CheckPermission,
//		Permission: rbac.PermCardsUpdate,
//	})(handler))
//
// Lists and cards are resolved to their board before the check. Denials are
// answered with {"error": reason, "reason_code": code} and the status from
// Reason.HTTPStatus. Allowed requests carry the Decision in their context;
// see DecisionFromRequest.
//
// Rules can also come from a YAML Policy looked up by name with Guard.Named,
// and WatchPolicy reloads that file when it changes.
package rbac
