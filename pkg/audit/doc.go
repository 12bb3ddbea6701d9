// Package audit keeps a record of who changed which membership and of every
// request the authorization guard refused.
//
// A Recorder is wired in twice: as a membership hook next to the cache
// invalidator, and as the guard's denial recorder.
//
//	sink := audit.NewMultiLogger(dbLogger, audit.NewLogLogger(logger))
//	recorder := audit.NewRecorder(sink, runner, logger)
//	service := members.NewPostgresService(db,
//		members.WithHook(rbac.Hooks{invalidator, recorder}))
//	guard.SetDenialRecorder(recorder)
//
// Events are written to the audit_logs table by DBLogger and as structured
// log entries by LogLogger.
package audit
