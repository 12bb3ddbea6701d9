// Package async runs background work without letting a panic or a stuck
// task take the server down.
//
// SafeGo is for long-lived goroutines such as file watchers. Runner is for
// short tasks spawned from request paths that shutdown has to drain:
//
//	runner := async.NewRunner(logger, 5*time.Second)
//	shutdown.Register("background tasks", runner.Wait)
package async
