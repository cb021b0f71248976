// Package state records the host's run status in a small JSON file so that
// supervisors and operators can see whether the last run finished cleanly.
//
// # Usage
//
//	repo := state.NewFileRepository("/var/lib/enginehost")
//	rec := state.NewRecorder(repo, logger, coord.ExitCode)
//	if err := rec.Start(ctx); err != nil {
//		logger.Warn("status file unavailable", log.Err(err))
//	}
//	// pass rec as the coordinator's lifecycle.EventEmitter
//
// # Version
//
// Current version: 2.0.0
// Minimum compatible version: 2.0.0
//
// See version.go for version constants that can be used programmatically.
package state
