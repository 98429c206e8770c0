// Package history keeps a queryable log of connection lifecycle
// transitions in SQLite.
//
// A Recorder subscribes to the status bus and writes Connecting,
// Connected, Disconnected and ConnectFailed events to the
// connection_events table on a background worker. Received data is not
// stored. Events older than the configured retention are pruned hourly.
//
// Usage:
//
//	repo := history.NewSQLiteRepository(db.DB)
//	rec, _ := history.NewRecorder(history.RecorderOptions{
//	    Repository: repo,
//	    Registry:   registry,
//	    Retention:  cfg.History.GetHistoryRetention(),
//	})
//	rec.Start(ctx)
//	unsubscribe := svc.Subscribe(rec)
//
//	page, err := repo.List(ctx, history.Filter{ConnectionID: id, Limit: 20})
package history
