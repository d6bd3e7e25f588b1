// Package ledger records every raw gateway event in a SQLite database.
//
// A Ledger is fed from the dispatcher's raw event fan-out:
//
//	events, _ := client.SubscribeRaw(ctx)
//	go ledger.Consume(ctx, events)
//
// Entries get a UUID and a receive timestamp. Recent returns the newest
// entries in arrival order.
package ledger
