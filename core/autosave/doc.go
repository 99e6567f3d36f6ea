// Package autosave keeps an in-memory draft document and persists it through a Gateway
// once edits pause for a quiet interval.
//
// A Controller owns one document for one owner. Every mutation marks the document dirty
// and re-arms the debounce timer; when the timer fires the document is canonicalized and
// upserted unless it matches the last saved snapshot. Persistence attempts of a controller
// run one at a time, so a later attempt always writes after an earlier one. Each attempt
// takes a sequence number and only the most recent one may update the snapshot.
//
// Lifecycle events (navigation, backgrounding, teardown) call ForceFlush, which bypasses
// the timer and waits for the save. A failed save leaves the document dirty; the next
// edit or lifecycle event is the retry.
//
//	ctrl := autosave.NewController[Resume](gateway, ownerID, autosave.Options{QuietInterval: 600 * time.Millisecond})
//	ctrl.Hydrate(loaded, true)
//	_ = ctrl.Update(func(r *Resume) error { r.SelfPR = text; return nil })
//	defer ctrl.Close(ctx)
package autosave
