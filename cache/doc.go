// Package cache pre-generates the puzzles of a running game in the
// background so that the request path rarely waits on the language model.
//
// # Lifecycle
//
// When a game starts, the caller generates puzzle 0 itself and then calls
// [PuzzleCache.StartPrecaching] with the game state. The cache takes a deep
// copy of the state and starts one goroutine for the session that calls the
// [Generator] for slots 1 through N-1 in order, feeding each result into the
// next call so the model sees the story so far. As each puzzle arrives it is
// published into the session's entry, where [PuzzleCache.Get] can find it.
//
// When the player advances, the caller asks [PuzzleCache.Get] for the next
// slot. A miss is normal (the puzzle may still be generating, or generation
// may have failed) and the caller falls back to generating synchronously.
//
// # Bounds
//
// Entries expire [DefaultTTL] after they were created. Expiry is lazy: an
// expired entry is removed when it is looked up or when a new session is
// created. [WithExpiryCheck] adds a periodic sweep for idle processes.
//
// At most [DefaultMaxSessions] entries are kept. Creating a session when the
// cache is full first drops expired entries, then the oldest ones, so the
// count never goes above the cap.
//
// # Cancellation
//
// Each entry owns a context that is passed to the [Generator]. Invalidating,
// evicting or resetting a session cancels it, so an in-flight model request
// is aborted. Independently of the context, the generator goroutine checks
// before every slot that its entry is still the one stored for the session
// and stops if not. A payload that arrives after the session is gone is
// dropped, and a stale generator can never write into a newer entry for the
// same session id.
//
// # Errors
//
// Nothing in this package returns an error to the caller. A failing or
// panicking [Generator] call is logged and the goroutine moves on to the next
// slot, which leaves a gap that shows up as a miss.
package cache
