package cache

import (
	"context"

	"github.com/agentuity/escaperoom/game"
	"github.com/cockroachdb/errors"
)

// errNoPuzzle is logged when a generator succeeds without appending a puzzle.
var errNoPuzzle = errors.New("generator returned no new puzzle")

// generate fills slots 1..N-1 of e in order. snapshot is owned by this
// goroutine. It stops early when the session is invalidated, evicted, reset
// or the cache is closed.
func (c *puzzleCache) generate(id string, e *entry, snapshot *game.State) {
	defer c.waitGroup.Done()
	defer c.store.finish(id, e)

	log := c.logger.With(map[string]interface{}{"session": id})
	started := c.cfg.now()
	var published int

	for slot := 1; slot < c.cfg.totalPuzzles; slot++ {
		if !c.store.alive(id, e) {
			log.Debug("session gone, stopping at slot %d", slot)
			return
		}
		before := len(snapshot.Puzzles)
		snapshot.CurrentPuzzleIndex = slot
		next, err := c.call(e.ctx, snapshot)
		if err == nil && (next == nil || len(next.Puzzles) <= before) {
			err = errNoPuzzle
		}
		if err != nil {
			if e.ctx.Err() != nil {
				log.Debug("generation cancelled at slot %d", slot)
				return
			}
			log.Error("failed to pre-generate puzzle %d: %s", slot, err)
			continue
		}
		snapshot = next
		puzzle := snapshot.Puzzles[len(snapshot.Puzzles)-1].Clone()
		if !c.store.publish(id, e, slot, Payload{Puzzle: puzzle, NarrativeText: puzzle.NarrativeText}) {
			log.Debug("session gone, discarding puzzle %d", slot)
			return
		}
		published++
	}
	log.Info("pre-generated %d/%d puzzles in %s", published, c.cfg.totalPuzzles-1, c.cfg.now().Sub(started))
}

// call runs the generator and turns a panic into an error.
func (c *puzzleCache) call(ctx context.Context, state *game.State) (next *game.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("generator panic: %v", r)
		}
	}()
	return c.gen.GeneratePuzzle(ctx, state)
}
