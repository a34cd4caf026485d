package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/star-supply/internal/game"
)

// TickPayload is pushed to a user after a tick their game survived.
type TickPayload struct {
	GameID   string               `json:"gameId"`
	Elapsed  int64                `json:"elapsed"`
	Ship     game.Ship            `json:"ship"`
	Stations []game.StationStatus `json:"stations"`
}

// GameOverPayload is pushed to a user whose game ended on this tick.
type GameOverPayload struct {
	GameID     string            `json:"gameId"`
	Entry      game.HistoryEntry `json:"entry"`
	BestRecord int64             `json:"bestRecord"`
}

// TickStats summarizes one pass over all running games.
type TickStats struct {
	Advanced int
	Ended    int
	Failed   int
	Skipped  bool
}

// Tick advances every running game once. A tick that starts while the
// previous one is still running is skipped. A failure on one game is logged
// and leaves the others unaffected.
func (gs *GameServer) Tick(ctx context.Context) TickStats {
	if !gs.tickMu.TryLock() {
		log.Printf("tick: previous tick still running, skipping")
		return TickStats{Skipped: true}
	}
	defer gs.tickMu.Unlock()

	var stats TickStats
	sessions, err := gs.store.ListSessions(ctx)
	if err != nil {
		log.Printf("tick: list sessions: %v", err)
		return stats
	}
	for _, listed := range sessions {
		if ctx.Err() != nil {
			break
		}
		ended, err := gs.advance(ctx, listed.UserID, listed.ID)
		switch {
		case err != nil:
			stats.Failed++
			log.Printf("tick: game=%s user=%s: %v", listed.ID, listed.UserID, err)
		case ended:
			stats.Ended++
		default:
			stats.Advanced++
		}
	}
	log.Printf("tick: games=%d advanced=%d ended=%d failed=%d", len(sessions), stats.Advanced, stats.Ended, stats.Failed)
	return stats
}

// advance runs one tick on a single game under its owner's lock. The game
// is reloaded so a reset or move made since the listing is respected.
func (gs *GameServer) advance(ctx context.Context, userID, gameID string) (bool, error) {
	unlock := gs.lockUser(userID)
	defer unlock()

	sess, err := gs.store.FindSessionByUser(ctx, userID)
	if errors.Is(err, game.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if sess.ID != gameID {
		return false, nil
	}

	now := gs.clk.Now()
	failure := sess.Advance()
	if failure == nil {
		if err := gs.store.SaveSession(ctx, sess); err != nil {
			return false, err
		}
		gs.publish(userID, WSOut{Type: "tick", Payload: TickPayload{
			GameID:   sess.ID,
			Elapsed:  sess.Elapsed(now),
			Ship:     sess.Ship,
			Stations: game.Statuses(sess.Stations),
		}})
		return false, nil
	}

	u, err := gs.store.FindUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load owner: %w", err)
	}
	entry := game.HistoryEntry{
		GameID:          sess.ID,
		DurationSeconds: sess.Elapsed(now),
		Reason:          failure.Reason,
		Station:         failure.Station,
		Resource:        failure.Commodity,
		EndedAt:         now,
	}
	// A game whose delete failed on an earlier tick is already recorded;
	// only the delete is retried.
	if u.RecordGameOver(entry) {
		if err := gs.store.SaveUser(ctx, u); err != nil {
			return false, err
		}
	} else {
		entry = u.History[0]
	}
	if err := gs.store.DeleteSession(ctx, sess.ID); err != nil {
		return false, err
	}
	log.Printf("game over user=%s game=%s reason=%q station=%s resource=%s duration=%ds",
		userID, sess.ID, entry.Reason, entry.Station, entry.Resource, entry.DurationSeconds)
	gs.publish(userID, WSOut{Type: "gameOver", Payload: GameOverPayload{
		GameID:     sess.ID,
		Entry:      entry,
		BestRecord: u.Record,
	}})
	return true, nil
}

// Run ticks every interval until ctx is done.
func (gs *GameServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("tick loop started interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("tick loop stopped")
			return
		case <-ticker.C:
			go gs.Tick(ctx)
		}
	}
}
