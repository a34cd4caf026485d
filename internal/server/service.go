package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/star-supply/internal/auth"
	"github.com/example/star-supply/internal/clock"
	"github.com/example/star-supply/internal/game"
	"github.com/example/star-supply/internal/store"
)

// Notifier receives tick results for a user's live connections.
type Notifier interface {
	Publish(userID string, msg WSOut)
}

// GameServer runs every user's game: the player operations, each under the
// user's lock, and the periodic production tick.
type GameServer struct {
	store  store.Store
	roster *game.Roster
	clk    clock.Clock
	notify Notifier

	rngMu sync.Mutex
	rng   *rand.Rand

	locksMu sync.Mutex
	locks   map[string]*userLock

	tickMu sync.Mutex
}

type Option func(*GameServer)

func WithClock(c clock.Clock) Option { return func(gs *GameServer) { gs.clk = c } }

func WithRand(r *rand.Rand) Option { return func(gs *GameServer) { gs.rng = r } }

func WithNotifier(n Notifier) Option { return func(gs *GameServer) { gs.notify = n } }

func NewGameServer(st store.Store, roster *game.Roster, opts ...Option) *GameServer {
	gs := &GameServer{
		store:  st,
		roster: roster,
		clk:    clock.Real{},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		locks:  make(map[string]*userLock),
	}
	for _, opt := range opts {
		opt(gs)
	}
	return gs
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lockUser serializes everything that reads and writes one user's records.
// An entry lives only while someone holds or waits on it.
func (gs *GameServer) lockUser(userID string) func() {
	gs.locksMu.Lock()
	l, ok := gs.locks[userID]
	if !ok {
		l = &userLock{}
		gs.locks[userID] = l
	}
	l.refs++
	gs.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		gs.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(gs.locks, userID)
		}
		gs.locksMu.Unlock()
	}
}

func (gs *GameServer) publish(userID string, msg WSOut) {
	if gs.notify != nil {
		gs.notify.Publish(userID, msg)
	}
}

// withSession loads the user's session under the user's lock, runs fn and,
// when save is set and fn succeeded, writes the session back.
func (gs *GameServer) withSession(ctx context.Context, userID string, save bool, fn func(*game.Session) error) error {
	unlock := gs.lockUser(userID)
	defer unlock()
	sess, err := gs.store.FindSessionByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return gs.store.SaveSession(ctx, sess)
}

type StartResult struct {
	GameID string `json:"gameId"`
	Spawn  string `json:"spawn"`
}

// StartGame seeds a new game for the caller.
func (gs *GameServer) StartGame(ctx context.Context, id auth.Identity) (StartResult, error) {
	unlock := gs.lockUser(id.UserID)
	defer unlock()

	if _, err := gs.store.FindSessionByUser(ctx, id.UserID); err == nil {
		return StartResult{}, fmt.Errorf("%w: game already running", game.ErrConflict)
	} else if !errors.Is(err, game.ErrNotFound) {
		return StartResult{}, err
	}

	if _, err := gs.store.FindUser(ctx, id.UserID); errors.Is(err, game.ErrNotFound) {
		u := &game.User{ID: id.UserID, Username: id.Username, History: []game.HistoryEntry{}}
		if err := gs.store.SaveUser(ctx, u); err != nil {
			return StartResult{}, err
		}
	} else if err != nil {
		return StartResult{}, err
	}

	gs.rngMu.Lock()
	sess := gs.roster.NewSession(uuid.NewString(), id.UserID, gs.rng, gs.clk.Now())
	gs.rngMu.Unlock()
	if err := gs.store.SaveSession(ctx, sess); err != nil {
		return StartResult{}, err
	}
	log.Printf("game started user=%s game=%s spawn=%s", id.UserID, sess.ID, sess.Ship.Position)
	return StartResult{GameID: sess.ID, Spawn: sess.Ship.Position}, nil
}

type ResetResult struct {
	Duration   int64 `json:"duration"`
	BestRecord int64 `json:"bestRecord"`
}

// ResetGame ends the caller's game without a failure and keeps its duration
// as the best record when it beats it.
func (gs *GameServer) ResetGame(ctx context.Context, userID string) (ResetResult, error) {
	unlock := gs.lockUser(userID)
	defer unlock()

	sess, err := gs.store.FindSessionByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, game.ErrNotFound) {
			return ResetResult{}, fmt.Errorf("%w: no game running", game.ErrNotFound)
		}
		return ResetResult{}, err
	}
	u, err := gs.store.FindUser(ctx, userID)
	if err != nil {
		return ResetResult{}, err
	}
	duration := sess.Elapsed(gs.clk.Now())
	if duration > u.Record {
		u.ObserveDuration(duration)
		if err := gs.store.SaveUser(ctx, u); err != nil {
			return ResetResult{}, err
		}
	}
	if err := gs.store.DeleteSession(ctx, sess.ID); err != nil {
		return ResetResult{}, err
	}
	log.Printf("game reset user=%s game=%s duration=%ds", userID, sess.ID, duration)
	return ResetResult{Duration: duration, BestRecord: u.Record}, nil
}

type GameState struct {
	Running      bool               `json:"running"`
	LastGameOver *game.HistoryEntry `json:"lastGameOver"`
}

// State reports whether the caller is playing and, if not, how the last
// game ended.
func (gs *GameServer) State(ctx context.Context, userID string) (GameState, error) {
	unlock := gs.lockUser(userID)
	defer unlock()

	if _, err := gs.store.FindSessionByUser(ctx, userID); err == nil {
		return GameState{Running: true}, nil
	} else if !errors.Is(err, game.ErrNotFound) {
		return GameState{}, err
	}
	u, err := gs.store.FindUser(ctx, userID)
	if errors.Is(err, game.ErrNotFound) {
		return GameState{}, nil
	}
	if err != nil {
		return GameState{}, err
	}
	st := GameState{}
	if len(u.History) > 0 {
		last := u.History[0]
		st.LastGameOver = &last
	}
	return st, nil
}

type TransferResult struct {
	Status  string       `json:"status"`
	Ship    game.Ship    `json:"ship"`
	Station game.Station `json:"station"`
}

func (gs *GameServer) transfer(ctx context.Context, userID, status string, op func(*game.Session) error) (TransferResult, error) {
	var res TransferResult
	err := gs.withSession(ctx, userID, true, func(sess *game.Session) error {
		if err := op(sess); err != nil {
			return err
		}
		st, err := sess.Docked()
		if err != nil {
			return err
		}
		res = TransferResult{Status: status, Ship: sess.Ship, Station: st.Clone()}
		return nil
	})
	return res, err
}

// Load moves cargo from the docked station into the ship.
func (gs *GameServer) Load(ctx context.Context, userID, commodity string, qty int) (TransferResult, error) {
	return gs.transfer(ctx, userID, "Loaded successfully", func(sess *game.Session) error {
		return sess.Load(commodity, qty)
	})
}

// Deliver moves cargo from the ship into the docked station.
func (gs *GameServer) Deliver(ctx context.Context, userID, commodity string, qty int) (TransferResult, error) {
	return gs.transfer(ctx, userID, "Delivered successfully", func(sess *game.Session) error {
		return sess.Deliver(commodity, qty)
	})
}

type JumpResult struct {
	Status      string `json:"status"`
	NewPosition string `json:"newPosition"`
}

func (gs *GameServer) Jump(ctx context.Context, userID, destination string) (JumpResult, error) {
	var res JumpResult
	err := gs.withSession(ctx, userID, true, func(sess *game.Session) error {
		if err := sess.Jump(destination); err != nil {
			return err
		}
		res = JumpResult{Status: "Jump successful", NewPosition: sess.Ship.Position}
		return nil
	})
	return res, err
}

// Ship returns the caller's ship.
func (gs *GameServer) Ship(ctx context.Context, userID string) (game.Ship, error) {
	var ship game.Ship
	err := gs.withSession(ctx, userID, false, func(sess *game.Session) error {
		ship = sess.Ship
		return nil
	})
	return ship, err
}

type ShipInventory struct {
	Inventory     []game.CommodityQuantity `json:"inventory"`
	InventorySize int                      `json:"inventorySize"`
	Carried       int                      `json:"carried"`
}

// ShipInventory reports the hold contents against its capacity.
func (gs *GameServer) ShipInventory(ctx context.Context, userID string) (ShipInventory, error) {
	ship, err := gs.Ship(ctx, userID)
	if err != nil {
		return ShipInventory{}, err
	}
	inv := ship.Inventory
	if inv == nil {
		inv = []game.CommodityQuantity{}
	}
	return ShipInventory{Inventory: inv, InventorySize: ship.InventorySize, Carried: ship.Carried()}, nil
}

// Destinations lists the gates out of the station the ship is docked at.
func (gs *GameServer) Destinations(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := gs.withSession(ctx, userID, false, func(sess *game.Session) error {
		var err error
		out, err = sess.Graph().Neighbors(sess.Ship.Position)
		return err
	})
	return out, err
}

type StationSummary struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (gs *GameServer) ListStations(ctx context.Context, userID string) ([]StationSummary, error) {
	var out []StationSummary
	err := gs.withSession(ctx, userID, false, func(sess *game.Session) error {
		out = summarize(sess)
		return nil
	})
	return out, err
}

func summarize(sess *game.Session) []StationSummary {
	out := make([]StationSummary, 0, len(sess.Stations))
	for _, st := range sess.Stations {
		out = append(out, StationSummary{Name: st.Name, Type: st.Type})
	}
	return out
}

func (gs *GameServer) StationInventory(ctx context.Context, userID, name string) (game.Inventory, error) {
	var inv game.Inventory
	err := gs.withSession(ctx, userID, false, func(sess *game.Session) error {
		st, err := sess.Station(name)
		if err != nil {
			return err
		}
		inv = st.Clone().Inventory
		return nil
	})
	return inv, err
}

func (gs *GameServer) StationPercentage(ctx context.Context, userID, name string) (game.StockPercentages, error) {
	var p game.StockPercentages
	err := gs.withSession(ctx, userID, false, func(sess *game.Session) error {
		st, err := sess.Station(name)
		if err != nil {
			return err
		}
		p = st.Percentages()
		return nil
	})
	return p, err
}

func (gs *GameServer) ShortestPath(ctx context.Context, userID, from, to string) ([]string, error) {
	var path []string
	err := gs.withSession(ctx, userID, false, func(sess *game.Session) error {
		var err error
		path, err = sess.Graph().ShortestPath(from, to)
		return err
	})
	return path, err
}

func (gs *GameServer) UserRecord(ctx context.Context, userID string) (int64, error) {
	u, err := gs.store.FindUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Record, nil
}

func (gs *GameServer) UserHistory(ctx context.Context, userID string) ([]game.HistoryEntry, error) {
	u, err := gs.store.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.History == nil {
		return []game.HistoryEntry{}, nil
	}
	return u.History, nil
}
