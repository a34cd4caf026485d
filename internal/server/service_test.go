package server

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/example/star-supply/internal/auth"
	"github.com/example/star-supply/internal/clock"
	"github.com/example/star-supply/internal/game"
	"github.com/example/star-supply/internal/store"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[string][]WSOut
}

func (n *recordingNotifier) Publish(userID string, msg WSOut) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.msgs == nil {
		n.msgs = make(map[string][]WSOut)
	}
	n.msgs[userID] = append(n.msgs[userID], msg)
}

func (n *recordingNotifier) sent(userID string) []WSOut {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]WSOut(nil), n.msgs[userID]...)
}

type fixture struct {
	gs     *GameServer
	store  store.Store
	clock  *clock.Fake
	notify *recordingNotifier
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	roster, err := game.DefaultRoster()
	if err != nil {
		t.Fatalf("DefaultRoster: %v", err)
	}
	f := &fixture{store: st, clock: clock.NewFake(testStart), notify: &recordingNotifier{}}
	f.gs = NewGameServer(st, roster,
		WithClock(f.clock),
		WithRand(rand.New(rand.NewSource(7))),
		WithNotifier(f.notify),
	)
	return f
}

// seed stores a user and a hand-built game docked at its first station.
func (f *fixture) seed(t *testing.T, userID string, stations ...game.Station) *game.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.FindUser(ctx, userID); errors.Is(err, game.ErrNotFound) {
		if err := f.store.SaveUser(ctx, &game.User{ID: userID, Username: userID}); err != nil {
			t.Fatalf("SaveUser: %v", err)
		}
	}
	sess := &game.Session{
		ID:        "game-" + userID,
		UserID:    userID,
		Ship:      game.Ship{Name: "LCH-Bebop-1", InventorySize: 324, Inventory: []game.CommodityQuantity{}, Position: stations[0].Name},
		Stations:  stations,
		StartTime: f.clock.Now(),
	}
	if err := f.store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	return sess
}

func exhaustingStation() game.Station {
	return game.Station{
		Name:     "New-Paris",
		Type:     "Habitat",
		MaxStock: 1000,
		Inventory: game.Inventory{
			Exports: []game.CommodityQuantity{{Commodity: "Medical-Supply", Quantity: 100}},
			Imports: []game.CommodityQuantity{{Commodity: "Chemical", Quantity: 4}},
		},
		ProductionRules: []game.ProductionRule{{
			Input:  game.CommodityQuantity{Commodity: "Chemical", Quantity: 4},
			Output: game.CommodityQuantity{Commodity: "Medical-Supply", Quantity: 10},
		}},
		Neighbours: []string{"Drillpoint"},
	}
}

func steadyStation(name string, gates ...string) game.Station {
	return game.Station{
		Name:     name,
		Type:     "Mining",
		MaxStock: 1000,
		Inventory: game.Inventory{
			Exports: []game.CommodityQuantity{{Commodity: "Ore", Quantity: 300}},
			Imports: []game.CommodityQuantity{{Commodity: "Explosive", Quantity: 50}},
		},
		Neighbours: gates,
	}
}

func TestStartGame(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := auth.Identity{UserID: "u1", Username: "ash"}

	res, err := f.gs.StartGame(ctx, id)
	if err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if res.GameID == "" || res.Spawn == "" {
		t.Fatalf("StartGame = %+v", res)
	}
	sess, err := f.store.FindSessionByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.ID != res.GameID || sess.Ship.Position != res.Spawn || len(sess.Stations) != 5 {
		t.Fatalf("stored session = %+v", sess)
	}
	u, err := f.store.FindUser(ctx, "u1")
	if err != nil || u.Username != "ash" {
		t.Fatalf("user not created: %+v, %v", u, err)
	}

	if _, err := f.gs.StartGame(ctx, id); !errors.Is(err, game.ErrConflict) {
		t.Fatalf("second StartGame: err = %v, want ErrConflict", err)
	}
	state, err := f.gs.State(ctx, "u1")
	if err != nil || !state.Running {
		t.Fatalf("State = %+v, %v", state, err)
	}
}

func TestResetGameKeepsBestRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := auth.Identity{UserID: "u1", Username: "ash"}

	if _, err := f.gs.ResetGame(ctx, "u1"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("reset with no game: err = %v", err)
	}

	if _, err := f.gs.StartGame(ctx, id); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	f.clock.Advance(90 * time.Second)
	res, err := f.gs.ResetGame(ctx, "u1")
	if err != nil {
		t.Fatalf("ResetGame: %v", err)
	}
	if res.Duration != 90 || res.BestRecord != 90 {
		t.Fatalf("first reset = %+v, want 90/90", res)
	}

	if _, err := f.gs.StartGame(ctx, id); err != nil {
		t.Fatalf("restart: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	res, err = f.gs.ResetGame(ctx, "u1")
	if err != nil {
		t.Fatalf("second ResetGame: %v", err)
	}
	if res.Duration != 30 || res.BestRecord != 90 {
		t.Fatalf("second reset = %+v, want 30/90", res)
	}

	hist, err := f.gs.UserHistory(ctx, "u1")
	if err != nil || len(hist) != 0 {
		t.Fatalf("reset must not add history: %v, %v", hist, err)
	}
	state, err := f.gs.State(ctx, "u1")
	if err != nil || state.Running || state.LastGameOver != nil {
		t.Fatalf("State after reset = %+v, %v", state, err)
	}
}

func TestTickEndsExhaustedGame(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "u1", exhaustingStation())
	f.clock.Advance(45 * time.Second)

	stats := f.gs.Tick(ctx)
	if stats.Ended != 1 || stats.Advanced != 0 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := f.store.FindSessionByUser(ctx, "u1"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("ended game still stored: err = %v", err)
	}
	hist, err := f.gs.UserHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("UserHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history = %d entries, want 1", len(hist))
	}
	got := hist[0]
	if got.Reason != game.ReasonImportExhausted || got.Station != "New-Paris" || got.Resource != "Chemical" || got.DurationSeconds != 45 {
		t.Fatalf("history entry = %+v", got)
	}
	if rec, _ := f.gs.UserRecord(ctx, "u1"); rec != 45 {
		t.Fatalf("record = %d, want 45", rec)
	}

	msgs := f.notify.sent("u1")
	if len(msgs) != 1 || msgs[0].Type != "gameOver" {
		t.Fatalf("notifications = %+v", msgs)
	}
	state, _ := f.gs.State(ctx, "u1")
	if state.Running || state.LastGameOver == nil || state.LastGameOver.Resource != "Chemical" {
		t.Fatalf("State after game over = %+v", state)
	}

	// The ended game is gone, so another tick must not record it again.
	f.gs.Tick(ctx)
	if hist, _ := f.gs.UserHistory(ctx, "u1"); len(hist) != 1 {
		t.Fatalf("history after second tick = %d entries", len(hist))
	}
}

func TestTickAdvancesSurvivingGame(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	station := steadyStation("Drillpoint")
	station.ProductionRules = []game.ProductionRule{{
		Input:  game.CommodityQuantity{Commodity: "Explosive", Quantity: 1},
		Output: game.CommodityQuantity{Commodity: "Ore", Quantity: 5},
	}}
	f.seed(t, "u1", station)

	stats := f.gs.Tick(ctx)
	if stats.Advanced != 1 || stats.Ended != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	sess, err := f.store.FindSessionByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("FindSessionByUser: %v", err)
	}
	if v, _ := sess.Stations[0].Get(game.Imports, "Explosive"); v != 49 {
		t.Fatalf("Explosive = %d, want 49", v)
	}
	if v, _ := sess.Stations[0].Get(game.Exports, "Ore"); v != 305 {
		t.Fatalf("Ore = %d, want 305", v)
	}
	msgs := f.notify.sent("u1")
	if len(msgs) != 1 || msgs[0].Type != "tick" {
		t.Fatalf("notifications = %+v", msgs)
	}
	payload, ok := msgs[0].Payload.(TickPayload)
	if !ok || len(payload.Stations) != 1 || payload.Stations[0].Name != "Drillpoint" {
		t.Fatalf("tick payload = %+v", msgs[0].Payload)
	}
}

func TestTickCapsHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	u := &game.User{ID: "u1", Username: "ash"}
	for i := 0; i < game.MaxHistory; i++ {
		u.History = append(u.History, game.HistoryEntry{DurationSeconds: int64(i), Reason: game.ReasonExportSaturated, Station: "old"})
	}
	if err := f.store.SaveUser(ctx, u); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	f.seed(t, "u1", exhaustingStation())

	f.gs.Tick(ctx)
	hist, _ := f.gs.UserHistory(ctx, "u1")
	if len(hist) != game.MaxHistory {
		t.Fatalf("history = %d entries, want %d", len(hist), game.MaxHistory)
	}
	if hist[0].Station != "New-Paris" || hist[game.MaxHistory-1].DurationSeconds != int64(game.MaxHistory-2) {
		t.Fatalf("history order = %+v", hist)
	}
}

func TestTickSkipsWhileRunning(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "u1", exhaustingStation())

	f.gs.tickMu.Lock()
	stats := f.gs.Tick(context.Background())
	f.gs.tickMu.Unlock()

	if !stats.Skipped {
		t.Fatalf("overlapping tick was not skipped: %+v", stats)
	}
	if _, err := f.store.FindSessionByUser(context.Background(), "u1"); err != nil {
		t.Fatalf("skipped tick touched the game: %v", err)
	}
}

type failingSaveStore struct {
	store.Store
	failUser string
}

func (s *failingSaveStore) SaveSession(ctx context.Context, g *game.Session) error {
	if g.UserID == s.failUser {
		return errors.New("disk full")
	}
	return s.Store.SaveSession(ctx, g)
}

func TestTickIsolatesFailures(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, mem)
	f.seed(t, "bad", steadyStation("Drillpoint"))
	f.seed(t, "good", exhaustingStation())

	f.gs.store = &failingSaveStore{Store: mem, failUser: "bad"}
	stats := f.gs.Tick(context.Background())
	if stats.Failed != 1 || stats.Ended != 1 {
		t.Fatalf("stats = %+v, want one failure and one ended game", stats)
	}
	if hist, _ := f.gs.UserHistory(context.Background(), "good"); len(hist) != 1 {
		t.Fatalf("good user's game was not processed: %v", hist)
	}
}

func TestTransfersThroughService(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "u1", steadyStation("Drillpoint", "New-Paris"), steadyStation("New-Paris", "Drillpoint"))

	res, err := f.gs.Load(ctx, "u1", "Ore", 20)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Ship.Inventory[0].Quantity != 20 || res.Station.Inventory.Exports[0].Quantity != 280 {
		t.Fatalf("Load result = %+v", res)
	}
	if _, err := f.gs.Load(ctx, "u1", "Ore", 1000); !errors.Is(err, game.ErrInsufficient) {
		t.Fatalf("overdraw: err = %v", err)
	}

	jump, err := f.gs.Jump(ctx, "u1", "New-Paris")
	if err != nil || jump.NewPosition != "New-Paris" {
		t.Fatalf("Jump = %+v, %v", jump, err)
	}
	if _, err := f.gs.Jump(ctx, "u1", "Artemis-Foundry"); !errors.Is(err, game.ErrConflict) {
		t.Fatalf("jump without gate: err = %v", err)
	}

	if _, err := f.gs.Deliver(ctx, "u1", "Ore", 5); !errors.Is(err, game.ErrInsufficient) {
		t.Fatalf("deliver unaccepted commodity: err = %v", err)
	}

	ship, err := f.gs.Ship(ctx, "u1")
	if err != nil || ship.Position != "New-Paris" || ship.Holding("Ore") != 20 {
		t.Fatalf("Ship = %+v, %v", ship, err)
	}
	dest, err := f.gs.Destinations(ctx, "u1")
	if err != nil || len(dest) != 1 || dest[0] != "Drillpoint" {
		t.Fatalf("Destinations = %v, %v", dest, err)
	}
	list, err := f.gs.ListStations(ctx, "u1")
	if err != nil || len(list) != 2 || list[1].Name != "New-Paris" {
		t.Fatalf("ListStations = %v, %v", list, err)
	}
	path, err := f.gs.ShortestPath(ctx, "u1", "New-Paris", "Drillpoint")
	if err != nil || len(path) != 2 {
		t.Fatalf("ShortestPath = %v, %v", path, err)
	}
	if _, err := f.gs.StationInventory(ctx, "u1", "Nowhere"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("unknown station: err = %v", err)
	}
	pct, err := f.gs.StationPercentage(ctx, "u1", "Drillpoint")
	if err != nil || pct.Exports[0].Percent != 28 {
		t.Fatalf("StationPercentage = %+v, %v", pct, err)
	}
}

func TestOperationsWithoutGame(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.gs.Ship(ctx, "nobody"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("Ship without game: err = %v", err)
	}
	if _, err := f.gs.Load(ctx, "nobody", "Ore", 1); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("Load without game: err = %v", err)
	}
	if _, err := f.gs.UserRecord(ctx, "nobody"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("UserRecord for unknown user: err = %v", err)
	}
	state, err := f.gs.State(ctx, "nobody")
	if err != nil || state.Running {
		t.Fatalf("State for unknown user = %+v, %v", state, err)
	}
}

type failingDeleteStore struct {
	store.Store
	fail bool
}

func (s *failingDeleteStore) DeleteSession(ctx context.Context, id string) error {
	if s.fail {
		return errors.New("connection reset")
	}
	return s.Store.DeleteSession(ctx, id)
}

func TestTickRecordsGameOverOnceWhenDeleteFails(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, mem)
	ctx := context.Background()
	f.seed(t, "u1", exhaustingStation())
	flaky := &failingDeleteStore{Store: mem, fail: true}
	f.gs.store = flaky

	for i := 0; i < 3; i++ {
		if stats := f.gs.Tick(ctx); stats.Failed != 1 {
			t.Fatalf("tick %d stats = %+v, want one failed game", i, stats)
		}
		f.clock.Advance(15 * time.Second)
	}
	hist, _ := f.gs.UserHistory(ctx, "u1")
	if len(hist) != 1 || hist[0].GameID != "game-u1" || hist[0].DurationSeconds != 0 {
		t.Fatalf("history while delete fails = %+v, want the first entry only", hist)
	}
	if len(f.notify.sent("u1")) != 0 {
		t.Fatalf("gameOver published before the game was removed")
	}

	flaky.fail = false
	if stats := f.gs.Tick(ctx); stats.Ended != 1 {
		t.Fatalf("retry stats = %+v, want one ended game", stats)
	}
	if _, err := mem.FindSessionByUser(ctx, "u1"); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("game still stored after retry: err = %v", err)
	}
	if hist, _ := f.gs.UserHistory(ctx, "u1"); len(hist) != 1 {
		t.Fatalf("history after retry = %d entries, want 1", len(hist))
	}
	msgs := f.notify.sent("u1")
	if len(msgs) != 1 || msgs[0].Payload.(GameOverPayload).Entry.DurationSeconds != 0 {
		t.Fatalf("notifications after retry = %+v", msgs)
	}
}

func TestConcurrentLoadsAndTicksKeepStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "u1", steadyStation("Drillpoint"))

	const loads = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < loads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.gs.Load(ctx, "u1", "Ore", 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
		if i%20 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.gs.Tick(ctx)
			}()
		}
	}
	wg.Wait()

	if ok != loads {
		t.Fatalf("successful loads = %d, want %d", ok, loads)
	}
	ship, err := f.gs.Ship(ctx, "u1")
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	sess, _ := f.store.FindSessionByUser(ctx, "u1")
	left, _ := sess.Stations[0].Get(game.Exports, "Ore")
	if ship.Carried() != loads || ship.Carried()+left != 300 {
		t.Fatalf("carried = %d, station Ore = %d, want %d + %d", ship.Carried(), left, loads, 300-loads)
	}

	f.gs.locksMu.Lock()
	held := len(f.gs.locks)
	f.gs.locksMu.Unlock()
	if held != 0 {
		t.Fatalf("%d user locks left after all calls returned", held)
	}
}
