package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/star-supply/internal/auth"
	"github.com/example/star-supply/internal/game"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, game.ErrInsufficient), errors.Is(err, game.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := game.Reason(err)
	if status == http.StatusInternalServerError {
		log.Printf("http: internal error: %v", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

type API struct {
	games *GameServer
}

func caller(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFromContext(r.Context())
	return id
}

func quantity(r *http.Request) (int, error) {
	qty, err := strconv.Atoi(mux.Vars(r)["quantity"])
	if err != nil || qty <= 0 {
		return 0, game.ErrInvalid
	}
	return qty, nil
}

func (a *API) startGame(w http.ResponseWriter, r *http.Request) {
	res, err := a.games.StartGame(r.Context(), caller(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) resetGame(w http.ResponseWriter, r *http.Request) {
	res, err := a.games.ResetGame(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) gameState(w http.ResponseWriter, r *http.Request) {
	res, err := a.games.State(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) ship(w http.ResponseWriter, r *http.Request) {
	ship, err := a.games.Ship(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ship)
}

func (a *API) shipInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := a.games.ShipInventory(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) shipPosition(w http.ResponseWriter, r *http.Request) {
	ship, err := a.games.Ship(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"position": ship.Position})
}

func (a *API) destinations(w http.ResponseWriter, r *http.Request) {
	dest, err := a.games.Destinations(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"destinations": dest})
}

func (a *API) load(w http.ResponseWriter, r *http.Request) {
	qty, err := quantity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := a.games.Load(r.Context(), caller(r).UserID, mux.Vars(r)["commodity"], qty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) deliver(w http.ResponseWriter, r *http.Request) {
	qty, err := quantity(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := a.games.Deliver(r.Context(), caller(r).UserID, mux.Vars(r)["commodity"], qty)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) jump(w http.ResponseWriter, r *http.Request) {
	res, err := a.games.Jump(r.Context(), caller(r).UserID, mux.Vars(r)["station"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) stations(w http.ResponseWriter, r *http.Request) {
	list, err := a.games.ListStations(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) stationInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := a.games.StationInventory(r.Context(), caller(r).UserID, mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]game.Inventory{"inventory": inv})
}

func (a *API) stationPercentage(w http.ResponseWriter, r *http.Request) {
	p, err := a.games.StationPercentage(r.Context(), caller(r).UserID, mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) path(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path, err := a.games.ShortestPath(r.Context(), caller(r).UserID, vars["from"], vars["to"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"path": path})
}

func (a *API) userRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := a.games.UserRecord(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"record": rec})
}

func (a *API) userHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := a.games.UserHistory(r.Context(), caller(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]game.HistoryEntry{"history": hist})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter wires the public health checks, the WebSocket feed and the
// authenticated /api routes. limiter may be nil.
func NewRouter(games *GameServer, hub *Hub, verifier *auth.Verifier, limiter *RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(cors)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}).Methods(http.MethodGet)

	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS).Methods(http.MethodGet)
	}

	a := &API{games: games}
	api := r.PathPrefix("/api").Subrouter()
	api.Use(verifier.AuthMiddleware)
	if limiter != nil {
		api.Use(limiter.Middleware)
	}

	api.HandleFunc("/game/start", a.startGame).Methods(http.MethodPost)
	api.HandleFunc("/game/reset", a.resetGame).Methods(http.MethodPost)
	api.HandleFunc("/game/state", a.gameState).Methods(http.MethodGet)

	api.HandleFunc("/ship", a.ship).Methods(http.MethodGet)
	api.HandleFunc("/ship/inventory", a.shipInventory).Methods(http.MethodGet)
	api.HandleFunc("/ship/position", a.shipPosition).Methods(http.MethodGet)
	api.HandleFunc("/ship/destinations", a.destinations).Methods(http.MethodGet)
	api.HandleFunc("/ship/load/{commodity}/{quantity}", a.load).Methods(http.MethodPost)
	api.HandleFunc("/ship/deliver/{commodity}/{quantity}", a.deliver).Methods(http.MethodPost)
	api.HandleFunc("/ship/jump/{station}", a.jump).Methods(http.MethodPost)

	api.HandleFunc("/stations", a.stations).Methods(http.MethodGet)
	api.HandleFunc("/stations/{name}/inventory", a.stationInventory).Methods(http.MethodGet)
	api.HandleFunc("/stations/{name}/percentage", a.stationPercentage).Methods(http.MethodGet)
	api.HandleFunc("/stations/{from}/path/{to}", a.path).Methods(http.MethodGet)

	api.HandleFunc("/user/record", a.userRecord).Methods(http.MethodGet)
	api.HandleFunc("/user/history", a.userHistory).Methods(http.MethodGet)

	return r
}
