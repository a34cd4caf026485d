// Command token issues a signed bearer token for a local player, creating
// the player record on first use.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/example/star-supply/internal/auth"
	"github.com/example/star-supply/internal/game"
	"github.com/example/star-supply/internal/store"
)

func main() {
	_ = godotenv.Load()

	var (
		username = flag.String("user", "", "Player name")
		ttl      = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()
	if *username == "" {
		fmt.Fprintln(os.Stderr, "usage: token -user NAME [-ttl 24h]")
		os.Exit(2)
	}

	ctx := context.Background()
	st, err := store.OpenFromEnv(ctx)
	if err != nil {
		log.Fatalf("Store: %v", err)
	}
	defer st.Close()

	u, err := st.FindUserByName(ctx, *username)
	if errors.Is(err, game.ErrNotFound) {
		u = &game.User{ID: uuid.NewString(), Username: *username, History: []game.HistoryEntry{}}
		if err := st.SaveUser(ctx, u); err != nil {
			log.Fatalf("Create user: %v", err)
		}
		log.Printf("Created user %s (%s)", u.Username, u.ID)
	} else if err != nil {
		log.Fatalf("Find user: %v", err)
	}

	token, err := auth.NewVerifierFromEnv().Sign(auth.Identity{UserID: u.ID, Username: u.Username}, *ttl)
	if err != nil {
		log.Fatalf("Sign: %v", err)
	}
	fmt.Println(token)
}
