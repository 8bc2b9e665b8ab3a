package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"DRaaS-Chain/sdk/go/draas"
)

// main runs the SDK against an in-process stand-in for the console that
// settles a session after a few polls.
func main() {
	var (
		mu    sync.Mutex
		polls int
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(draas.Session{ID: "demo", FileName: "app.zip", Phase: draas.PhaseSubmitting, Progress: 10})
	})
	mux.HandleFunc("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		session := draas.Session{ID: "demo", Phase: draas.PhaseConfirming, Progress: 85, StatusMessage: "Waiting for transaction confirmation..."}
		if n > 2 {
			session = draas.Session{ID: "demo", Phase: draas.PhaseSettled, Progress: 100, SubmissionID: "d1", StatusMessage: "Successfully deployed! Transaction hash: 0x1234abcd..."}
		}
		_ = json.NewEncoder(w).Encode(session)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := draas.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := client.Upload(ctx, "app.zip", "python", strings.NewReader("PK"))
	if err != nil {
		panic(err)
	}
	fmt.Printf("upload accepted, session %s (%s)\n", session.ID, session.Phase)

	session, err = client.WaitSession(ctx, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("session %s %s: %s\n", session.ID, session.Phase, session.StatusMessage)
}
