package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/stanza-editor/stanza/backend/internal/api"
	"github.com/stanza-editor/stanza/backend/internal/auth"
	"github.com/stanza-editor/stanza/backend/internal/doc"
	"github.com/stanza-editor/stanza/backend/internal/presence"
	"github.com/stanza-editor/stanza/backend/internal/room"
	"github.com/stanza-editor/stanza/backend/internal/store"
	"github.com/stanza-editor/stanza/backend/internal/ws"
)

func main() {
	dataDir := os.Getenv("STANZA_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	usersFile := os.Getenv("STANZA_USERS_FILE")
	if usersFile == "" {
		usersFile = "./users.txt"
	}

	st, err := store.New(dataDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	gate := auth.NewGate(auth.NewStore(usersFile))
	tracker := presence.NewTracker(presence.DefaultTTL)
	registry := room.NewRegistry(st, doc.NewSpliceEngine(), tracker, room.DefaultSaveDelay)

	hub := ws.NewHub()
	go hub.Run()

	router := mux.NewRouter()
	router.HandleFunc("/ws/{space}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, registry, gate, tracker, w, r)
	})

	apiHandler := api.New(registry, st, tracker, gate, hub)
	apiHandler.Register(router)

	handler := corsMiddleware(router)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		registry.FlushAll()
		os.Exit(0)
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Stanza server starting on :%s", port)
	log.Printf("Data directory: %s", dataDir)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws/{space}?user=X&pass=Y")
	log.Println("  - Health:    GET /health")
	log.Println("  - Spaces:    GET /api/spaces")
	log.Println("  - Space:     GET/PUT/POST/DELETE /api/spaces/{id}")
	log.Println("  - Rename:    POST /api/spaces/{id}/rename")
	log.Println("  - Presence:  POST/DELETE /api/spaces/{id}/presence")

	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
