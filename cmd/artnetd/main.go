// Package main is the entry point for the standalone Art-Net node
// daemon: a Client running as its own process, exposing discovered
// nodes and universes over a small monitoring HTTP API alongside the
// UDP protocol traffic.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	goartnet "github.com/TeaEngineering/goartnet"
	"github.com/TeaEngineering/goartnet/internal/config"
	"github.com/TeaEngineering/goartnet/internal/pubsub"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	printBanner(cfg)

	client, err := goartnet.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start Art-Net client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Art-Net loop stopped: %v", err)
		}
	}()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/health", healthCheckHandler)
	router.Get("/nodes", nodesHandler(client))
	router.Get("/universes", universesHandler(client))
	router.Get("/ws", notificationsHandler(client))

	httpAddr := ":8080"
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Monitoring API listening on http://localhost%s\n", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	log.Println("Stopped")
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func nodesHandler(client *goartnet.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(client.ListNodes())
	}
}

// universeSummary is the JSON projection of a universe.Snapshot served by
// /universes: Publishers and Subscribers travel only as counts, and the
// DMX payload and sequence counters are not included.
type universeSummary struct {
	Address         string `json:"address"`
	PublisherCount  int    `json:"publisherCount"`
	SubscriberCount int    `json:"subscriberCount"`
	LocalRole       int    `json:"localRole"`
	Dirty           bool   `json:"dirty"`
}

func universesHandler(client *goartnet.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries := make([]universeSummary, 0)
		for _, u := range client.ListUniverses() {
			summaries = append(summaries, universeSummary{
				Address:         u.Address.String(),
				PublisherCount:  len(u.Publishers),
				SubscriberCount: len(u.Subscribers),
				LocalRole:       int(u.LocalRole),
				Dirty:           u.Dirty,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summaries)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// notificationsHandler streams node/universe change events to a
// websocket client as they occur, one JSON object per event.
func notificationsHandler(client *goartnet.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		sub := client.Notifications(16)
		defer client.Unsubscribe(sub)

		for evt := range sub.Channel {
			if err := conn.WriteJSON(eventPayload(evt)); err != nil {
				return
			}
		}
	}
}

func eventPayload(evt pubsub.Event) map[string]interface{} {
	return map[string]interface{}{
		"kind":    evt.Kind,
		"payload": evt.Payload,
	}
}

func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  goartnet daemon")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Interface:   %s\n", cfg.Interface)
	fmt.Printf("  Port:        %d\n", cfg.Port)
	fmt.Printf("  Passive:     %v\n", cfg.Passive)
	fmt.Println("============================================")
}
