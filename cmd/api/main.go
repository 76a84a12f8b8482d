package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"typerace/internal/server"
	"typerace/internal/transfer"
)

func gracefulShutdown(fiberServer *server.FiberServer, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Println("[SERVER] Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("[SERVER] Forced shutdown with error: %v", err)
	}
	fiberServer.Shutdown()

	log.Println("[SERVER] Shutdown complete")
	done <- true
}

func main() {
	network, err := transfer.FromEnv()
	if err != nil {
		log.Fatalf("[SERVER] Transfer network: %v", err)
	}

	s := server.New(network)
	s.RegisterFiberRoutes()

	done := make(chan bool, 1)
	go gracefulShutdown(s, done)

	port, _ := strconv.Atoi(os.Getenv("PORT"))
	if port == 0 {
		port = 8080
	}
	if err := s.Listen(fmt.Sprintf(":%d", port)); err != nil {
		log.Fatalf("[SERVER] Listen error: %v", err)
	}

	<-done
	log.Println("[SERVER] Graceful shutdown complete")
}
