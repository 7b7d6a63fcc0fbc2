package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"crashd/internal/server"
)

func gracefulShutdown(fiberServer *server.FiberServer, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Println("[SERVER] shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fiberServer.ShutdownWithContext(ctx); err != nil {
		log.Printf("[SERVER] forced shutdown: %v", err)
	}
	fiberServer.Shutdown()

	done <- true
}

func main() {
	srv := server.New()
	srv.RegisterFiberRoutes()

	done := make(chan bool, 1)
	go gracefulShutdown(srv, done)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := srv.Listen(fmt.Sprintf(":%s", port)); err != nil {
		log.Fatalf("[SERVER] listen error: %v", err)
	}

	<-done
	log.Println("[SERVER] graceful shutdown complete")
}
