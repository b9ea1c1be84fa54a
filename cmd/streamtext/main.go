package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamtext-ai/streamtext/pkg/recognizer"
	"github.com/streamtext-ai/streamtext/pkg/server"
	"github.com/streamtext-ai/streamtext/pkg/session"
	"github.com/streamtext-ai/streamtext/pkg/trace"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	ctx := context.Background()
	if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := trace.Shutdown(shutdownCtx); err != nil {
			log.Printf("Trace shutdown: %v", err)
		}
	}()

	recognizer.RegisterBuiltinEngines()
	for name, available := range recognizer.EnginesAvailable() {
		log.Printf("Engine %s: available=%v", name, available)
	}

	manager := session.NewManager()
	manager.StartReaper()

	cfg := server.DefaultServerConfig()
	if addr := os.Getenv("STREAMTEXT_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	srv := server.NewServer(cfg, manager)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server start failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	if err := srv.Stop(); err != nil {
		log.Printf("Server stop: %v", err)
	}
	manager.Stop()
}
