package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"typerace/internal/cache"
	"typerace/internal/database"
	"typerace/internal/game"
	"typerace/internal/transfer"
)

type FiberServer struct {
	*fiber.App

	db      database.Service
	cache   cache.Service
	hub     *Hub
	store   *database.Store
	manager *game.Manager
	dist    *game.Distributor
	sweeper *game.Sweeper

	bg       context.Context
	cancelBg context.CancelFunc
}

func New(network transfer.Client) *FiberServer {
	cfg := game.LoadConfig()

	db := database.New()
	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for the event channel")
	}

	store := database.NewStore(db.DB())
	hub := NewHub()
	events := game.NewRedisPublisher(redisService.GetClient())
	retrying := transfer.WithRetry(network, cfg.TransferAttempts, cfg.TransferBackoff)
	dist := game.NewDistributor(store, retrying, cfg)
	tracker := game.NewTracker(store)
	manager := game.NewManager(store, tracker, dist, events, hub, cfg)
	sweeper := game.NewSweeper(store, manager, dist, events, cfg)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "typerace",
			AppName:       "typerace",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:      db,
		cache:   redisService,
		hub:     hub,
		store:   store,
		manager: manager,
		dist:    dist,
		sweeper: sweeper,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	server.bg, server.cancelBg = context.WithCancel(context.Background())
	go sweeper.Run(server.bg)
	go game.NewRewardConsumer(redisService.GetClient(), dist).Run(server.bg)

	log.Println("[SERVER] Sweepers and reward consumer started")
	return server
}

// Shutdown stops background loops at their next safe checkpoint, then closes
// connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.cancelBg != nil {
		s.cancelBg()
	}
	if s.manager != nil {
		s.manager.Shutdown()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
