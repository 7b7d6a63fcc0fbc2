package server

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crashd/internal/cache"
	"crashd/internal/database"
	"crashd/internal/game"
	"crashd/internal/ledger"
)

type FiberServer struct {
	*fiber.App

	db         database.Service
	store      *database.Store
	cache      cache.Service
	hub        *game.Hub
	engine     *game.Engine
	ledger     *ledger.Ledger
	txProc     *ledger.Processor
	adminToken string
}

func New() *FiberServer {
	db := database.New()
	store := database.NewStore(db)

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required")
	}

	hub := game.NewHub()

	bank := ledger.New(store, func(acct ledger.Account) {
		hub.SendToUser(acct.UserID, game.WSMessage{Type: "balance-update", Data: fiber.Map{
			"user_id":           acct.UserID,
			"new_balance":       acct.Balance,
			"available_balance": acct.Available(),
			"reserved_balance":  acct.Reserved,
		}})
	})

	txProc := ledger.NewProcessor(bank, store, func(userID string, tx ledger.Transaction) {
		hub.SendToUser(userID, game.WSMessage{Type: "transaction-update", Data: tx})
	})

	engine := game.NewEngine(game.DefaultConfig(), hub, bank, store, redisService.Client())

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crashd",
			AppName:       "crashd",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:         db,
		store:      store,
		cache:      redisService,
		hub:        hub,
		engine:     engine,
		ledger:     bank,
		txProc:     txProc,
		adminToken: os.Getenv("ADMIN_TOKEN"),
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	go engine.Run()
	log.Println("[SERVER] hub and round engine started")

	return server
}

func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] shutting down...")

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
