package server

import (
	"crypto/subtle"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-Admin-Token",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/game/state", s.gameStateHandler)
	api.Get("/game/history", s.gameHistoryHandler)
	api.Post("/game/bet", s.placeBetHandler)
	api.Post("/game/cashout", s.cashoutHandler)
	api.Post("/game/cancel", s.cancelBetHandler)

	api.Get("/user/:userId/balance", s.balanceHandler)

	api.Post("/wallet/deposit", s.depositHandler)
	api.Post("/wallet/withdrawal", s.withdrawalHandler)
	api.Get("/wallet/pending", s.pendingTransactionsHandler)

	admin := api.Group("/admin", s.adminAuth)
	admin.Get("/stats", s.adminStatsHandler)
	admin.Get("/round", s.adminRoundHandler)
	admin.Post("/game/crash-point", s.adminSetCrashHandler)
	admin.Post("/game/pause", s.adminPauseHandler)
	admin.Post("/game/resume", s.adminResumeHandler)
	admin.Get("/transactions", s.adminTransactionsHandler)
	admin.Post("/transactions/:id/process", s.adminProcessTransactionHandler)
	admin.Post("/users/:userId/balance", s.adminAdjustBalanceHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

// adminAuth gates the admin surface behind a shared token. Full
// operator auth lives outside this service.
func (s *FiberServer) adminAuth(c *fiber.Ctx) error {
	token := c.Get("X-Admin-Token")
	if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "admin token required",
		})
	}
	return c.Next()
}
