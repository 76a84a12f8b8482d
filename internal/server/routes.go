package server

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"typerace/internal/game"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Post("/parameters", s.createParametersHandler)
	api.Post("/parameters/:parametersId/rounds", s.createRoundHandler)
	api.Get("/rounds/:roundId", s.getRoundHandler)
	api.Post("/rounds/:roundId/bets", s.placeBetHandler)

	s.App.Get("/ws/rounds/:roundId", websocket.New(s.roundWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"realtime": fiber.Map{
			"subscribers": s.hub.SubscriberCount(),
		},
	})
}

type createParametersRequest struct {
	Label           string `json:"label"`
	CharacterSet    string `json:"character_set"`
	ChoiceLength    int    `json:"choice_length"`
	AllowRepeats    bool   `json:"allow_repeats"`
	WagerAmount     string `json:"wager_amount"`
	MinParticipants int    `json:"min_participants"`
}

// createParametersHandler is the admin surface: it defines a recurring game
// configuration and opens its first round.
func (s *FiberServer) createParametersHandler(c *fiber.Ctx) error {
	var req createParametersRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	amount, err := decimal.NewFromString(req.WagerAmount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid wager amount"})
	}
	if req.ChoiceLength < 1 || req.MinParticipants < 1 {
		return c.Status(400).JSON(fiber.Map{"error": "choice_length and min_participants must be positive"})
	}
	if !game.KnownSelector(game.CharacterSet(req.CharacterSet)) {
		return c.Status(400).JSON(fiber.Map{"error": "Unknown character set"})
	}

	params := &game.RoundParameters{
		ID:              uuid.NewString(),
		Label:           req.Label,
		CharacterSet:    game.CharacterSet(req.CharacterSet),
		ChoiceLength:    req.ChoiceLength,
		AllowRepeats:    req.AllowRepeats,
		WagerAmount:     amount,
		MinParticipants: req.MinParticipants,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateParameters(c.Context(), params); err != nil {
		log.Printf("[SERVER] Create parameters failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create parameters"})
	}

	round, err := s.manager.CreateRound(c.Context(), params.ID)
	if err != nil {
		log.Printf("[SERVER] Opening first round for %s failed: %v", params.ID, err)
	}
	return c.Status(201).JSON(fiber.Map{"parameters": params, "round": round})
}

func (s *FiberServer) createRoundHandler(c *fiber.Ctx) error {
	round, err := s.manager.CreateRound(c.Context(), c.Params("parametersId"))
	switch {
	case errors.Is(err, game.ErrOpenRoundExists):
		return c.Status(409).JSON(fiber.Map{"error": "An open round already exists"})
	case errors.Is(err, game.ErrParametersNotFound):
		return c.Status(404).JSON(fiber.Map{"error": "Parameters not found"})
	case err != nil:
		log.Printf("[SERVER] Create round failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create round"})
	}
	return c.Status(201).JSON(round)
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	round, err := s.store.GetRound(c.Context(), c.Params("roundId"))
	if errors.Is(err, game.ErrRoundNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Round not found"})
	}
	if err != nil {
		log.Printf("[SERVER] Get round failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to load round"})
	}
	if !round.Status.Terminal() {
		round.ServerSeed = "" // hide until reveal
	}
	return c.JSON(round)
}

type placeBetRequest struct {
	Participant string `json:"participant"`
	Choice      string `json:"choice"`
	Amount      string `json:"amount"`
	PaymentRef  string `json:"payment_ref"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req placeBetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid amount"})
	}

	bet, notes, err := s.manager.PlaceBet(c.Context(), c.Params("roundId"), req.Participant, req.Choice, amount, req.PaymentRef)
	if errors.Is(err, game.ErrRoundNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Round not found"})
	}
	if err != nil {
		log.Printf("[SERVER] Place bet failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to place bet"})
	}
	if !notes.OK() {
		return c.Status(422).JSON(fiber.Map{"errors": notes.Problems()})
	}
	return c.Status(201).JSON(bet)
}

// roundWebSocketHandler streams a round's bet and status updates to the
// presentation layer.
func (s *FiberServer) roundWebSocketHandler(conn *websocket.Conn) {
	roundID := conn.Params("roundId")
	client := s.hub.Subscribe(conn, roundID)
	defer s.hub.Unsubscribe(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
