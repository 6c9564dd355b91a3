package gateway

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"hirepilot/internal/marketplace"
	"hirepilot/internal/queue"
)

// webhookEnvelope is the marketplace messenger push payload (v3).
type webhookEnvelope struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
	Payload   struct {
		Type  string `json:"type"`
		Value struct {
			ID       string `json:"id"`
			ChatID   string `json:"chat_id"`
			UserID   int64  `json:"user_id"`   // cabinet owner
			AuthorID int64  `json:"author_id"` // message sender
			Created  int64  `json:"created"`
			Type     string `json:"type"`
			ItemID   int64  `json:"item_id"`
			Content  struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"value"`
	} `json:"payload"`
}

// Ingestor consumes normalized inbound marketplace events.
type Ingestor interface {
	IngestMessage(ctx context.Context, msg marketplace.InboundMessage) error
	IngestApplication(ctx context.Context, accountID, applicationID string) error
}

// Server is the webhook-facing HTTP gateway. It normalizes marketplace
// pushes into inbound messages; all dialogue work happens in the worker.
type Server struct {
	app      *fiber.App
	ingestor Ingestor
	tasks    *queue.TaskQueue
	secret   string
}

func NewServer(ingestor Ingestor, tasks *queue.TaskQueue, secret string) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "HirePilot Gateway v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	prometheus := fiberprometheus.New("hirepilot")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	s := &Server{app: app, ingestor: ingestor, tasks: tasks, secret: secret}

	app.Get("/health", s.handleHealth)
	app.Post("/webhook/:accountID", s.handleWebhook)

	return s
}

// Listen blocks serving HTTP until Shutdown.
func (s *Server) Listen(addr string) error {
	log.Printf("🚀 Gateway listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	depth := int64(-1)
	if s.tasks != nil {
		if d, err := s.tasks.Depth(c.Context()); err == nil {
			depth = d
		}
	}
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"queue_depth": depth,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

// handleWebhook accepts a messenger push. The marketplace retries
// non-200 responses, so ingest failures return 500 for redelivery while
// payloads we will never handle return 200 to stop the retries.
func (s *Server) handleWebhook(c *fiber.Ctx) error {
	if s.secret != "" && c.Get("X-Webhook-Secret") != s.secret {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook secret"})
	}

	accountID := c.Params("accountID")
	if accountID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing account id"})
	}

	var envelope webhookEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		log.Printf("⚠️ Webhook payload for %s did not parse: %v", accountID, err)
		return c.JSON(fiber.Map{"ok": true})
	}

	value := envelope.Payload.Value

	// A vacancy application push: fetch the applicant's contact details
	// before the chat even starts.
	if envelope.Payload.Type == "application" && value.ID != "" {
		ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
		defer cancel()
		if err := s.ingestor.IngestApplication(ctx, accountID, value.ID); err != nil {
			log.Printf("❌ Application ingest failed for %s/%s: %v", accountID, value.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ingest failed"})
		}
		return c.JSON(fiber.Map{"ok": true})
	}

	if envelope.Payload.Type != "message" || value.Type != "text" || value.Content.Text == "" {
		// System events and attachments are not dialogue input.
		return c.JSON(fiber.Map{"ok": true})
	}
	if value.AuthorID == value.UserID {
		// Echo of our own outbound message.
		return c.JSON(fiber.Map{"ok": true})
	}

	msg := marketplace.InboundMessage{
		AccountID: accountID,
		ChatID:    value.ChatID,
		MessageID: value.ID,
		AuthorID:  strconv.FormatInt(value.AuthorID, 10),
		Text:      value.Content.Text,
		CreatedAt: time.Unix(value.Created, 0).UTC(),
	}
	if value.ItemID != 0 {
		msg.VacancyID = strconv.FormatInt(value.ItemID, 10)
	}

	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()
	if err := s.ingestor.IngestMessage(ctx, msg); err != nil {
		log.Printf("❌ Webhook ingest failed for %s/%s: %v", accountID, value.ChatID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ingest failed"})
	}

	return c.JSON(fiber.Map{"ok": true})
}
