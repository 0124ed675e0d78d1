// handlers/admin.go
package handlers

import (
	"errors"
	"log"
	"strconv"
	"time"

	"coinsync/middleware"
	"coinsync/models"
	"coinsync/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type manualAwardRequest struct {
	UserID     uint              `json:"user_id"`
	ContextID  uint              `json:"context_id"`
	ActionName string            `json:"action_name"`
	ActionHash string            `json:"action_hash"`
	Coins      int               `json:"coins"`
	Template   string            `json:"reason_template"`
	Args       map[string]string `json:"reason_args"`
}

type pushRequest struct {
	UserID     uint `json:"user_id"`
	GroupingID uint `json:"grouping_id"`
	All        bool `json:"all"`
}

type teamRequest struct {
	TeamID string `json:"team_id"`
}

// SetupAdminRoutes mounts the operator API under /admin, guarded by the
// service token.
func SetupAdminRoutes(app *fiber.App, engine *services.Engine) {
	admin := app.Group("/admin",
		middleware.ServiceTokenMiddleware(engine.Config.ServiceToken),
		middleware.OperatorContextMiddleware(),
	)

	admin.Post("/awards", func(c *fiber.Ctx) error {
		var body manualAwardRequest
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
		if body.ActionName == "" {
			body.ActionName = "manual_award"
		}
		if body.ActionHash == "" {
			body.ActionHash = services.HashAction(body.ActionName, uuid.NewString())
		}
		if body.Template == "" {
			body.Template = "reason_manual_award"
		}
		args := map[string]string{"awarded_by": middleware.OperatorID(c)}
		for k, v := range body.Args {
			args[k] = v
		}

		err := engine.Awards.GiveStrict(c.UserContext(), services.AwardRequest{
			UserID:     body.UserID,
			ContextID:  body.ContextID,
			ActionName: body.ActionName,
			ActionHash: body.ActionHash,
			Coins:      body.Coins,
			Reason:     &services.Reason{Template: body.Template, Args: args},
		})
		if err != nil {
			return awardFailure(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "action_hash": body.ActionHash})
	})

	admin.Post("/triggers", func(c *fiber.Ctx) error {
		var ev services.TriggerEvent
		if err := c.BodyParser(&ev); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
		credited, err := engine.Strategy.Collect(c.UserContext(), ev)
		if err != nil {
			log.Printf("[COLLECT] %s for user %d: %v", ev.Kind, ev.Subject(), err)
		}
		return c.JSON(fiber.Map{"credited": credited})
	})

	admin.Get("/awards/failed", func(c *fiber.Ctx) error {
		since := time.Now().Add(-24 * time.Hour)
		if raw := c.Query("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be RFC3339"})
			}
			since = t
		}
		entries, err := engine.Awards.FailedAwards(c.UserContext(), since, c.QueryInt("limit", 100))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list awards"})
		}
		return c.JSON(entries)
	})

	admin.Get("/users", func(c *fiber.Ctx) error {
		users, err := engine.SearchUsers(c.UserContext(), c.Query("q"), c.QueryInt("limit", 50))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "search failed"})
		}
		return c.JSON(users)
	})

	admin.Get("/users/:id/notifications", func(c *fiber.Ctx) error {
		user, err := loadUser(c, engine.DB)
		if err != nil {
			return err
		}
		list, err := engine.Notifications.List(c.UserContext(), user.ID, c.QueryBool("unread"), c.QueryInt("limit", 50))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list notifications"})
		}
		return c.JSON(list)
	})

	admin.Post("/users/:id/notifications/read", func(c *fiber.Ctx) error {
		user, err := loadUser(c, engine.DB)
		if err != nil {
			return err
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
			}
		}
		n, err := engine.Notifications.MarkRead(c.UserContext(), user.ID, body.IDs)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update notifications"})
		}
		return c.JSON(fiber.Map{"updated": n})
	})

	admin.Get("/users/:id/balance", func(c *fiber.Ctx) error {
		user, err := loadUser(c, engine.DB)
		if err != nil {
			return err
		}
		return c.JSON(engine.Balances.Balance(c.UserContext(), user))
	})

	admin.Get("/users/:id/metadata", func(c *fiber.Ctx) error {
		user, err := loadUser(c, engine.DB)
		if err != nil {
			return err
		}
		ctx := c.UserContext()
		return c.JSON(fiber.Map{
			"leaderboard":    engine.Metadata.LeaderboardFlags(ctx, user.ID),
			"purchase_count": engine.Metadata.PurchaseCount(ctx, user),
		})
	})

	admin.Post("/users/:id/store-login", func(c *fiber.Ctx) error {
		user, err := loadUser(c, engine.DB)
		if err != nil {
			return err
		}
		url, err := engine.Metadata.StoreLoginURL(c.UserContext(), user)
		if err != nil {
			if services.IsConfigurationError(err) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "coinsync is not available"})
			}
			log.Printf("[METADATA] store login for user %d: %v", user.ID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "store login unavailable"})
		}
		return c.JSON(fiber.Map{"url": url})
	})

	admin.Get("/users/:id/teams", func(c *fiber.Ctx) error {
		user, err := loadUser(c, engine.DB)
		if err != nil {
			return err
		}
		candidates, err := engine.Teams().CandidatesForUser(c.UserContext(), user.ID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to resolve teams"})
		}
		return c.JSON(candidates)
	})

	admin.Delete("/users/:id", func(c *fiber.Ctx) error {
		id, err := strconv.ParseUint(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user id"})
		}
		if err := engine.ForgetUser(c.UserContext(), uint(id)); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to erase user"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Put("/teams/:grouping", func(c *fiber.Ctx) error {
		grouping, err := strconv.ParseUint(c.Params("grouping"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid grouping id"})
		}
		var body teamRequest
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
		if err := engine.TeamAdmin.SetGroupingTeam(c.UserContext(), uint(grouping), body.TeamID); err != nil {
			if services.IsValidationError(err) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save team"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Delete("/teams/:grouping", func(c *fiber.Ctx) error {
		grouping, err := strconv.ParseUint(c.Params("grouping"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid grouping id"})
		}
		if err := engine.TeamAdmin.RemoveGroupingTeam(c.UserContext(), uint(grouping)); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to remove team"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Put("/rules", func(c *fiber.Ctx) error {
		var rule models.CompletionRule
		if err := c.BodyParser(&rule); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
		rule.ID = 0
		if err := engine.Calculator.SetRule(c.UserContext(), rule); err != nil {
			if services.IsValidationError(err) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save rule"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/push-queue", func(c *fiber.Ctx) error {
		var body pushRequest
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
		}
		ctx := c.UserContext()
		var (
			queued int
			err    error
		)
		switch {
		case body.All:
			queued, err = engine.PushQueue.EnqueueAll(ctx)
		case body.GroupingID != 0:
			queued, err = engine.PushQueue.EnqueueGroup(ctx, body.GroupingID)
		case body.UserID != 0:
			err = engine.PushQueue.Enqueue(ctx, body.UserID)
			queued = 1
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "one of user_id, grouping_id or all is required"})
		}
		if err != nil {
			log.Printf("[PUSH] ❌ enqueue failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to enqueue"})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": queued})
	})

	admin.Post("/caches/purge", func(c *fiber.Ctx) error {
		engine.PurgeCaches()
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Get("/events", services.StreamCoinsEarnedSSE(engine.Bus))

	admin.Get("/webhook/status", func(c *fiber.Ctx) error {
		last, err := engine.Webhooks.LastHit(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read webhook status"})
		}
		if last.IsZero() {
			return c.JSON(fiber.Map{"last_hit": nil})
		}
		return c.JSON(fiber.Map{"last_hit": last.Format(time.RFC3339)})
	})
}

// awardFailure maps a strict award error to a response. Remote failures get
// a generic notice; the details stay in the logs.
func awardFailure(c *fiber.Ctx, err error) error {
	var ce *services.ConfigurationError
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ce):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": ce.Code})
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Code, "message": ve.Message})
	case errors.Is(err, services.ErrAlreadyRecorded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already recorded"})
	}
	log.Printf("[AWARD] ❌ manual award failed: %v", err)
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "award failed"})
}

func loadUser(c *fiber.Ctx, db *gorm.DB) (*models.User, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}
	var user models.User
	if err := db.WithContext(c.UserContext()).First(&user, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to load user")
	}
	return &user, nil
}
