package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// StreamCoinsEarnedSSE streams coins-earned events to the host as they
// happen. ?user_id= narrows the stream to one user.
func StreamCoinsEarnedSSE(bus *EventBus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var onlyUser uint
		if raw := c.Query("user_id"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid user_id"})
			}
			onlyUser = uint(id)
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		events := make(chan Event, 32)
		unsubscribe := bus.Subscribe(EventCoinsEarned, func(_ context.Context, ev Event) {
			earned, ok := ev.Payload.(CoinsEarned)
			if !ok || (onlyUser != 0 && earned.UserID != onlyUser) {
				return
			}
			select {
			case events <- ev:
			default:
				log.Printf("[SSE] dropping coins_earned for user %d, client too slow", earned.UserID)
			}
		})

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer unsubscribe()

			keepalive := time.NewTicker(15 * time.Second)
			defer keepalive.Stop()

			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case ev := <-events:
					payload, err := json.Marshal(ev.Payload)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload)
				case <-keepalive.C:
					w.WriteString(":\n\n")
				}
				// A failed flush means the client went away.
				if err := w.Flush(); err != nil {
					return
				}
			}
		})

		return nil
	}
}
