package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coinsync/config"
	"coinsync/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookTolerance is how old a webhook timestamp may be.
const WebhookTolerance = 600 * time.Second

const webhookSecretPrefix = "whsec_"

// Recognized webhook types.
const (
	WebhookRedemptionAccepted  = "redemption.request_accepted"
	WebhookRedemptionCompleted = "redemption.self_completed"
	WebhookAuctionWon          = "auction.won"
)

// WebhookHeaders are the signature headers of one delivery.
type WebhookHeaders struct {
	ID        string
	Signature string
	Timestamp string
}

type webhookEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type webhookPayload struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
	ItemName  string `json:"item_name,omitempty"`
}

// WebhookProcessor authenticates and dispatches webhook deliveries. Each
// delivery is decided on its own; nothing is kept between requests except the
// last-hit diagnostic.
type WebhookProcessor struct {
	Config   *config.Config
	DB       *gorm.DB
	Players  *PlayerMapper
	Balances *BalanceProxy
	Metadata *MetadataProxy
	Now      func() time.Time
}

// Handle processes one delivery. A nil error means 200; anything else is a
// *WebhookError carrying the status to answer with.
func (w *WebhookProcessor) Handle(ctx context.Context, h WebhookHeaders, body []byte) error {
	if !w.Config.Enabled {
		return newWebhookError(http.StatusServiceUnavailable, string(CodeFeatureDisabled))
	}
	if w.Config.Paused {
		return newWebhookError(http.StatusServiceUnavailable, string(CodeFeaturePaused))
	}

	if err := w.verify(h, body); err != nil {
		return err
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Type == "" {
		return newWebhookError(http.StatusBadRequest, "body must have a string type")
	}
	trimmed := bytes.TrimSpace(env.Payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return newWebhookError(http.StatusBadRequest, "body must have an object payload")
	}
	var payload webhookPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return newWebhookError(http.StatusBadRequest, "malformed payload")
	}
	if payload.AccountID != w.Config.AccountID {
		return newWebhookError(http.StatusForbidden, "account mismatch")
	}

	if err := w.recordHit(ctx); err != nil {
		return newWebhookError(http.StatusInternalServerError, "could not record webhook")
	}

	var kind models.NotificationKind
	switch env.Type {
	case WebhookRedemptionAccepted:
		kind = models.NotificationRedemptionAccepted
	case WebhookRedemptionCompleted:
		kind = models.NotificationRedemptionCompleted
	case WebhookAuctionWon:
		kind = models.NotificationAuctionWon
	default:
		log.Printf("[WEBHOOK] ignoring unrecognized type %q", env.Type)
		return nil
	}

	if err := w.notify(ctx, kind, payload, trimmed); err != nil {
		log.Printf("[WEBHOOK] %s handler failed: %v", env.Type, err)
		return newWebhookError(http.StatusInternalServerError, "internal error")
	}
	return nil
}

// LastHit returns the time of the last authenticated delivery, zero if none.
func (w *WebhookProcessor) LastHit(ctx context.Context) (time.Time, error) {
	var s models.Setting
	err := w.DB.WithContext(ctx).Where("name = ?", models.SettingLastWebhookHit).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ts, err := strconv.ParseInt(s.Value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last webhook hit: %w", err)
	}
	return time.Unix(ts, 0).UTC(), nil
}

func (w *WebhookProcessor) verify(h WebhookHeaders, body []byte) error {
	if h.ID == "" || h.Signature == "" || h.Timestamp == "" {
		return newWebhookError(http.StatusBadRequest, "missing signature headers")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(h.Timestamp), 10, 64)
	if err != nil {
		return newWebhookError(http.StatusBadRequest, "invalid timestamp")
	}
	age := w.now().Sub(time.Unix(ts, 0))
	if age > WebhookTolerance || age < -WebhookTolerance {
		return newWebhookError(http.StatusBadRequest, "timestamp outside tolerance")
	}

	sigs := parseSignatures(h.Signature)
	if len(sigs) == 0 {
		return newWebhookError(http.StatusBadRequest, "no usable signature")
	}

	key, err := decodeWebhookSecret(w.Config.WebhookSecret)
	if err != nil {
		return newWebhookError(http.StatusNotImplemented, err.Error())
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(h.ID))
	mac.Write([]byte{'.'})
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return newWebhookError(http.StatusUnauthorized, "signature mismatch")
}

// parseSignatures extracts the v1 signatures of a "v1,sig v1,sig" header.
func parseSignatures(header string) [][]byte {
	var out [][]byte
	for _, token := range strings.Fields(header) {
		version, encoded, ok := strings.Cut(token, ",")
		if !ok || version != "v1" {
			continue
		}
		sig, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(sig) == 0 {
			continue
		}
		out = append(out, sig)
	}
	return out
}

func decodeWebhookSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret is not configured")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, webhookSecretPrefix))
	if err != nil || len(key) == 0 {
		return nil, errors.New("webhook secret is malformed")
	}
	return key, nil
}

func (w *WebhookProcessor) recordHit(ctx context.Context) error {
	s := models.Setting{Name: models.SettingLastWebhookHit, Value: strconv.FormatInt(w.now().Unix(), 10)}
	return w.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&s).Error
}

func (w *WebhookProcessor) notify(ctx context.Context, kind models.NotificationKind, payload webhookPayload, raw []byte) error {
	if payload.UserID == "" {
		return nil
	}
	userID, err := w.Players.LocalUserID(ctx, payload.UserID)
	if errors.Is(err, ErrMappingNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var user models.User
	err = w.DB.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.IsSystem || user.Deleted {
		return nil
	}

	n := models.Notification{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Kind:        kind,
		Subject:     payload.ItemName,
		PayloadJSON: string(raw),
	}
	if err := w.DB.WithContext(ctx).Create(&n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	// Redemptions and auctions spend coins.
	w.Balances.Invalidate(user.ID)
	if w.Metadata != nil {
		w.Metadata.Invalidate(user.ID)
	}
	log.Printf("[WEBHOOK] %s notification for user %d", kind, user.ID)
	return nil
}

func (w *WebhookProcessor) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
