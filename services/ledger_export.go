package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"coinsync/config"
	"coinsync/models"
	"coinsync/utils"

	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

const exportTimeLayout = "20060102T150405Z"

// LedgerExporter copies ledger rows to object storage as JSON lines.
type LedgerExporter struct {
	Config *config.Config
	DB     *gorm.DB
	Store  utils.ObjectStore
}

// ExportResult describes one uploaded file.
type ExportResult struct {
	Key     string `json:"key"`
	Entries int    `json:"entries"`
}

// ExportKey is the object key of the [from, to) window.
func ExportKey(accountID string, from, to time.Time) string {
	account := slug.Make(accountID)
	if account == "" {
		account = "default"
	}
	return fmt.Sprintf("ledger/%s/%s_%s.jsonl", account,
		from.UTC().Format(exportTimeLayout), to.UTC().Format(exportTimeLayout))
}

// Export uploads every entry created in [from, to). An empty window still
// produces an (empty) file so gaps are visible.
func (e *LedgerExporter) Export(ctx context.Context, from, to time.Time) (ExportResult, error) {
	if e.Store == nil {
		return ExportResult{}, fmt.Errorf("ledger export: object store is not configured")
	}
	if !to.After(from) {
		return ExportResult{}, &ValidationError{Code: CodeInvalidWindow, Message: "export window is empty"}
	}

	var entries []models.AwardLedgerEntry
	err := e.DB.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.Unix(), to.Unix()).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return ExportResult{}, fmt.Errorf("read ledger: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return ExportResult{}, fmt.Errorf("encode ledger entry: %w", err)
		}
	}
	count := len(entries)

	key := ExportKey(e.Config.AccountID, from, to)
	if err := e.Store.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return ExportResult{}, err
	}
	log.Printf("[EXPORT] ✅ %d ledger entries written to %s", count, key)
	return ExportResult{Key: key, Entries: count}, nil
}
