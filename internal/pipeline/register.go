package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/statement-ingest/internal/domain"
	"github.com/dvloznov/statement-ingest/internal/logger"
	"github.com/dvloznov/statement-ingest/internal/reader"
	"github.com/google/uuid"
)

// Upload is a new statement file.
type Upload struct {
	UserID   string
	Filename string
	Data     []byte
	// CardID is optional; a placeholder card is used when empty.
	CardID string
}

// Register stores the file and creates a pending statement for it. Unsupported
// or empty files are rejected before anything is stored.
func (o *Orchestrator) Register(ctx context.Context, up Upload) (*domain.Statement, error) {
	if strings.TrimSpace(up.UserID) == "" {
		return nil, fmt.Errorf("Register: user ID is required")
	}
	if len(up.Data) == 0 {
		return nil, fmt.Errorf("Register %s: %w", up.Filename, reader.ErrEmptyFile)
	}
	kind, err := reader.DetectKind(up.Filename, up.Data)
	if err != nil {
		return nil, fmt.Errorf("Register %s: %w", up.Filename, err)
	}

	id := uuid.NewString()
	filename := path.Base(strings.ReplaceAll(up.Filename, "\\", "/"))
	storagePath := path.Join(up.UserID, id, filename)
	if err := o.files.Put(ctx, storagePath, up.Data); err != nil {
		return nil, fmt.Errorf("Register %s: store file: %w", filename, err)
	}

	s := &domain.Statement{
		ID:                   id,
		UserID:               up.UserID,
		CardID:               up.CardID,
		Filename:             filename,
		StoragePath:          storagePath,
		FileKind:             kind,
		Status:               domain.StatusPending,
		ExtractionStatus:     domain.PhasePending,
		CategorizationStatus: domain.PhasePending,
		MaxRetries:           o.opts.MaxRetries,
		CreatedAt:            o.now().UTC(),
	}
	if err := o.statements.CreateStatement(ctx, s); err != nil {
		return nil, fmt.Errorf("Register %s: %w", filename, err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("statement_id", id).
		Str("user_id", up.UserID).
		Str("file_kind", string(kind)).
		Str("storage_path", storagePath).
		Msg("Statement registered")
	return s, nil
}
