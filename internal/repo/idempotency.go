package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/bookworm-backend/internal/domain"
)

// ErrDuplicate reports a unique key that is already taken: a live
// idempotency record for (user, chat, key) or a registered email.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns the record stored for key in chatID by userID
// while it is live at now, or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, chatID uint, key string, now time.Time) (*domain.Idempotency, error) {
	if chatID == 0 || strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND chat_id = ? AND key = ? AND expires_at > ?", userID, chatID, key, now).
		Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency records messageID as the answer to key for ttl. An
// expired record under the same key is overwritten; a live one yields
// ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, chatID uint, key string, messageID uint, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		UserID:    userID,
		ChatID:    chatID,
		Key:       key,
		MessageID: messageID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "chat_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"message_id", "status", "created_at", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Table: domain.Idempotency{}.TableName(), Name: "expires_at"}, Value: now},
		}},
	}).Create(rec)
	switch {
	case isUniqueViolation(res.Error):
		return nil, ErrDuplicate
	case res.Error != nil:
		return nil, res.Error
	case res.RowsAffected == 0:
		// The conflicting record is still live.
		return nil, ErrDuplicate
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records that expired at or before now and
// returns how many went.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// SweepIdempotency purges expired records every interval until ctx ends.
// Failures are logged and retried on the next tick.
func SweepIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := PurgeExpiredIdempotency(ctx, db, now.UTC())
			switch {
			case err != nil && ctx.Err() == nil:
				log.Warn().Err(err).Msg("purge idempotency records")
			case n > 0:
				log.Debug().Int64("purged", n).Msg("idempotency records expired")
			}
		}
	}
}
