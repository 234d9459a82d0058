package billing

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/askthestars/askthestars/app/models"
)

var errLedgerConflict = errors.New("event recorded concurrently")

// GormStore is the SQL Store backend. Writes for one user are serialized by a
// row lock on the entitlement row; the event ledger has a unique event id.
type GormStore struct {
	db  *gorm.DB
	now clock
}

// NewGormStore creates a store backed by a GORM DB handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	var rec models.Entitlement
	err := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) UpsertMerge(ctx context.Context, userID string, p Patch) (WriteResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidRequest
	}

	var wr WriteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now.now()

		// Make sure there is a row to lock.
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(models.NewDefaultEntitlement(userID, now)).Error; err != nil {
			return err
		}

		var rec models.Entitlement
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&rec).Error; err != nil {
			return err
		}

		if p.EventID != "" {
			var count int64
			if err := tx.Model(&models.BillingWebhookEvent{}).
				Where("provider_event_id = ?", p.EventID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				wr = WriteDuplicate
				return nil
			}
		}

		seen := false
		if needsSubscriptionLookup(&rec, p) {
			var count int64
			if err := tx.Model(&models.BillingWebhookEvent{}).
				Where("subscription_id = ?", *p.GatewaySubscriptionID).
				Count(&count).Error; err != nil {
				return err
			}
			seen = count > 0
		}

		wr = guardPatch(&rec, p, seen)
		if wr == WriteDeferred {
			return nil
		}
		if wr == WriteApplied {
			fields := applyPatch(&rec, p, now)
			if err := tx.Model(&rec).Select(fields).Updates(&rec).Error; err != nil {
				return err
			}
		}

		if p.EventID == "" {
			return nil
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(ledgerEntry(userID, p, wr, now))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLedgerConflict
		}
		return nil
	})
	if errors.Is(err, errLedgerConflict) {
		return WriteDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return wr, nil
}

func (s *GormStore) EventApplied(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).
		Where("provider_event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) EnsureDefault(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidRequest
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(models.NewDefaultEntitlement(userID, s.now.now())).Error
}
