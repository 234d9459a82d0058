package billing

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gofiber/fiber/v2/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/askthestars/askthestars/app/models"
	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

// DefaultEventsCollection holds one ledger document per applied event id.
const DefaultEventsCollection = "billingEvents"

// FirestoreStore keeps the entitlement fields on the user document. Writes run
// in a Firestore transaction that reads the user and ledger documents before
// merging, so concurrent deliveries for one user retry instead of racing.
type FirestoreStore struct {
	client *firestore.Client
	users  string
	events string
	now    clock
}

// NewFirestoreStore creates a store over the given users collection.
func NewFirestoreStore(client *firestore.Client, usersCollection string) *FirestoreStore {
	if strings.TrimSpace(usersCollection) == "" {
		usersCollection = "users"
	}
	return &FirestoreStore{
		client: client,
		users:  usersCollection,
		events: DefaultEventsCollection,
	}
}

func (s *FirestoreStore) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrNotFound
	}
	snap, err := s.client.Collection(s.users).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entitlementFromSnapshot(userID, snap)
}

func (s *FirestoreStore) UpsertMerge(ctx context.Context, userID string, p Patch) (WriteResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrInvalidRequest
	}

	userRef := s.client.Collection(s.users).Doc(userID)
	var eventRef *firestore.DocumentRef
	if p.EventID != "" {
		eventRef = s.client.Collection(s.events).Doc(p.EventID)
	}

	var wr WriteResult
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := s.now.now()

		// All reads happen before any write.
		if eventRef != nil {
			_, err := tx.Get(eventRef)
			if err == nil {
				wr = WriteDuplicate
				return nil
			}
			if status.Code(err) != codes.NotFound {
				return err
			}
		}

		rec := models.NewDefaultEntitlement(userID, now)
		exists := false
		snap, err := tx.Get(userRef)
		switch {
		case err == nil:
			if rec, err = entitlementFromSnapshot(userID, snap); err != nil {
				return err
			}
			exists = true
		case status.Code(err) != codes.NotFound:
			return err
		}

		seen := false
		if needsSubscriptionLookup(rec, p) {
			q := s.client.Collection(s.events).
				Where("subscriptionId", "==", *p.GatewaySubscriptionID).
				Limit(1)
			docs, err := tx.Documents(q).GetAll()
			if err != nil {
				return err
			}
			seen = len(docs) > 0
		}

		wr = guardPatch(rec, p, seen)
		if wr == WriteDeferred {
			return nil
		}
		if wr == WriteApplied {
			fields := applyPatch(rec, p, now)
			data := firestoreFields(rec, fields)
			if !exists {
				data["userId"] = userID
				data["createdAt"] = rec.CreatedAt
				if _, ok := data["status"]; !ok {
					data["status"] = string(rec.Status)
				}
			}
			if err := tx.Set(userRef, data, firestore.MergeAll); err != nil {
				return err
			}
		}
		if eventRef != nil {
			return tx.Create(eventRef, ledgerEntry(userID, p, wr, now))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return wr, nil
}

func (s *FirestoreStore) EventApplied(ctx context.Context, eventID string) (bool, error) {
	_, err := s.client.Collection(s.events).Doc(eventID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FirestoreStore) EnsureDefault(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidRequest
	}
	_, err := s.client.Collection(s.users).Doc(userID).Create(ctx, models.NewDefaultEntitlement(userID, s.now.now()))
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

func entitlementFromSnapshot(userID string, snap *firestore.DocumentSnapshot) (*models.Entitlement, error) {
	return entitlementFromData(userID, snap.Data()), nil
}

// entitlementFromData reads the entitlement fields of a user document.
// Timestamps may be Firestore timestamps or ISO-8601 strings written by older
// clients; unreadable values are dropped and replaced on the next write.
func entitlementFromData(userID string, data map[string]interface{}) *models.Entitlement {
	rec := models.NewDefaultEntitlement(userID, time.Time{})

	str := func(key string) string {
		v, _ := data[key].(string)
		return strings.TrimSpace(v)
	}
	ts := func(key string) *time.Time {
		switch v := data[key].(type) {
		case time.Time:
			t := v.UTC()
			return &t
		case string:
			t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
			if err != nil {
				if v != "" {
					log.Warnf("[Store] User %s has unreadable %s %q", userID, key, v)
				}
				return nil
			}
			t = t.UTC()
			return &t
		default:
			return nil
		}
	}

	rec.GatewayCustomerID = str("gatewayCustomerId")
	rec.GatewaySubscriptionID = str("gatewaySubscriptionId")
	rec.Plan = entitlements.Plan(str("plan"))
	if st := str("status"); st != "" {
		rec.Status = entitlements.Status(st)
	}
	rec.PeriodEnd = ts("periodEnd")
	if rec.PeriodEnd == nil {
		rec.PeriodEnd = ts("subscriptionEndDate")
	}
	rec.CancelAtPeriodEnd, _ = data["cancelAtPeriodEnd"].(bool)
	rec.LastPaymentDate = ts("lastPaymentDate")
	rec.LastPaymentFailureDate = ts("lastPaymentFailureDate")
	rec.LastEventAt = ts("lastEventAt")
	if t := ts("createdAt"); t != nil {
		rec.CreatedAt = *t
	}
	if t := ts("updatedAt"); t != nil {
		rec.UpdatedAt = *t
	}
	return rec
}

// firestoreFields renders the written fields as a merge map keyed by the
// document field names.
func firestoreFields(rec *models.Entitlement, fields []string) map[string]interface{} {
	data := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		switch f {
		case fieldGatewayCustomerID:
			data["gatewayCustomerId"] = rec.GatewayCustomerID
		case fieldGatewaySubscriptionID:
			data["gatewaySubscriptionId"] = rec.GatewaySubscriptionID
		case fieldPlan:
			data["plan"] = string(rec.Plan)
		case fieldStatus:
			data["status"] = string(rec.Status)
		case fieldPeriodEnd:
			data["periodEnd"] = rec.PeriodEnd
		case fieldCancelAtPeriodEnd:
			data["cancelAtPeriodEnd"] = rec.CancelAtPeriodEnd
		case fieldLastPaymentDate:
			data["lastPaymentDate"] = rec.LastPaymentDate
		case fieldLastPaymentFailureDate:
			data["lastPaymentFailureDate"] = rec.LastPaymentFailureDate
		case fieldLastEventAt:
			data["lastEventAt"] = rec.LastEventAt
		case fieldUpdatedAt:
			data["updatedAt"] = rec.UpdatedAt
		}
	}
	return data
}
