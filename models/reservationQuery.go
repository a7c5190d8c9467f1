package models

import (
	"context"
	"fmt"
	"time"

	"github.com/marron15/gym-api/config"
	"github.com/marron15/gym-api/utils"
	"github.com/sirupsen/logrus"
)

const reservationListKeySet = "ReservationList:keys"

// ReservationView is a reservation row enriched with display-only joins.
// It is a read projection: hold/release decisions must never be made from
// it, only from the engine's locked reads.
type ReservationView struct {
	ID                 int               `json:"id"`
	CustomerId         int               `json:"customer_id"`
	ProductId          int               `json:"product_id"`
	Quantity           int               `json:"quantity"`
	Notes              string            `json:"notes"`
	Status             ReservationStatus `json:"status"`
	DeclineNote        string            `json:"decline_note"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ProductName        string            `json:"product_name"`
	ProductDescription string            `json:"product_description"`
	FirstName          string            `json:"first_name"`
	LastName           string            `json:"last_name"`
	Email              string            `json:"email"`
}

// GetReservations lists reservations newest first, optionally filtered by
// status. Served from a short-TTL cache when redis is up; a slightly stale
// snapshot is acceptable for listings.
func GetReservations(ctx context.Context, status string) ([]*ReservationView, error) {
	var filter *ReservationStatus
	if status != "" {
		parsed, err := ParseReservationStatus(status)
		if err != nil {
			return nil, err
		}
		filter = &parsed
	}

	cacheKey := "ReservationList:all"
	if filter != nil {
		cacheKey = "ReservationList:status:" + string(*filter)
	}
	var cached []*ReservationView
	if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	views, err := queryReservationViews(ctx, filter, 0)
	if err != nil {
		return nil, err
	}
	cacheReservationListing(cacheKey, views)
	return views, nil
}

// GetReservationsByCustomer lists one customer's reservations newest first,
// optionally filtered by status.
func GetReservationsByCustomer(ctx context.Context, customerId int, status string) ([]*ReservationView, error) {
	var filter *ReservationStatus
	if status != "" {
		parsed, err := ParseReservationStatus(status)
		if err != nil {
			return nil, err
		}
		filter = &parsed
	}

	cacheKey := fmt.Sprintf("ReservationList:customer:%d", customerId)
	if filter != nil {
		cacheKey = fmt.Sprintf("ReservationList:customer:%d:status:%s", customerId, *filter)
	}
	var cached []*ReservationView
	if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	views, err := queryReservationViews(ctx, filter, customerId)
	if err != nil {
		return nil, err
	}
	cacheReservationListing(cacheKey, views)
	return views, nil
}

func queryReservationViews(ctx context.Context, status *ReservationStatus, customerId int) ([]*ReservationView, error) {
	db := config.GetDB()

	query := db.WithContext(ctx).
		Table("reserved_products AS rp").
		Select("rp.id, rp.customer_id, rp.product_id, rp.quantity, rp.notes, rp.status, rp.decline_note, rp.created_at, rp.updated_at, " +
			"p.name AS product_name, p.description AS product_description, " +
			"c.first_name, c.last_name, c.email").
		Joins("LEFT JOIN products p ON p.id = rp.product_id").
		Joins("LEFT JOIN customers c ON c.id = rp.customer_id").
		Order("rp.created_at DESC, rp.id DESC")

	if status != nil {
		query = query.Where("rp.status = ?", *status)
	}
	if customerId > 0 {
		query = query.Where("rp.customer_id = ?", customerId)
	}

	var views []*ReservationView
	if err := query.Scan(&views).Error; err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return views, nil
}

func cacheReservationListing(key string, views []*ReservationView) {
	if err := utils.CacheList(reservationListKeySet, key, views); err != nil {
		config.LogError(config.GetLogger(), "reservationQuery.go", "cacheReservationListing", key, nil, err)
	}
}

func invalidateReservationListings(logger *logrus.Logger) {
	if err := utils.InvalidateListCache(reservationListKeySet); err != nil {
		config.LogError(logger, "reservationQuery.go", "invalidateReservationListings", "InvalidateListCache", nil, err)
	}
}
