package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marron15/gym-api/config"
	"github.com/marron15/gym-api/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReservedProduct struct {
	ID          int               `gorm:"primary_key" json:"id"`
	CustomerId  int               `gorm:"index;not null" json:"customer_id"`
	ProductId   int               `gorm:"index;not null" json:"product_id"`
	Quantity    int               `gorm:"not null" json:"quantity"`
	Notes       string            `gorm:"type:text" json:"notes"`
	Status      ReservationStatus `gorm:"type:enum('pending','accepted','declined','cancelled');default:'pending';index" json:"status"`
	DeclineNote string            `gorm:"type:text" json:"decline_note"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewReservation struct {
	CustomerId int    `json:"customer_id" binding:"required"`
	ProductId  int    `json:"product_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
	Notes      string `json:"notes"`
}

// ReservationStatusChange is the result of a status transition. Changed is
// false when the reservation was already in the requested status (idempotent
// no-op: nothing was re-applied to the ledger).
type ReservationStatusChange struct {
	ReservationId  int               `json:"reservation_id"`
	PreviousStatus ReservationStatus `json:"previous_status"`
	NewStatus      ReservationStatus `json:"new_status"`
	Changed        bool              `json:"changed"`
}

// CreateReservation places a hold: locks the product's stock row, verifies
// availability, inserts the reservation in pending and debits the ledger,
// all in one transaction. Either both rows change or neither does.
func CreateReservation(ctx context.Context, input *NewReservation) (*ReservedProduct, error) {
	if input.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("create reservation: begin: %w", tx.Error)
	}

	availableQty, err := lockProductQuantity(tx, input.ProductId)
	if err != nil {
		tx.Rollback()
		if !errors.Is(err, ErrProductNotFound) {
			logReservationError(ctx, logger, "CreateReservation", "lockProductQuantity", input, err)
			return nil, fmt.Errorf("create reservation: lock product %d: %w", input.ProductId, err)
		}
		return nil, err
	}

	if availableQty < input.Quantity {
		tx.Rollback()
		return nil, ErrInsufficientStock
	}

	reservation := ReservedProduct{
		CustomerId: input.CustomerId,
		ProductId:  input.ProductId,
		Quantity:   input.Quantity,
		Notes:      input.Notes,
		Status:     ReservationStatusPending,
	}
	if err := tx.Create(&reservation).Error; err != nil {
		tx.Rollback()
		logReservationError(ctx, logger, "CreateReservation", "tx.Create", input, err)
		return nil, fmt.Errorf("create reservation: insert: %w", err)
	}

	if err := debitProductQuantity(tx, input.ProductId, input.Quantity); err != nil {
		tx.Rollback()
		if errors.Is(err, ErrInsufficientStock) {
			return nil, err
		}
		logReservationError(ctx, logger, "CreateReservation", "debitProductQuantity", input, err)
		return nil, fmt.Errorf("create reservation: debit product %d: %w", input.ProductId, err)
	}

	if err := tx.Commit().Error; err != nil {
		logReservationError(ctx, logger, "CreateReservation", "tx.Commit", input, err)
		return nil, fmt.Errorf("create reservation: commit: %w", err)
	}

	invalidateReservationListings(logger)
	return &reservation, nil
}

// UpdateReservationStatus moves a reservation between statuses and keeps the
// product ledger in step:
//
//   - active -> inactive credits the held quantity back
//   - inactive -> active re-verifies stock under lock and debits it again
//   - active -> active and inactive -> inactive leave the ledger alone
//
// Setting the current status again is a no-op that reports Changed=false.
func UpdateReservationStatus(ctx context.Context, reservationId int, status string, declineNote string) (*ReservationStatusChange, error) {
	newStatus, err := ParseReservationStatus(status)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("update reservation status: begin: %w", tx.Error)
	}

	var reservation ReservedProduct
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", reservationId).
		First(&reservation).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		logReservationError(ctx, logger, "UpdateReservationStatus", "lock reservation", reservationId, err)
		return nil, fmt.Errorf("update reservation status: lock reservation %d: %w", reservationId, err)
	}

	currentStatus, err := ParseReservationStatus(string(reservation.Status))
	if err != nil {
		// The status column is outside the enum: data-integrity violation.
		tx.Rollback()
		logReservationError(ctx, logger, "UpdateReservationStatus", "stored status", reservation.Status, err)
		return nil, err
	}

	change := &ReservationStatusChange{
		ReservationId:  reservationId,
		PreviousStatus: currentStatus,
		NewStatus:      newStatus,
	}

	if currentStatus == newStatus {
		tx.Rollback()
		return change, nil
	}

	wasActive := currentStatus.IsActive()
	becomesActive := newStatus.IsActive()

	if wasActive && !becomesActive {
		// Release the hold.
		if err := creditProductQuantity(tx, reservation.ProductId, reservation.Quantity); err != nil {
			tx.Rollback()
			logReservationError(ctx, logger, "UpdateReservationStatus", "creditProductQuantity", reservation, err)
			return nil, fmt.Errorf("update reservation status: credit product %d: %w", reservation.ProductId, err)
		}
	} else if !wasActive && becomesActive {
		// Re-open: the freed stock may have been claimed since, so verify
		// under lock before debiting again.
		availableQty, err := lockProductQuantity(tx, reservation.ProductId)
		if err != nil {
			tx.Rollback()
			if !errors.Is(err, ErrProductNotFound) {
				logReservationError(ctx, logger, "UpdateReservationStatus", "lockProductQuantity", reservation, err)
				return nil, fmt.Errorf("update reservation status: lock product %d: %w", reservation.ProductId, err)
			}
			return nil, err
		}
		if availableQty < reservation.Quantity {
			tx.Rollback()
			return nil, ErrInsufficientStock
		}
		if err := debitProductQuantity(tx, reservation.ProductId, reservation.Quantity); err != nil {
			tx.Rollback()
			if errors.Is(err, ErrInsufficientStock) {
				return nil, err
			}
			logReservationError(ctx, logger, "UpdateReservationStatus", "debitProductQuantity", reservation, err)
			return nil, fmt.Errorf("update reservation status: debit product %d: %w", reservation.ProductId, err)
		}
	}

	updates := map[string]any{
		"status":     newStatus,
		"updated_at": time.Now(),
	}
	if newStatus == ReservationStatusDeclined && declineNote != "" {
		updates["decline_note"] = declineNote
	}
	if err := tx.Model(&ReservedProduct{}).Where("id = ?", reservationId).Updates(updates).Error; err != nil {
		tx.Rollback()
		logReservationError(ctx, logger, "UpdateReservationStatus", "persist status", reservation, err)
		return nil, fmt.Errorf("update reservation status: persist %d: %w", reservationId, err)
	}

	if err := tx.Commit().Error; err != nil {
		logReservationError(ctx, logger, "UpdateReservationStatus", "tx.Commit", reservation, err)
		return nil, fmt.Errorf("update reservation status: commit: %w", err)
	}

	change.Changed = true
	invalidateReservationListings(logger)
	return change, nil
}

func logReservationError(ctx context.Context, logger *logrus.Logger, funcName string, context string, data any, err error) {
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		logger.WithFields(logrus.Fields{
			"module":        "reservation.go",
			"funcName":      funcName,
			"context":       context,
			"correlationId": cid,
			"data":          data,
		}).Error(err.Error())
		return
	}
	config.LogError(logger, "reservation.go", funcName, context, data, err)
}
