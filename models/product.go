package models

import (
	"context"
	"errors"
	"time"

	"github.com/marron15/gym-api/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Product struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Description string    `gorm:"type:text" json:"description"`
	Img         string    `gorm:"size:255" json:"img"`
	Status      string    `gorm:"size:20;default:'active'" json:"status"`
	Quantity    int       `gorm:"not null;default:0" json:"quantity"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// lockProductQuantity acquires an exclusive row lock on the product and
// returns its current available quantity. Must run inside an open
// transaction; the lock is held until that transaction commits or rolls
// back, which is what serializes concurrent reservations per product.
func lockProductQuantity(tx *gorm.DB, productId int) (int, error) {
	var product Product
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "quantity").
		Where("id = ?", productId).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return product.Quantity, nil
}

// debitProductQuantity deducts a hold from the ledger. The caller must have
// locked the row and verified sufficient stock in the same transaction; the
// quantity >= ? guard is a defensive check so a race can never drive the
// counter negative.
func debitProductQuantity(tx *gorm.DB, productId int, quantity int) error {
	result := tx.Exec(
		"UPDATE products SET quantity = quantity - ?, updated_at = ? WHERE id = ? AND quantity >= ?",
		quantity, time.Now(), productId, quantity,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// creditProductQuantity releases a hold back to the ledger. The UPDATE takes
// the exclusive row lock itself, so no prior locking read is needed.
func creditProductQuantity(tx *gorm.DB, productId int, quantity int) error {
	result := tx.Exec(
		"UPDATE products SET quantity = quantity + ?, updated_at = ? WHERE id = ?",
		quantity, time.Now(), productId,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

func GetProducts(ctx context.Context) ([]*Product, error) {
	db := config.GetDB()
	var products []*Product
	if err := db.WithContext(ctx).Order("created_at DESC").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func GetProductById(ctx context.Context, id int) (*Product, error) {
	db := config.GetDB()
	var product Product
	err := db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}
