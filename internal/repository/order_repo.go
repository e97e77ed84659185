package repository

import (
	"errors"
	"time"

	"github.com/papertrade-sim/internal/models"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepository handles order data access
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create creates a new order
func (r *OrderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByID retrieves an order by ID
func (r *OrderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	result := r.db.First(&order, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, result.Error
	}
	return &order, nil
}

// GetByClientOrderID retrieves an order by client order ID
func (r *OrderRepository) GetByClientOrderID(accountID uint, clientOrderID string) (*models.Order, error) {
	var order models.Order
	result := r.db.Where("account_id = ? AND client_order_id = ?", accountID, clientOrderID).First(&order)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, result.Error
	}
	return &order, nil
}

// GetByAccountIDPaginated retrieves orders with pagination
func (r *OrderRepository) GetByAccountIDPaginated(accountID uint, page, pageSize int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	if err := r.db.Model(&models.Order{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("account_id = ?", accountID).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&orders)

	return orders, total, result.Error
}

// GetOpenOrders retrieves all open orders for an account
func (r *OrderRepository) GetOpenOrders(accountID uint) ([]models.Order, error) {
	var orders []models.Order
	result := r.db.Where("account_id = ? AND status IN ?", accountID, []models.OrderStatus{
		models.OrderStatusNew,
		models.OrderStatusPartiallyFilled,
	}).Find(&orders)
	return orders, result.Error
}

// Update updates an order
func (r *OrderRepository) Update(order *models.Order) error {
	return r.db.Save(order).Error
}

// CancelAllOpenOrders cancels all open orders for an account
func (r *OrderRepository) CancelAllOpenOrders(accountID uint) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("account_id = ? AND status IN ?", accountID, []models.OrderStatus{
			models.OrderStatusNew,
			models.OrderStatusPartiallyFilled,
		}).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusCanceled,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// CancelAllOpenOrdersBySymbol cancels all open orders for a symbol
func (r *OrderRepository) CancelAllOpenOrdersBySymbol(accountID uint, symbol string) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("account_id = ? AND symbol = ? AND status IN ?", accountID, symbol, []models.OrderStatus{
			models.OrderStatusNew,
			models.OrderStatusPartiallyFilled,
		}).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusCanceled,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}
