package repository

import (
	"marketplace_backend/internal/domain/payment/model"

	"gorm.io/gorm"
)

type PaymentRepository interface {
	WithTx(tx *gorm.DB) PaymentRepository
	Transaction(fn func(tx *gorm.DB) error) error

	CreateTransaction(txn *model.PaymentTransaction) error
	GetTransactionByID(id string) (*model.PaymentTransaction, error)
	FindTransactionsByIntent(intentID string) ([]*model.PaymentTransaction, error)
	UpdateTransactionStatus(id, status string) error
	SetLedgerTx(id, ledgerTxID string) error
	FindInTransitTokenLegs() ([]*model.PaymentTransaction, error)
	BulkMarkChargeSucceeded(ids []string) (int64, error)

	CreateTransfer(transfer *model.PaymentTransfer) error
	FindTransfersByTransaction(paymentTransactionID string) ([]*model.PaymentTransfer, error)
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) WithTx(tx *gorm.DB) PaymentRepository {
	return &paymentRepository{db: tx}
}

func (r *paymentRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func (r *paymentRepository) CreateTransaction(txn *model.PaymentTransaction) error {
	return r.db.Create(txn).Error
}

func (r *paymentRepository) GetTransactionByID(id string) (*model.PaymentTransaction, error) {
	var txn model.PaymentTransaction
	if err := r.db.First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *paymentRepository) FindTransactionsByIntent(intentID string) ([]*model.PaymentTransaction, error) {
	var txns []*model.PaymentTransaction
	err := r.db.Where("payment_intent_id = ?", intentID).Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *paymentRepository) UpdateTransactionStatus(id, status string) error {
	return r.db.Model(&model.PaymentTransaction{}).Where("id = ?", id).
		Update("status", status).Error
}

func (r *paymentRepository) SetLedgerTx(id, ledgerTxID string) error {
	return r.db.Model(&model.PaymentTransaction{}).Where("id = ?", id).
		Update("ledger_tx_id", ledgerTxID).Error
}

// FindInTransitTokenLegs 对账任务轮询的对象：烧币已请求但尚未确认终态的积分腿
func (r *paymentRepository) FindInTransitTokenLegs() ([]*model.PaymentTransaction, error) {
	var txns []*model.PaymentTransaction
	err := r.db.Where("status = ? AND currency IS NULL AND ledger_tx_id IS NOT NULL",
		model.TxStatusInTransit).Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// BulkMarkChargeSucceeded 幂等批量推进，允许对账任务并发重叠执行
func (r *paymentRepository) BulkMarkChargeSucceeded(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&model.PaymentTransaction{}).
		Where("id IN ? AND status = ?", ids, model.TxStatusInTransit).
		Update("status", model.TxStatusChargeSucceeded)
	return result.RowsAffected, result.Error
}

func (r *paymentRepository) CreateTransfer(transfer *model.PaymentTransfer) error {
	return r.db.Create(transfer).Error
}

func (r *paymentRepository) FindTransfersByTransaction(paymentTransactionID string) ([]*model.PaymentTransfer, error) {
	var transfers []*model.PaymentTransfer
	err := r.db.Where("payment_transaction_id = ?", paymentTransactionID).
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}
