package repository

import (
	"context"
	"errors"
	"time"

	"course_market/internal/domain/ledger/model"
	"course_market/pkg/database"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
)

var ErrConcurrentAppend = errors.New("ledger entry conflicts with a concurrent append")

type LedgerRepository interface {
	// Latest 最新一条流水，无流水时返回 nil
	Latest(ctx context.Context, instructorID uint) (*model.BalanceTransaction, error)
	Append(ctx context.Context, entry *model.BalanceTransaction) error
	List(ctx context.Context, instructorID uint, offset, limit int) ([]model.BalanceTransaction, int64, error)
	// History 全部流水，时间正序
	History(ctx context.Context, instructorID uint) ([]model.BalanceTransaction, error)
	Earnings(ctx context.Context, instructorID uint, from, to time.Time) ([]model.EarningsRow, error)
}

type ledgerRepository struct {
	db  *gorm.DB
	// 报表查询走 sqlx
	rdb *sqlx.DB
}

func NewLedgerRepository(db *gorm.DB, rdb *sqlx.DB) LedgerRepository {
	return &ledgerRepository{db: db, rdb: rdb}
}

func (r *ledgerRepository) Latest(ctx context.Context, instructorID uint) (*model.BalanceTransaction, error) {
	var entry model.BalanceTransaction
	err := database.Conn(ctx, r.db).
		Where("instructor_id = ?", instructorID).
		Order("sequence DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *ledgerRepository) Append(ctx context.Context, entry *model.BalanceTransaction) error {
	err := database.Conn(ctx, r.db).Create(entry).Error
	if database.IsDuplicateKey(err) {
		return ErrConcurrentAppend
	}
	return err
}

func (r *ledgerRepository) List(ctx context.Context, instructorID uint, offset, limit int) ([]model.BalanceTransaction, int64, error) {
	var (
		list  []model.BalanceTransaction
		total int64
	)
	db := database.Conn(ctx, r.db).Model(&model.BalanceTransaction{}).Where("instructor_id = ?", instructorID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&list).Error
	return list, total, err
}

func (r *ledgerRepository) History(ctx context.Context, instructorID uint) ([]model.BalanceTransaction, error) {
	var list []model.BalanceTransaction
	err := database.Conn(ctx, r.db).
		Where("instructor_id = ?", instructorID).
		Order("sequence ASC").
		Find(&list).Error
	return list, err
}

const earningsQuery = `
SELECT type, COUNT(*) AS entry_count, COALESCE(SUM(amount), 0) AS total_amount
FROM balance_transactions
WHERE instructor_id = $1 AND created_at >= $2 AND created_at < $3
GROUP BY type
ORDER BY type`

func (r *ledgerRepository) Earnings(ctx context.Context, instructorID uint, from, to time.Time) ([]model.EarningsRow, error) {
	var rows []model.EarningsRow
	if err := r.rdb.SelectContext(ctx, &rows, earningsQuery, instructorID, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}
