package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const uniqueViolationCode = "23505"

type txKey struct{}

// txState 当前事务句柄以及提交后需要执行的回调
type txState struct {
	db          *gorm.DB
	afterCommit []func()
}

// Transactor 事务边界
// 嵌套调用 WithTx 时加入外层事务，由最外层决定提交或回滚
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// GormTransactor 基于 gorm 的事务实现
type GormTransactor struct {
	db *gorm.DB
}

func NewTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

// WithTx 在事务中执行 fn，事务句柄通过 ctx 传递给仓储层
func (t *GormTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}

	state := &txState{}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state.db = tx
		return fn(context.WithValue(ctx, txKey{}, state))
	})
	if err != nil {
		return err
	}

	for _, cb := range state.afterCommit {
		cb()
	}
	return nil
}

// Conn 返回 ctx 中的事务句柄，不在事务中时返回 db
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if state := stateFrom(ctx); state != nil {
		return state.db
	}
	return db.WithContext(ctx)
}

// InTx 是否处于事务中
func InTx(ctx context.Context) bool {
	return stateFrom(ctx) != nil
}

// AfterCommit 注册最外层事务提交后的回调，回滚时丢弃
// 不在事务中时立即执行
func AfterCommit(ctx context.Context, fn func()) {
	if state := stateFrom(ctx); state != nil {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn()
}

// IsDuplicateKey 唯一约束冲突
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func stateFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}
