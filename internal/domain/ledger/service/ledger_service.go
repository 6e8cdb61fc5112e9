package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"course_market/internal/domain/ledger/model"
	"course_market/internal/domain/ledger/repository"
	"course_market/pkg/apperr"
	"course_market/pkg/database"
	"course_market/pkg/metrics"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficientBalance, "insufficient balance")
	ErrInvalidAmount       = apperr.New(apperr.KindValidation, "ledger amount must be positive")
	ErrCurrencyMismatch    = apperr.New(apperr.KindValidation, "ledger only accepts base currency")
	ErrNoteRequired        = apperr.New(apperr.KindValidation, "adjustment note is required")
	ErrConcurrentWrite     = apperr.New(apperr.KindStateConflict, "concurrent ledger write, retry")
)

// LedgerService 讲师余额账本
// 所有写操作加入调用方事务，调用方不在事务中时自行开启
type LedgerService interface {
	CreditSale(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, orderItemID uint) (*model.BalanceTransaction, error)
	DebitWithdrawal(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, payoutID uint) (*model.BalanceTransaction, error)
	// Adjust 人工调账，amount 为正加款、为负扣款
	Adjust(ctx context.Context, instructorID uint, amount decimal.Decimal, note string, adminID uint) (*model.BalanceTransaction, error)
	GetBalance(ctx context.Context, instructorID uint) (decimal.Decimal, error)
	ListEntries(ctx context.Context, instructorID uint, offset, limit int) ([]model.BalanceTransaction, int64, error)
	EarningsSummary(ctx context.Context, instructorID uint, from, to time.Time) (*EarningsSummary, error)
	VerifyChain(ctx context.Context, instructorID uint) (*ChainReport, error)
}

type EarningsSummary struct {
	InstructorID uint                `json:"instructorId"`
	Currency     string              `json:"currency"`
	From         time.Time           `json:"from"`
	To           time.Time           `json:"to"`
	Rows         []model.EarningsRow `json:"rows"`
	Net          decimal.Decimal     `json:"net"`
}

// ChainReport 流水校验结果
type ChainReport struct {
	InstructorID uint            `json:"instructorId"`
	Entries      int             `json:"entries"`
	Sum          decimal.Decimal `json:"sum"`
	Balance      decimal.Decimal `json:"balance"`
	Consistent   bool            `json:"consistent"`

	// FirstDriftID 第一条 running balance 与累加值不一致的流水
	FirstDriftID *uint `json:"firstDriftId,omitempty"`
}

type ledgerService struct {
	repo         repository.LedgerRepository
	tx           database.Transactor
	baseCurrency string
	log          *zap.Logger
	metrics      *metrics.MetricsCollector
	now          func() time.Time
}

func NewLedgerService(repo repository.LedgerRepository, tx database.Transactor, baseCurrency string, log *zap.Logger, m *metrics.MetricsCollector) LedgerService {
	return &ledgerService{
		repo:         repo,
		tx:           tx,
		baseCurrency: money.Normalize(baseCurrency),
		log:          log.With(zap.String("component", "ledger")),
		metrics:      m,
		now:          time.Now,
	}
}

func (s *ledgerService) CreditSale(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, orderItemID uint) (*model.BalanceTransaction, error) {
	if err := s.checkCurrency(currency); err != nil {
		return nil, err
	}
	// 0 元课程也记一条流水，保证每个订单项都有对应的入账记录
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	return s.append(ctx, &model.BalanceTransaction{
		InstructorID:      instructorID,
		Type:              model.TypeCreditSale,
		Amount:            amount,
		RelatedEntityType: model.RelatedOrderItem,
		RelatedEntityID:   orderItemID,
	}, false)
}

func (s *ledgerService) DebitWithdrawal(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, payoutID uint) (*model.BalanceTransaction, error) {
	if err := s.checkCurrency(currency); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return s.append(ctx, &model.BalanceTransaction{
		InstructorID:      instructorID,
		Type:              model.TypeDebitWithdrawal,
		Amount:            amount.Neg(),
		RelatedEntityType: model.RelatedPayout,
		RelatedEntityID:   payoutID,
	}, true)
}

func (s *ledgerService) Adjust(ctx context.Context, instructorID uint, amount decimal.Decimal, note string, adminID uint) (*model.BalanceTransaction, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrNoteRequired
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	entryType := model.TypeAdjustmentAdd
	if amount.IsNegative() {
		entryType = model.TypeAdjustmentSub
	}
	return s.append(ctx, &model.BalanceTransaction{
		InstructorID:      instructorID,
		Type:              entryType,
		Amount:            amount,
		RelatedEntityType: model.RelatedAdmin,
		RelatedEntityID:   adminID,
		Note:              note,
	}, amount.IsNegative())
}

// append 读取上一条流水并追加新流水，mustCover 为 true 时余额不允许变为负数
func (s *ledgerService) append(ctx context.Context, entry *model.BalanceTransaction, mustCover bool) (*model.BalanceTransaction, error) {
	entry.Amount = money.Round(entry.Amount, s.baseCurrency)
	entry.Currency = s.baseCurrency

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		prev, err := s.repo.Latest(ctx, entry.InstructorID)
		if err != nil {
			return err
		}

		balance := decimal.Zero
		var seq int64
		createdAt := s.now()
		if prev != nil {
			balance = prev.RunningBalanceAfter
			seq = prev.Sequence
			// 主机时钟回拨时保持时间顺序与 sequence 一致
			if !createdAt.After(prev.CreatedAt) {
				createdAt = prev.CreatedAt.Add(time.Microsecond)
			}
		}

		after := balance.Add(entry.Amount)
		if mustCover && after.IsNegative() {
			return ErrInsufficientBalance
		}

		entry.Sequence = seq + 1
		entry.RunningBalanceAfter = after
		entry.CreatedAt = createdAt
		if err := s.repo.Append(ctx, entry); err != nil {
			if errors.Is(err, repository.ErrConcurrentAppend) {
				s.log.Warn("Concurrent ledger append detected",
					zap.Uint("instructor_id", entry.InstructorID),
					zap.Int64("sequence", entry.Sequence),
				)
				return ErrConcurrentWrite.Wrap(err)
			}
			return err
		}

		database.AfterCommit(ctx, func() {
			if s.metrics != nil {
				s.metrics.RecordLedgerEntry(entry.Type)
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Ledger entry appended",
		zap.Uint("instructor_id", entry.InstructorID),
		zap.String("type", entry.Type),
		zap.String("amount", entry.Amount.String()),
		zap.String("balance", entry.RunningBalanceAfter.String()),
		zap.String("related_type", entry.RelatedEntityType),
		zap.Uint("related_id", entry.RelatedEntityID),
	)
	return entry, nil
}

func (s *ledgerService) checkCurrency(currency string) error {
	if money.Normalize(currency) != s.baseCurrency {
		return ErrCurrencyMismatch.WithReason(currency)
	}
	return nil
}

func (s *ledgerService) GetBalance(ctx context.Context, instructorID uint) (decimal.Decimal, error) {
	latest, err := s.repo.Latest(ctx, instructorID)
	if err != nil {
		return decimal.Zero, err
	}
	if latest == nil {
		return decimal.Zero, nil
	}
	return latest.RunningBalanceAfter, nil
}

func (s *ledgerService) ListEntries(ctx context.Context, instructorID uint, offset, limit int) ([]model.BalanceTransaction, int64, error) {
	return s.repo.List(ctx, instructorID, offset, limit)
}

func (s *ledgerService) EarningsSummary(ctx context.Context, instructorID uint, from, to time.Time) (*EarningsSummary, error) {
	if !to.After(from) {
		return nil, apperr.New(apperr.KindValidation, "invalid time range")
	}
	rows, err := s.repo.Earnings(ctx, instructorID, from, to)
	if err != nil {
		return nil, err
	}

	net := decimal.Zero
	for _, r := range rows {
		net = net.Add(r.Amount)
	}
	return &EarningsSummary{
		InstructorID: instructorID,
		Currency:     s.baseCurrency,
		From:         from,
		To:           to,
		Rows:         rows,
		Net:          net,
	}, nil
}

// VerifyChain 从头累加流水金额，与每条流水记录的 running balance 比对
func (s *ledgerService) VerifyChain(ctx context.Context, instructorID uint) (*ChainReport, error) {
	history, err := s.repo.History(ctx, instructorID)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{InstructorID: instructorID, Entries: len(history), Consistent: true}
	sum := decimal.Zero
	for i := range history {
		sum = sum.Add(history[i].Amount)
		if report.Consistent && !sum.Equal(history[i].RunningBalanceAfter) {
			id := history[i].ID
			report.Consistent = false
			report.FirstDriftID = &id
		}
	}
	report.Sum = sum
	if n := len(history); n > 0 {
		report.Balance = history[n-1].RunningBalanceAfter
	}

	if !report.Consistent {
		s.log.Error("Ledger drift detected",
			zap.Uint("instructor_id", instructorID),
			zap.Uint("first_drift_id", *report.FirstDriftID),
			zap.String("sum", report.Sum.String()),
			zap.String("balance", report.Balance.String()),
		)
	}
	return report, nil
}
