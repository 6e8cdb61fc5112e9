package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	ledgermodel "course_market/internal/domain/ledger/model"
	"course_market/internal/domain/withdrawal/model"
	"course_market/internal/domain/withdrawal/repository"
	"course_market/internal/pkg/exchange"
	"course_market/internal/pkg/notify"
	"course_market/pkg/apperr"
	"course_market/pkg/database"
	"course_market/pkg/metrics"
	"course_market/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount         = apperr.New(apperr.KindValidation, "withdrawal amount must be positive")
	ErrBelowMinimum          = apperr.New(apperr.KindValidation, "withdrawal amount below minimum")
	ErrPayoutMethodInvalid   = apperr.New(apperr.KindValidation, "payout method is not available")
	ErrUnsupportedPayoutType = apperr.New(apperr.KindValidation, "unsupported payout method type")
	ErrInsufficientBalance   = apperr.New(apperr.KindInsufficientBalance, "insufficient balance")
	ErrRequestNotFound       = apperr.New(apperr.KindNotFound, "withdrawal request not found")
	ErrPayoutNotFound        = apperr.New(apperr.KindNotFound, "payout not found")
	ErrInvalidTransition     = apperr.New(apperr.KindStateConflict, "invalid withdrawal status transition")
	ErrInvalidExecution      = apperr.New(apperr.KindValidation, "payout execution status must be PAID or FAILED")
)

// AdminRecipient 发给后台的通知不指定具体用户，由后台消费 Kafka 事件
const AdminRecipient uint = 0

// Ledger 余额查询与提现扣款
type Ledger interface {
	GetBalance(ctx context.Context, instructorID uint) (decimal.Decimal, error)
	DebitWithdrawal(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, payoutID uint) (*ledgermodel.BalanceTransaction, error)
}

// Settings 平台参数
type Settings interface {
	BaseCurrency() string
	MinWithdrawal(ctx context.Context, currency string) (decimal.Decimal, error)
}

type PayoutMethodInput struct {
	Type          string
	AccountName   string
	AccountNumber string
	BankName      string
}

// Review 审核结论
type Review struct {
	Approve bool
	Note    string
}

// Execution 打款结果回填，ActualAmount 为空时按申请金额计
type Execution struct {
	Status            string
	ActualAmount      *decimal.Decimal
	ActualCurrency    string
	ExternalReference string
	FailureReason     string
}

type WithdrawalService interface {
	AddPayoutMethod(ctx context.Context, instructorID uint, in PayoutMethodInput) (*model.PayoutMethod, error)
	ListPayoutMethods(ctx context.Context, instructorID uint) ([]model.PayoutMethod, error)
	DeactivatePayoutMethod(ctx context.Context, instructorID, methodID uint) error

	// RequestWithdrawal 校验收款方式、最低金额与当前余额后创建申请，不冻结余额
	RequestWithdrawal(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, payoutMethodID uint) (*model.WithdrawalRequest, error)
	ListMine(ctx context.Context, instructorID uint, offset, limit int) ([]model.WithdrawalRequest, int64, error)
	ListRequests(ctx context.Context, status string, offset, limit int) ([]model.WithdrawalRequest, int64, error)
	// ReviewWithdrawalRequest 通过时在事务内重新校验余额，不足则自动驳回
	ReviewWithdrawalRequest(ctx context.Context, adminID, requestID uint, review Review) (*model.WithdrawalRequest, error)
	MarkPayoutProcessing(ctx context.Context, payoutID uint, reference string) (*model.Payout, error)
	// ProcessPayoutExecution PAID 时按实付金额扣减余额，FAILED 时申请退回 PENDING
	ProcessPayoutExecution(ctx context.Context, payoutID uint, exec Execution) (*model.Payout, error)
}

type withdrawalService struct {
	repo     repository.WithdrawalRepository
	tx       database.Transactor
	ledger   Ledger
	settings Settings
	rates    exchange.Rates
	notifier notify.Notifier
	log      *zap.Logger
	metrics  *metrics.MetricsCollector
	now      func() time.Time
}

// Deps 提现服务依赖
type Deps struct {
	Repo     repository.WithdrawalRepository
	Tx       database.Transactor
	Ledger   Ledger
	Settings Settings
	Rates    exchange.Rates
	Notifier notify.Notifier
	Log      *zap.Logger
	Metrics  *metrics.MetricsCollector
}

func NewWithdrawalService(d Deps) WithdrawalService {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &withdrawalService{
		repo:     d.Repo,
		tx:       d.Tx,
		ledger:   d.Ledger,
		settings: d.Settings,
		rates:    d.Rates,
		notifier: notifier,
		log:      d.Log.With(zap.String("component", "withdrawal")),
		metrics:  d.Metrics,
		now:      time.Now,
	}
}

func (s *withdrawalService) AddPayoutMethod(ctx context.Context, instructorID uint, in PayoutMethodInput) (*model.PayoutMethod, error) {
	switch in.Type {
	case model.MethodBankTransfer, model.MethodPayPal, model.MethodMoMo, model.MethodCrypto:
	default:
		return nil, ErrUnsupportedPayoutType.WithReason(in.Type)
	}
	method := &model.PayoutMethod{
		InstructorID:  instructorID,
		Type:          in.Type,
		AccountName:   in.AccountName,
		AccountNumber: in.AccountNumber,
		BankName:      in.BankName,
		IsActive:      true,
	}
	if err := s.repo.CreateMethod(ctx, method); err != nil {
		return nil, err
	}
	return method, nil
}

func (s *withdrawalService) ListPayoutMethods(ctx context.Context, instructorID uint) ([]model.PayoutMethod, error) {
	return s.repo.ListMethods(ctx, instructorID)
}

func (s *withdrawalService) DeactivatePayoutMethod(ctx context.Context, instructorID, methodID uint) error {
	ok, err := s.repo.DeactivateMethod(ctx, instructorID, methodID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPayoutMethodInvalid
	}
	return nil
}

func (s *withdrawalService) RequestWithdrawal(ctx context.Context, instructorID uint, amount decimal.Decimal, currency string, payoutMethodID uint) (*model.WithdrawalRequest, error) {
	base := s.settings.BaseCurrency()
	currency = money.Normalize(currency)
	if currency == "" {
		currency = base
	}
	amount = money.Round(amount, currency)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	method, err := s.repo.GetMethod(ctx, payoutMethodID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if method == nil || method.InstructorID != instructorID || !method.IsActive {
		return nil, ErrPayoutMethodInvalid
	}

	rate, err := s.rates.Rate(ctx, currency)
	if err != nil {
		return nil, err
	}
	baseAmount := exchange.ToBase(amount, rate, base)

	minimum, err := s.settings.MinWithdrawal(ctx, currency)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(minimum) {
		return nil, ErrBelowMinimum.WithReason(fmt.Sprintf("minimum %s %s", minimum, currency))
	}

	balance, err := s.ledger.GetBalance(ctx, instructorID)
	if err != nil {
		return nil, err
	}
	if baseAmount.GreaterThan(balance) {
		return nil, ErrInsufficientBalance.WithReason(fmt.Sprintf("balance %s %s", balance, base))
	}

	req := &model.WithdrawalRequest{
		InstructorID:      instructorID,
		RequestedAmount:   amount,
		RequestedCurrency: currency,
		BaseAmount:        baseAmount,
		ExchangeRate:      rate,
		PayoutMethodID:    method.ID,
		Status:            model.RequestPending,
	}
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateRequest(ctx, req); err != nil {
			return err
		}
		s.notifier.Notify(ctx, notify.Event{
			Type:        notify.EventWithdrawalRequested,
			RecipientID: AdminRecipient,
			Title:       "New withdrawal request",
			Body:        fmt.Sprintf("Instructor %d requested %s %s", instructorID, amount, currency),
			Data:        requestData(req),
			OccurredAt:  s.now(),
		})
		s.record(ctx, "request", model.RequestPending)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Withdrawal requested",
		zap.Uint("request_id", req.ID),
		zap.Uint("instructor_id", instructorID),
		zap.String("amount", amount.String()),
		zap.String("currency", currency),
		zap.String("base_amount", baseAmount.String()))
	return req, nil
}

func (s *withdrawalService) ListMine(ctx context.Context, instructorID uint, offset, limit int) ([]model.WithdrawalRequest, int64, error) {
	return s.repo.ListRequestsByInstructor(ctx, instructorID, offset, limit)
}

func (s *withdrawalService) ListRequests(ctx context.Context, status string, offset, limit int) ([]model.WithdrawalRequest, int64, error) {
	return s.repo.ListRequests(ctx, status, offset, limit)
}

func (s *withdrawalService) ReviewWithdrawalRequest(ctx context.Context, adminID, requestID uint, review Review) (*model.WithdrawalRequest, error) {
	var req *model.WithdrawalRequest
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = s.loadRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != model.RequestPending {
			return ErrInvalidTransition.WithReason(req.Status + " cannot be reviewed")
		}

		if !review.Approve {
			return s.reject(ctx, req, adminID, review.Note)
		}

		balance, err := s.ledger.GetBalance(ctx, req.InstructorID)
		if err != nil {
			return err
		}
		if balance.LessThan(req.BaseAmount) {
			note := fmt.Sprintf("[system] auto-rejected: balance %s is below requested %s", balance, req.BaseAmount)
			if review.Note != "" {
				note = review.Note + "\n" + note
			}
			s.log.Warn("Withdrawal auto-rejected at approval",
				zap.Uint("request_id", req.ID),
				zap.String("balance", balance.String()),
				zap.String("requested", req.BaseAmount.String()))
			return s.reject(ctx, req, adminID, note)
		}

		return s.approve(ctx, req, adminID, review.Note)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Withdrawal reviewed",
		zap.Uint("request_id", req.ID),
		zap.Uint("admin_id", adminID),
		zap.String("status", req.Status))
	return req, nil
}

func (s *withdrawalService) reject(ctx context.Context, req *model.WithdrawalRequest, adminID uint, note string) error {
	now := s.now()
	update := model.RequestUpdate{Status: model.RequestRejected, ReviewedBy: &adminID, AdminNote: note, ProcessedAt: &now}
	if err := s.transitionRequest(ctx, req, model.RequestPending, update); err != nil {
		return err
	}
	req.Status = model.RequestRejected
	req.ReviewedBy = &adminID
	req.AdminNote = note
	req.ProcessedAt = &now

	s.notifier.Notify(ctx, notify.Event{
		Type:        notify.EventWithdrawalRejected,
		RecipientID: req.InstructorID,
		Title:       "Withdrawal rejected",
		Body:        note,
		Data:        requestData(req),
		OccurredAt:  now,
	})
	s.record(ctx, "request", model.RequestRejected)
	return nil
}

func (s *withdrawalService) approve(ctx context.Context, req *model.WithdrawalRequest, adminID uint, note string) error {
	payout := &model.Payout{
		WithdrawalRequestID: req.ID,
		InstructorID:        req.InstructorID,
		PayoutMethodID:      req.PayoutMethodID,
		Amount:              req.BaseAmount,
		Currency:            s.settings.BaseCurrency(),
		Status:              model.PayoutPending,
	}
	if err := s.repo.CreatePayout(ctx, payout); err != nil {
		return err
	}

	update := model.RequestUpdate{Status: model.RequestProcessing, PayoutID: &payout.ID, ReviewedBy: &adminID, AdminNote: note}
	if err := s.transitionRequest(ctx, req, model.RequestPending, update); err != nil {
		return err
	}
	req.Status = model.RequestProcessing
	req.PayoutID = &payout.ID
	req.ReviewedBy = &adminID
	req.AdminNote = note

	s.notifier.Notify(ctx, notify.Event{
		Type:        notify.EventWithdrawalApproved,
		RecipientID: req.InstructorID,
		Title:       "Withdrawal approved",
		Data:        requestData(req),
		OccurredAt:  s.now(),
	})
	s.record(ctx, "request", model.RequestProcessing)
	s.record(ctx, "payout", model.PayoutPending)
	return nil
}

func (s *withdrawalService) MarkPayoutProcessing(ctx context.Context, payoutID uint, reference string) (*model.Payout, error) {
	var payout *model.Payout
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		payout, err = s.loadPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		update := model.PayoutUpdate{Status: model.PayoutProcessing, ExternalReference: reference}
		if err := s.transitionPayout(ctx, payout, []string{model.PayoutPending}, update); err != nil {
			return err
		}
		payout.Status = model.PayoutProcessing
		if reference != "" {
			payout.ExternalReference = reference
		}
		s.record(ctx, "payout", model.PayoutProcessing)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (s *withdrawalService) ProcessPayoutExecution(ctx context.Context, payoutID uint, exec Execution) (*model.Payout, error) {
	if exec.Status != model.PayoutPaid && exec.Status != model.PayoutFailed {
		return nil, ErrInvalidExecution.WithReason(exec.Status)
	}

	var payout *model.Payout
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		payout, err = s.loadPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if exec.Status == model.PayoutPaid {
			return s.settlePaid(ctx, payout, exec)
		}
		return s.settleFailed(ctx, payout, exec)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Payout executed",
		zap.Uint("payout_id", payout.ID),
		zap.Uint("request_id", payout.WithdrawalRequestID),
		zap.String("status", payout.Status))
	return payout, nil
}

// settlePaid 打款成功：payout PAID，申请 COMPLETED，按实付金额扣减余额
func (s *withdrawalService) settlePaid(ctx context.Context, payout *model.Payout, exec Execution) error {
	base := s.settings.BaseCurrency()
	actualCurrency := money.Normalize(exec.ActualCurrency)
	if actualCurrency == "" {
		actualCurrency = payout.Currency
	}
	actual := payout.Amount
	if exec.ActualAmount != nil {
		actual = money.Round(*exec.ActualAmount, actualCurrency)
	}
	if !actual.IsPositive() {
		return ErrInvalidAmount
	}

	debit := actual
	if actualCurrency != base {
		rate, err := s.rates.Rate(ctx, actualCurrency)
		if err != nil {
			return err
		}
		debit = exchange.ToBase(actual, rate, base)
	}

	now := s.now()
	update := model.PayoutUpdate{
		Status:            model.PayoutPaid,
		ActualAmount:      &actual,
		ActualCurrency:    actualCurrency,
		ExternalReference: exec.ExternalReference,
		CompletedAt:       &now,
	}
	if err := s.transitionPayout(ctx, payout, []string{model.PayoutPending, model.PayoutProcessing}, update); err != nil {
		return err
	}
	payout.Status = model.PayoutPaid
	payout.ActualAmount = &actual
	payout.ActualCurrency = actualCurrency
	payout.CompletedAt = &now

	req, err := s.loadRequest(ctx, payout.WithdrawalRequestID)
	if err != nil {
		return err
	}
	if err := s.transitionRequest(ctx, req, model.RequestProcessing, model.RequestUpdate{Status: model.RequestCompleted, ProcessedAt: &now}); err != nil {
		return err
	}

	if _, err := s.ledger.DebitWithdrawal(ctx, payout.InstructorID, debit, base, payout.ID); err != nil {
		return err
	}

	s.notifier.Notify(ctx, notify.Event{
		Type:        notify.EventPayoutPaid,
		RecipientID: payout.InstructorID,
		Title:       "Payout sent",
		Body:        fmt.Sprintf("%s %s has been paid out", actual, actualCurrency),
		Data:        payoutData(payout),
		OccurredAt:  now,
	})
	s.record(ctx, "payout", model.PayoutPaid)
	s.record(ctx, "request", model.RequestCompleted)
	return nil
}

// settleFailed 打款失败：payout FAILED，申请退回 PENDING 等待重新审核，余额不动
func (s *withdrawalService) settleFailed(ctx context.Context, payout *model.Payout, exec Execution) error {
	update := model.PayoutUpdate{
		Status:            model.PayoutFailed,
		ExternalReference: exec.ExternalReference,
		FailureReason:     exec.FailureReason,
	}
	if err := s.transitionPayout(ctx, payout, []string{model.PayoutPending, model.PayoutProcessing}, update); err != nil {
		return err
	}
	payout.Status = model.PayoutFailed
	payout.FailureReason = exec.FailureReason

	req, err := s.loadRequest(ctx, payout.WithdrawalRequestID)
	if err != nil {
		return err
	}
	if err := s.transitionRequest(ctx, req, model.RequestProcessing, model.RequestUpdate{Status: model.RequestPending, ClearPayout: true}); err != nil {
		return err
	}

	s.notifier.Notify(ctx, notify.Event{
		Type:        notify.EventPayoutFailed,
		RecipientID: payout.InstructorID,
		Title:       "Payout failed",
		Body:        exec.FailureReason,
		Data:        payoutData(payout),
		OccurredAt:  s.now(),
	})
	s.record(ctx, "payout", model.PayoutFailed)
	s.record(ctx, "request", model.RequestPending)
	return nil
}

func (s *withdrawalService) transitionRequest(ctx context.Context, req *model.WithdrawalRequest, from string, update model.RequestUpdate) error {
	ok, err := s.repo.TransitionRequest(ctx, req.ID, from, update)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition.WithReason(fmt.Sprintf("request %d: %s->%s", req.ID, from, update.Status))
	}
	return nil
}

func (s *withdrawalService) transitionPayout(ctx context.Context, payout *model.Payout, from []string, update model.PayoutUpdate) error {
	ok, err := s.repo.TransitionPayout(ctx, payout.ID, from, update)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTransition.WithReason(fmt.Sprintf("payout %d: %s->%s", payout.ID, payout.Status, update.Status))
	}
	return nil
}

func (s *withdrawalService) loadRequest(ctx context.Context, id uint) (*model.WithdrawalRequest, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	return req, err
}

func (s *withdrawalService) loadPayout(ctx context.Context, id uint) (*model.Payout, error) {
	payout, err := s.repo.GetPayout(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPayoutNotFound
	}
	return payout, err
}

func (s *withdrawalService) record(ctx context.Context, entity, to string) {
	if s.metrics == nil {
		return
	}
	database.AfterCommit(ctx, func() {
		s.metrics.RecordWithdrawalTransition(entity, to)
	})
}

func requestData(req *model.WithdrawalRequest) map[string]string {
	return map[string]string{
		"requestId": strconv.FormatUint(uint64(req.ID), 10),
		"amount":    req.RequestedAmount.String(),
		"currency":  req.RequestedCurrency,
	}
}

func payoutData(p *model.Payout) map[string]string {
	return map[string]string{
		"payoutId":  strconv.FormatUint(uint64(p.ID), 10),
		"requestId": strconv.FormatUint(uint64(p.WithdrawalRequestID), 10),
	}
}
