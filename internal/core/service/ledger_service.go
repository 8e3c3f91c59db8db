package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/baller-exchange/internal/metrics"
	"github.com/rl1809/baller-exchange/internal/port"
)

// Accrual is the outcome of one accrual request.
type Accrual struct {
	Granted int64 `json:"new_currency"`
	Balance int64 `json:"total_currency"`
}

// LedgerService grants time-based currency.
type LedgerService struct {
	coord  *Coordinator
	period time.Duration
	amount int64
	now    func() time.Time
	log    logrus.FieldLogger
}

func NewLedgerService(coord *Coordinator, cfg EconomyConfig, log logrus.FieldLogger) *LedgerService {
	return &LedgerService{
		coord:  coord,
		period: cfg.AccrualPeriod,
		amount: cfg.AccrualAmount,
		now:    time.Now,
		log:    log,
	}
}

// WithClock replaces the time source.
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

// Accrue credits every whole accrual period elapsed since the user's last
// accrual. Nothing is written while less than one period has elapsed.
func (s *LedgerService) Accrue(ctx context.Context, userID string) (Accrual, error) {
	now := s.now().UnixMilli()

	result, err := RunInTx(ctx, s.coord, "accrue", func(ctx context.Context, tx port.Tx) (Accrual, error) {
		user, err := loadUser(ctx, tx, userID)
		if err != nil {
			return Accrual{}, err
		}

		granted := accrualGrant(now-user.LastAccrualTime, s.period.Milliseconds(), s.amount)
		if granted == 0 {
			return Accrual{Balance: user.CurrencyBalance}, nil
		}

		user.CurrencyBalance += granted
		user.LastAccrualTime = now
		if err := saveUser(ctx, tx, user); err != nil {
			return Accrual{}, err
		}
		return Accrual{Granted: granted, Balance: user.CurrencyBalance}, nil
	})
	if err != nil {
		return Accrual{}, err
	}

	metrics.RecordAccrual(result.Granted)
	if result.Granted > 0 {
		s.log.WithFields(logrus.Fields{
			"user_id": userID,
			"granted": result.Granted,
			"balance": result.Balance,
		}).Debug("currency accrued")
	}
	return result, nil
}

// accrualGrant pays amount for each whole period in elapsed milliseconds.
func accrualGrant(elapsed, period, amount int64) int64 {
	if period <= 0 || elapsed < period {
		return 0
	}
	return (elapsed / period) * amount
}
