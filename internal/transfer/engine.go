// Package transfer settles key-gated transfers.
//
// A transfer request moves through
//
//	Received -> KeyValidating -> BalanceChecking -> Committing -> Committed
//
// and stops early in RejectedInvalidKey or RejectedInsufficientBalance. Key
// consumption and settlement share one store transaction: a transfer that is
// rejected, fails, or is abandoned after the key check leaves both the key and
// the balances exactly as they were.
package transfer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/keygated-ledger/internal/apperr"
	interfaces "github.com/sheikh-saqib/keygated-ledger/internal/interfaces"
	"github.com/sheikh-saqib/keygated-ledger/internal/ledger"
	"github.com/sheikh-saqib/keygated-ledger/internal/models"
	"github.com/sheikh-saqib/keygated-ledger/internal/models/events"
	"github.com/sheikh-saqib/keygated-ledger/internal/retry"
	"github.com/sheikh-saqib/keygated-ledger/internal/storage"
)

// DefaultTopic is where TransferCompleted events go unless configured otherwise.
const DefaultTopic = "transfer_completed"

const publishTimeout = 5 * time.Second

// State is a stage of the transfer state machine.
type State string

const (
	StateReceived                    State = "received"
	StateKeyValidating               State = "key_validating"
	StateBalanceChecking             State = "balance_checking"
	StateCommitting                  State = "committing"
	StateCommitted                   State = "committed"
	StateRejectedInvalidKey          State = "rejected_invalid_key"
	StateRejectedInsufficientBalance State = "rejected_insufficient_balance"
	StateRejectedInvalidRequest      State = "rejected_invalid_request"
	StateFailed                      State = "failed"
)

// Outcome maps the result of Transfer onto its terminal state.
func Outcome(err error) State {
	switch {
	case err == nil:
		return StateCommitted
	case errors.Is(err, apperr.ErrInvalidKey):
		return StateRejectedInvalidKey
	case errors.Is(err, apperr.ErrInsufficientBalance):
		return StateRejectedInsufficientBalance
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound:
		return StateRejectedInvalidRequest
	default:
		return StateFailed
	}
}

// Request is a transfer order. Exactly one of To and ToEmail identifies the
// recipient; To wins when both are set.
type Request struct {
	From    string
	To      string
	ToEmail string
	Amount  decimal.Decimal
	Key     string
}

// KeyConsumer validates and burns a sender's key.
type KeyConsumer interface {
	ValidateAndConsume(ctx context.Context, accountID, submitted string) (models.IssuedKey, error)
}

// Settler resolves recipients and applies balance moves.
type Settler interface {
	ResolveByEmail(ctx context.Context, email string) (string, error)
	CommitTransfer(ctx context.Context, from, to string, amount decimal.Decimal, keyFingerprint string) (models.TransferRecord, error)
}

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	Publisher interfaces.EventPublisher
	Topic     string
	Retry     retry.Policy
}

// Engine orchestrates key validation and settlement.
type Engine struct {
	tx        interfaces.Transactor
	keys      KeyConsumer
	ledger    Settler
	publisher interfaces.EventPublisher
	topic     string
	retry     retry.Policy
	logger    *zap.Logger
}

// NewEngine wires an engine. tx must be the transactor of the store that keys
// and settler write to, otherwise the two steps would not commit together.
func NewEngine(tx interfaces.Transactor, keys KeyConsumer, settler Settler, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy
	}
	return &Engine{
		tx:        tx,
		keys:      keys,
		ledger:    settler,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		retry:     opts.Retry,
		logger:    logger.Named("transfer"),
	}
}

// Transfer authorises req with the sender's key and settles it. The returned
// record carries the key fingerprint, never the key.
func (e *Engine) Transfer(ctx context.Context, req Request) (models.TransferRecord, error) {
	record, stage, err := e.transfer(ctx, req)

	fields := []zap.Field{
		zap.String("from", req.From),
		zap.String("to", record.ToAccount),
		zap.String("amount", req.Amount.String()),
		zap.String("state", string(Outcome(err))),
	}
	if err != nil {
		fields = append(fields,
			zap.String("stage", string(stage)),
			zap.String("code", string(apperr.CodeOf(err))),
		)
		if apperr.KindOf(err) == apperr.KindInternal || apperr.KindOf(err) == apperr.KindUnavailable {
			e.logger.Error("transfer failed", append(fields, zap.Error(err))...)
		} else {
			e.logger.Info("transfer rejected", fields...)
		}
		return models.TransferRecord{}, err
	}

	e.logger.Info("transfer committed", append(fields,
		zap.String("transfer_id", record.ID),
		zap.String("key_fingerprint", record.KeyFingerprint),
	)...)
	e.publish(ctx, record)
	return record, nil
}

// transfer also reports the last stage it reached.
func (e *Engine) transfer(ctx context.Context, req Request) (models.TransferRecord, State, error) {
	stage := StateReceived
	from := strings.TrimSpace(req.From)
	to := strings.TrimSpace(req.To)

	if to == "" && strings.TrimSpace(req.ToEmail) != "" {
		id, err := e.ledger.ResolveByEmail(ctx, req.ToEmail)
		if err != nil {
			return models.TransferRecord{}, stage, err
		}
		to = id
	}

	if from == "" || to == "" || req.Key == "" || req.Amount.IsZero() {
		return models.TransferRecord{}, stage, apperr.ErrMissingField
	}
	if !req.Amount.IsPositive() {
		return models.TransferRecord{}, stage, apperr.ErrInvalidAmount
	}
	if err := ledger.CheckAmount(req.Amount); err != nil {
		return models.TransferRecord{}, stage, err
	}
	if from == to {
		return models.TransferRecord{}, stage, apperr.ErrSelfTransfer
	}

	var record models.TransferRecord
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		return e.tx.WithinTx(ctx, func(ctx context.Context) error {
			stage = StateKeyValidating
			key, err := e.keys.ValidateAndConsume(ctx, from, req.Key)
			if err != nil {
				return err
			}

			stage = StateBalanceChecking
			record, err = e.ledger.CommitTransfer(ctx, from, to, req.Amount, key.Fingerprint)
			if err == nil {
				stage = StateCommitting
			}
			return err
		})
	})
	if err != nil {
		return models.TransferRecord{ToAccount: to}, stage, storage.Classify(err, nil)
	}
	return record, StateCommitted, nil
}

// publish is best effort: the transfer is already committed, so a broker
// failure is logged and otherwise ignored.
func (e *Engine) publish(ctx context.Context, record models.TransferRecord) {
	if e.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := events.TransferCompleted{
		TransferID:     record.ID,
		FromAccount:    record.FromAccount,
		ToAccount:      record.ToAccount,
		Amount:         record.Amount,
		KeyFingerprint: record.KeyFingerprint,
		OccurredAt:     record.CreatedAt,
	}
	if err := e.publisher.Publish(ctx, e.topic, event); err != nil {
		e.logger.Warn("failed to publish transfer event",
			zap.String("transfer_id", record.ID),
			zap.Error(err),
		)
	}
}
