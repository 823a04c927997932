package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperr "github.com/obverse/obverse/internal/errors"
	"github.com/obverse/obverse/internal/tokens"
)

var (
	// ErrExpired means the session outlived its TTL and was discarded.
	ErrExpired = apperr.Validation("This purchase timed out. Send /buy to start again.")
	// ErrNoSession means there is no purchase in progress.
	ErrNoSession = apperr.Validation("There is no purchase in progress. Send /buy to start.")
	// ErrUnexpected means the input does not fit the current step.
	ErrUnexpected = apperr.Validation("That does not fit the current step. Send /cancel to start over.")
)

// Flow drives the /buy conversation: choose a stablecoin, enter an amount,
// then confirm or cancel. Every transition refreshes the session TTL.
type Flow struct {
	store  Store
	tokens *tokens.Registry
	ttl    time.Duration
	now    func() time.Time
}

// NewFlow builds a conversation flow.
func NewFlow(store Store, registry *tokens.Registry, ttl time.Duration) *Flow {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Flow{store: store, tokens: registry, ttl: ttl, now: time.Now}
}

// Begin starts a purchase, replacing any session already in progress.
func (f *Flow) Begin(ctx context.Context, id, userID, walletID string) (Session, error) {
	sess := Session{ID: id, UserID: userID, WalletID: walletID, State: StateChoosingCurrency}
	return f.save(ctx, sess)
}

// Current returns the live session for id.
func (f *Flow) Current(ctx context.Context, id string) (Session, error) {
	return f.load(ctx, id)
}

// ChooseCurrency records the stablecoin to buy.
func (f *Flow) ChooseCurrency(ctx context.Context, id, symbol string) (Session, error) {
	sess, err := f.expect(ctx, id, StateChoosingCurrency)
	if err != nil {
		return Session{}, err
	}
	token, err := f.tokens.Lookup(symbol)
	if err != nil {
		return Session{}, err
	}
	if !token.Stable {
		return Session{}, apperr.Validation("Please choose one of the listed stablecoins.")
	}
	sess.Token = token.Symbol
	sess.State = StateAwaitingAmount
	return f.save(ctx, sess)
}

// EnterAmount parses the amount the user typed.
func (f *Flow) EnterAmount(ctx context.Context, id, text string) (Session, error) {
	sess, err := f.expect(ctx, id, StateAwaitingAmount)
	if err != nil {
		return Session{}, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(text, ",", "")))
	if err != nil || !amount.IsPositive() {
		return Session{}, apperr.Validation("Please enter a positive number, for example 10 or 12.5.")
	}
	sess.Amount = amount
	sess.State = StateAwaitingConfirmation
	return f.save(ctx, sess)
}

// Confirm completes the conversation and clears the session. The session is
// taken from the store atomically, so a repeated confirmation finds nothing.
func (f *Flow) Confirm(ctx context.Context, id string) (Completed, error) {
	sess, ok, err := f.store.Take(ctx, id)
	if err != nil {
		return Completed{}, err
	}
	if !ok {
		return Completed{}, ErrNoSession
	}
	if f.now().Sub(sess.UpdatedAt) > f.ttl {
		return Completed{}, ErrExpired
	}
	if sess.State != StateAwaitingConfirmation {
		// Put it back untouched; the conversation continues where it was.
		if err := f.store.Save(ctx, sess, f.ttl); err != nil {
			return Completed{}, err
		}
		return Completed{}, ErrUnexpected
	}
	return Completed{UserID: sess.UserID, WalletID: sess.WalletID, Token: sess.Token, Amount: sess.Amount}, nil
}

// Cancel discards any session for id.
func (f *Flow) Cancel(ctx context.Context, id string) error {
	return f.store.Delete(ctx, id)
}

func (f *Flow) expect(ctx context.Context, id string, state State) (Session, error) {
	sess, err := f.load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.State != state {
		return Session{}, ErrUnexpected
	}
	return sess, nil
}

func (f *Flow) load(ctx context.Context, id string) (Session, error) {
	sess, ok, err := f.store.Load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrNoSession
	}
	if f.now().Sub(sess.UpdatedAt) > f.ttl {
		if err := f.store.Delete(ctx, id); err != nil {
			return Session{}, err
		}
		return Session{}, ErrExpired
	}
	return sess, nil
}

func (f *Flow) save(ctx context.Context, sess Session) (Session, error) {
	sess.UpdatedAt = f.now().UTC()
	if err := f.store.Save(ctx, sess, f.ttl); err != nil {
		return Session{}, err
	}
	return sess, nil
}
