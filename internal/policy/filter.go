// Package policy implements the Policy Filter: a sequential, short-circuit
// evaluation of an incoming offer against local rules and wallet health.
package policy

import (
	"context"
	"sync"

	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/types"
)

// EstimatedTxFee is the tunable constant used as a conservative fee
// estimate throughout the filter's checks (0.01 XLM at 10,000,000 stroops
// per XLM).
const EstimatedTxFee types.Amount = 100_000

// Reason codes, in the fixed evaluation order they can fire.
const (
	ReasonPriceTooLow     = "price_too_low"
	ReasonInsufficientXLM = "insufficient_xlm"
	ReasonSlotNotActive   = "slot_not_active"
	ReasonUnprofitable    = "unprofitable"
)

// Decision is the filter's accept/reject verdict for one offer.
type Decision struct {
	Accepted            bool
	ReasonCode          string
	Slot                types.SlotId
	OfferPrice          types.Amount
	WalletBalanceAtEval types.Amount
	EstimatedTxFee      types.Amount
	NetProfit           int64
}

// Filter evaluates PinEvents against a runtime-adjustable minimum price and
// the live wallet balance / slot state from Ledger Queries.
type Filter struct {
	queries ledger.Queries
	self    types.Address

	mu       sync.RWMutex
	minPrice types.Amount
}

// New constructs a Filter with an initial minimum price.
func New(queries ledger.Queries, self types.Address, minPrice types.Amount) *Filter {
	return &Filter{queries: queries, self: self, minPrice: minPrice}
}

// MinPrice returns the current minimum acceptable offer price.
func (f *Filter) MinPrice() types.Amount {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.minPrice
}

// SetMinPrice updates the runtime-adjustable minimum price.
func (f *Filter) SetMinPrice(price types.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minPrice = price
}

// Evaluate runs four sequential, short-circuiting checks in fixed and
// observable order. Wallet balance is only queried once the price check
// has passed, so a cheap rejection never costs a live balance lookup.
func (f *Filter) Evaluate(ctx context.Context, event types.PinEvent) Decision {
	minPrice := f.MinPrice()

	base := Decision{
		Slot: event.Slot, OfferPrice: event.OfferPrice, EstimatedTxFee: EstimatedTxFee,
	}

	if event.OfferPrice < minPrice {
		base.ReasonCode = ReasonPriceTooLow
		return base
	}

	balance := f.queries.WalletBalance(ctx, f.self)
	base.WalletBalanceAtEval = balance
	if balance < 2*EstimatedTxFee {
		base.ReasonCode = ReasonInsufficientXLM
		return base
	}

	if !f.slotActive(ctx, event.Slot) {
		base.ReasonCode = ReasonSlotNotActive
		return base
	}

	netProfit := int64(event.OfferPrice) - int64(EstimatedTxFee)
	base.NetProfit = netProfit
	if netProfit <= 0 {
		base.ReasonCode = ReasonUnprofitable
		return base
	}

	base.Accepted = true
	return base
}

// slotActive reports false if the slot is expired, missing, or has no pins
// remaining. Any of these makes the offer unworkable regardless of price.
func (f *Filter) slotActive(ctx context.Context, slot types.SlotId) bool {
	expired, err := f.queries.IsSlotExpired(ctx, slot)
	if err == nil && expired != nil && *expired {
		return false
	}

	info, err := f.queries.Slot(ctx, slot)
	if err != nil || info == nil {
		return false
	}
	if info.PinsRemaining == 0 {
		return false
	}
	return true
}
