package ledger

import (
	"context"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"
)

// Queries is the Ledger Queries component's contract: read-only lookups
// used by the policy filter, the audit subsystem, and the facade. Any RPC
// error surfaces as a nil optional; callers treat "unknown" conservatively.
type Queries interface {
	WalletBalance(ctx context.Context, address types.Address) types.Amount
	Slot(ctx context.Context, slot types.SlotId) (*types.SlotInfo, error)
	IsSlotExpired(ctx context.Context, slot types.SlotId) (*bool, error)
	Participant(ctx context.Context, address types.Address) (*types.Participant, error)
	JoinFee(ctx context.Context) (*types.Amount, error)
	StakeAmount(ctx context.Context) (*types.Amount, error)
	PinFee(ctx context.Context) (*types.Amount, error)
	MinOfferPrice(ctx context.Context) (*types.Amount, error)
	MinPinQty(ctx context.Context) (*uint32, error)
	PinnerCount(ctx context.Context) (*uint32, error)
}

var _ Queries = (*Client)(nil)

// Slot reads a slot's on-chain state. A nil result (with nil error) means
// the slot is genuinely absent; a non-nil error means the RPC call itself
// failed and the caller should treat the slot as unknown, not absent.
func (c *Client) Slot(ctx context.Context, slot types.SlotId) (*types.SlotInfo, error) {
	ret, err := c.simulateRead(ctx, "get_slot", []xdr.ScVal{encodeScU64(uint64(slot))})
	if err != nil {
		c.logger.Warn("get_slot failed", zap.Error(err))
		return nil, err
	}
	if ret.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}
	fields, err := decodeEventFields(ret)
	if err != nil {
		return nil, err
	}

	publisher, err := fieldAddress(fields, 0)
	if err != nil {
		return nil, err
	}
	offerPrice, err := fieldU64(fields, 1)
	if err != nil {
		return nil, err
	}
	pinQty, err := fieldU32(fields, 2)
	if err != nil {
		return nil, err
	}
	pinsRemaining, err := fieldU32(fields, 3)
	if err != nil {
		return nil, err
	}
	escrow, err := fieldU64(fields, 4)
	if err != nil {
		return nil, err
	}
	createdAtUnix, err := fieldU64(fields, 5)
	if err != nil {
		return nil, err
	}

	var claimants []types.Address
	if len(fields) > 6 {
		if vec, ok := fields[6].GetVec(); ok && vec != nil {
			for _, v := range *vec {
				if addr, ok := v.GetAddress(); ok {
					decoded, err := decodeAddress(addr)
					if err == nil {
						claimants = append(claimants, decoded)
					}
				}
			}
		}
	}

	return &types.SlotInfo{
		Publisher:     publisher,
		OfferPrice:    types.Amount(offerPrice),
		PinQuantity:   pinQty,
		PinsRemaining: pinsRemaining,
		EscrowBalance: types.Amount(escrow),
		CreatedAt:     time.Unix(int64(createdAtUnix), 0).UTC(),
		Claimants:     claimants,
	}, nil
}

// IsSlotExpired reports whether a slot has passed its expiry, or nil if the
// RPC call failed.
func (c *Client) IsSlotExpired(ctx context.Context, slot types.SlotId) (*bool, error) {
	ret, err := c.simulateRead(ctx, "is_slot_expired", []xdr.ScVal{encodeScU64(uint64(slot))})
	if err != nil {
		c.logger.Warn("is_slot_expired failed", zap.Error(err))
		return nil, err
	}
	b, ok := ret.GetB()
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// Participant reads a registered pinner's record. Flags, PinsCompleted,
// Staked and JoinedAt are supplemented fields (see SPEC_FULL.md) consumed
// by the facade's contract/pinner snapshots.
func (c *Client) Participant(ctx context.Context, address types.Address) (*types.Participant, error) {
	addrVal, err := encodeScAddress(address)
	if err != nil {
		return nil, err
	}
	ret, err := c.simulateRead(ctx, "get_pinner", []xdr.ScVal{addrVal})
	if err != nil {
		c.logger.Warn("get_pinner failed", zap.Error(err))
		return nil, err
	}
	if ret.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}
	fields, err := decodeEventFields(ret)
	if err != nil {
		return nil, err
	}

	nodeID, err := fieldBytesString(fields, 0)
	if err != nil {
		return nil, err
	}
	networkAddress, err := fieldBytesString(fields, 1)
	if err != nil {
		return nil, err
	}
	active := false
	if len(fields) > 2 {
		if b, ok := fields[2].GetB(); ok {
			active = b
		}
	}
	flags, _ := fieldU32(fields, 3)
	minPrice, _ := fieldU64(fields, 4)
	pinsCompleted, _ := fieldU32(fields, 5)
	staked, _ := fieldU64(fields, 6)
	joinedAtUnix, _ := fieldU64(fields, 7)

	return &types.Participant{
		Address:        address,
		NodeID:         nodeID,
		NetworkAddress: networkAddress,
		Active:         active,
		Flags:          int(flags),
		MinPrice:       types.Amount(minPrice),
		PinsCompleted:  int(pinsCompleted),
		Staked:         types.Amount(staked),
		JoinedAt:       time.Unix(int64(joinedAtUnix), 0).UTC(),
	}, nil
}

// JoinFee reads the contract's current fee to join as a pinner.
func (c *Client) JoinFee(ctx context.Context) (*types.Amount, error) {
	return c.readAmount(ctx, "join_fee")
}

// StakeAmount reads the contract's current required pinner stake.
func (c *Client) StakeAmount(ctx context.Context) (*types.Amount, error) {
	return c.readAmount(ctx, "pinner_stake_amount")
}

// PinFee reads the contract's current per-slot pin fee.
func (c *Client) PinFee(ctx context.Context) (*types.Amount, error) {
	return c.readAmount(ctx, "pin_fee")
}

// MinOfferPrice reads the contract's floor on accepted offer prices.
func (c *Client) MinOfferPrice(ctx context.Context) (*types.Amount, error) {
	return c.readAmount(ctx, "min_offer_price")
}

// MinPinQty reads the contract's floor on requested pin quantity.
func (c *Client) MinPinQty(ctx context.Context) (*uint32, error) {
	return c.readU32(ctx, "min_pin_qty")
}

// PinnerCount reads the number of pinners currently registered.
func (c *Client) PinnerCount(ctx context.Context) (*uint32, error) {
	return c.readU32(ctx, "get_pinner_count")
}

func (c *Client) readAmount(ctx context.Context, method string) (*types.Amount, error) {
	ret, err := c.simulateRead(ctx, method, nil)
	if err != nil {
		c.logger.Warn(method+" failed", zap.Error(err))
		return nil, err
	}
	u, ok := ret.GetU64()
	if !ok {
		return nil, nil
	}
	amount := types.Amount(u)
	return &amount, nil
}

func (c *Client) readU32(ctx context.Context, method string) (*uint32, error) {
	ret, err := c.simulateRead(ctx, method, nil)
	if err != nil {
		c.logger.Warn(method+" failed", zap.Error(err))
		return nil, err
	}
	u, ok := ret.GetU32()
	if !ok {
		return nil, nil
	}
	return &u, nil
}
