package ledger

import (
	"fmt"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// strkeyEncodeContract encodes a raw contract id hash into its strkey form.
func strkeyEncodeContract(id xdr.Hash) (string, error) {
	return strkey.Encode(strkey.VersionByteContract, id[:])
}

// decodeAddress converts a contract event's ScAddress into the opaque
// Address string the rest of the agent works with, strkey-encoding either
// account or contract addresses.
func decodeAddress(addr xdr.ScAddress) (types.Address, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		accountID := addr.MustAccountId()
		return types.Address(accountID.Address()), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		contractID := addr.MustContractId()
		encoded, err := strkey.Encode(strkey.VersionByteContract, contractID[:])
		if err != nil {
			return "", fmt.Errorf("encode contract address: %w", err)
		}
		return types.Address(encoded), nil
	default:
		return "", fmt.Errorf("unsupported address type %v", addr.Type)
	}
}

// decodeBytes32 copies an ScBytes value expected to carry exactly 32 bytes
// (a content-address digest).
func decodeBytes32(val xdr.ScVal) ([32]byte, error) {
	var out [32]byte
	b, ok := val.GetBytes()
	if !ok {
		return out, fmt.Errorf("expected bytes, got %v", val.Type)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32-byte digest, got %d bytes", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// topicSymbol extracts the discriminator symbol (PIN / PINNED / UNPIN) that
// always occupies topic[0].
func topicSymbol(topics []xdr.ScVal) (string, error) {
	if len(topics) == 0 {
		return "", fmt.Errorf("event has no topics")
	}
	sym, ok := topics[0].GetSym()
	if !ok {
		return "", fmt.Errorf("topic[0] is not a symbol (got %v)", topics[0].Type)
	}
	return string(sym), nil
}

// decodeEventFields unpacks the event body's ScVec into its positional
// field values. Soroban events here carry their structured payload as a
// vector in the data position, in the fixed field order named in the
// external interfaces section.
func decodeEventFields(data xdr.ScVal) ([]xdr.ScVal, error) {
	vec, ok := data.GetVec()
	if !ok || vec == nil {
		return nil, fmt.Errorf("event data is not a vector (got %v)", data.Type)
	}
	return []xdr.ScVal(*vec), nil
}

func fieldU64(fields []xdr.ScVal, idx int) (uint64, error) {
	if idx >= len(fields) {
		return 0, fmt.Errorf("missing field %d", idx)
	}
	u, ok := fields[idx].GetU64()
	if !ok {
		return 0, fmt.Errorf("field %d is not u64 (got %v)", idx, fields[idx].Type)
	}
	return uint64(u), nil
}

func fieldU32(fields []xdr.ScVal, idx int) (uint32, error) {
	if idx >= len(fields) {
		return 0, fmt.Errorf("missing field %d", idx)
	}
	u, ok := fields[idx].GetU32()
	if !ok {
		return 0, fmt.Errorf("field %d is not u32 (got %v)", idx, fields[idx].Type)
	}
	return uint32(u), nil
}

func fieldBytesString(fields []xdr.ScVal, idx int) (string, error) {
	if idx >= len(fields) {
		return "", fmt.Errorf("missing field %d", idx)
	}
	b, ok := fields[idx].GetBytes()
	if !ok {
		return "", fmt.Errorf("field %d is not bytes (got %v)", idx, fields[idx].Type)
	}
	return string(b), nil
}

func fieldAddress(fields []xdr.ScVal, idx int) (types.Address, error) {
	if idx >= len(fields) {
		return "", fmt.Errorf("missing field %d", idx)
	}
	addr, ok := fields[idx].GetAddress()
	if !ok {
		return "", fmt.Errorf("field %d is not an address (got %v)", idx, fields[idx].Type)
	}
	return decodeAddress(addr)
}

func fieldBytes32(fields []xdr.ScVal, idx int) ([32]byte, error) {
	if idx >= len(fields) {
		return [32]byte{}, fmt.Errorf("missing field %d", idx)
	}
	return decodeBytes32(fields[idx])
}

// decodedEvent is the union of the three event kinds the ingestor knows how
// to decode; exactly one field is non-nil.
type decodedEvent struct {
	Pin     *types.PinEvent
	Claimed *types.ClaimedEvent
	Freed   *types.FreedEvent
}

// decodeContractEvent dispatches on the topic symbol and decodes its
// fixed-order field vector. Unrecognized topics return a nil decodedEvent
// and no error: forward compatibility requires ignoring event kinds this
// build doesn't know about, not failing the poll.
func decodeContractEvent(event xdr.ContractEvent, ledgerSeq uint32) (*decodedEvent, error) {
	body := event.Body.V0
	if body == nil {
		return nil, fmt.Errorf("contract event has no V0 body")
	}

	kind, err := topicSymbol(body.Topics)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "PIN", "PINNED", "UNPIN":
	default:
		return nil, nil
	}

	fields, err := decodeEventFields(body.Data)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", kind, err)
	}

	switch kind {
	case "PIN":
		slot, err := fieldU64(fields, 0)
		if err != nil {
			return nil, err
		}
		cid, err := fieldBytesString(fields, 1)
		if err != nil {
			return nil, err
		}
		filename, err := fieldBytesString(fields, 2)
		if err != nil {
			return nil, err
		}
		gateway, err := fieldBytesString(fields, 3)
		if err != nil {
			return nil, err
		}
		price, err := fieldU64(fields, 4)
		if err != nil {
			return nil, err
		}
		qty, err := fieldU32(fields, 5)
		if err != nil {
			return nil, err
		}
		publisher, err := fieldAddress(fields, 6)
		if err != nil {
			return nil, err
		}
		return &decodedEvent{Pin: &types.PinEvent{
			Slot: types.SlotId(slot), CID: types.CID(cid), Filename: filename,
			GatewayURL: gateway, OfferPrice: types.Amount(price), PinQuantity: qty,
			Publisher: publisher, LedgerSequence: ledgerSeq,
		}}, nil

	case "PINNED": // on-chain name for the CLAIMED event kind
		slot, err := fieldU64(fields, 0)
		if err != nil {
			return nil, err
		}
		digest, err := fieldBytes32(fields, 1)
		if err != nil {
			return nil, err
		}
		pinner, err := fieldAddress(fields, 2)
		if err != nil {
			return nil, err
		}
		amount, err := fieldU64(fields, 3)
		if err != nil {
			return nil, err
		}
		remaining, err := fieldU32(fields, 4)
		if err != nil {
			return nil, err
		}
		return &decodedEvent{Claimed: &types.ClaimedEvent{
			Slot: types.SlotId(slot), CIDDigest: digest, Claimant: pinner,
			Amount: types.Amount(amount), PinsRemaining: remaining, LedgerSequence: ledgerSeq,
		}}, nil

	case "UNPIN": // on-chain name for the FREED event kind
		slot, err := fieldU64(fields, 0)
		if err != nil {
			return nil, err
		}
		digest, err := fieldBytes32(fields, 1)
		if err != nil {
			return nil, err
		}
		return &decodedEvent{Freed: &types.FreedEvent{
			Slot: types.SlotId(slot), CIDDigest: digest, LedgerSequence: ledgerSeq,
		}}, nil

	default:
		return nil, nil
	}
}
