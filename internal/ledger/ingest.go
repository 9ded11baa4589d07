package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stellar/go/ingest"
	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"
	"go.uber.org/zap"
)

// ErrIngestFailure wraps any transport error from the ledger RPC endpoint.
// A poll that fails this way is aborted without advancing the cursor.
type ErrIngestFailure struct{ Cause error }

func (e *ErrIngestFailure) Error() string { return fmt.Sprintf("ingest failure: %v", e.Cause) }
func (e *ErrIngestFailure) Unwrap() error { return e.Cause }

// Event is the tagged union the ingestor hands to the orchestrator: exactly
// one of the three pointers is non-nil.
type Event struct {
	Pin     *types.PinEvent
	Claimed *types.ClaimedEvent
	Freed   *types.FreedEvent
}

// Ingestor polls the ledger RPC for raw ledgers, decodes their contract
// events, and maintains a resumable pagination cursor. The underlying RPC
// client paginates with an opaque string cursor token while the rest of the
// agent persists only the integer ledger sequence (see the design notes'
// cursor-semantics open question); RestoreCursor bridges the two by
// re-deriving a fresh string cursor from the integer sequence on startup.
type Ingestor struct {
	client            *Client
	networkPassphrase string
	contractID        string
	logger            *zap.Logger

	cursor      string
	lastLedger  uint32
	haveCursor  bool
}

// NewIngestor constructs an Ingestor bound to the given RPC client.
func NewIngestor(client *Client, networkPassphrase, contractID string, logger *zap.Logger) *Ingestor {
	return &Ingestor{client: client, networkPassphrase: networkPassphrase, contractID: contractID, logger: logger}
}

// RestoreCursor seeds the ingestor from a persisted integer ledger
// sequence. The pagination cursor format is "{ledger}-{index}"; restoring
// to sub-index 0 means the first poll may re-observe events already
// emitted at that ledger. Offer and tracked-pin writes are upserts (offers
// keyed by slot, tracked pins by cid and claimant), so a replay does not
// duplicate them; activity-log entries are appended again.
func (ig *Ingestor) RestoreCursor(seq uint32) {
	ig.cursor = fmt.Sprintf("%d-0", seq)
	ig.haveCursor = true
	ig.lastLedger = seq
}

// Cursor returns the last observed ledger sequence, extracted from the
// pagination cursor token by its leading integer component.
func (ig *Ingestor) Cursor() uint32 {
	if !ig.haveCursor {
		return ig.lastLedger
	}
	parts := strings.SplitN(ig.cursor, "-", 2)
	seq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return ig.lastLedger
	}
	return uint32(seq)
}

// Poll fetches the next page of ledgers, decodes every PIN/PINNED/UNPIN
// contract event found in them (for this agent's configured contract, in
// successfully-applied transactions only) and returns them in ledger order,
// and within a ledger in emission order. On first call with no cursor, it
// starts from the ledger tip.
func (ig *Ingestor) Poll(ctx context.Context) ([]Event, error) {
	req := protocol.GetLedgersRequest{
		Pagination: &protocol.LedgerPaginationOptions{Limit: 100},
	}
	if ig.haveCursor {
		req.Pagination.Cursor = ig.cursor
	} else {
		latest, err := ig.client.rpc.GetLatestLedger(ctx)
		if err != nil {
			return nil, &ErrIngestFailure{Cause: err}
		}
		req.StartLedger = latest.Sequence
	}

	resp, err := ig.client.rpc.GetLedgers(ctx, req)
	if err != nil {
		return nil, &ErrIngestFailure{Cause: err}
	}

	var events []Event
	for _, ledgerInfo := range resp.Ledgers {
		var meta xdr.LedgerCloseMeta
		if err := xdr.SafeUnmarshalBase64(ledgerInfo.LedgerMetadata, &meta); err != nil {
			ig.logger.Warn("failed to decode ledger metadata", zap.Uint32("ledger", ledgerInfo.Sequence), zap.Error(err))
			continue
		}
		decoded, err := ig.decodeLedger(meta)
		if err != nil {
			ig.logger.Warn("failed to read ledger transactions", zap.Uint32("ledger", ledgerInfo.Sequence), zap.Error(err))
			continue
		}
		events = append(events, decoded...)
	}

	if resp.Cursor != "" {
		ig.cursor = resp.Cursor
	} else if len(resp.Ledgers) > 0 {
		ig.cursor = fmt.Sprintf("%d-0", resp.Ledgers[len(resp.Ledgers)-1].Sequence)
	}
	ig.haveCursor = true
	if len(resp.Ledgers) > 0 {
		ig.lastLedger = resp.Ledgers[len(resp.Ledgers)-1].Sequence
	}

	return events, nil
}

func (ig *Ingestor) decodeLedger(meta xdr.LedgerCloseMeta) ([]Event, error) {
	sequence := meta.LedgerSequence()
	txReader, err := ingest.NewLedgerTransactionReaderFromLedgerCloseMeta(ig.networkPassphrase, meta)
	if err != nil {
		return nil, fmt.Errorf("transaction reader: %w", err)
	}
	defer txReader.Close()

	var events []Event
	for {
		tx, err := txReader.Read()
		if err == ingest.ErrEndOfLedger {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read transaction: %w", err)
		}

		// Events emitted during a failed contract invocation are dropped.
		if !tx.Result.Successful() {
			continue
		}

		txEvents, err := tx.GetTransactionEvents()
		if err != nil {
			continue
		}

		for _, opEvents := range txEvents.OperationEvents {
			for _, evt := range opEvents {
				if evt.Type != xdr.ContractEventTypeContract {
					continue
				}
				if !ig.forOurContract(evt) {
					continue
				}
				decoded, err := decodeContractEvent(evt, sequence)
				if err != nil {
					ig.logger.Warn("failed to decode contract event", zap.Uint32("ledger", sequence), zap.Error(err))
					continue
				}
				if decoded == nil {
					continue // unrecognized topic: forward compatibility
				}
				events = append(events, toEvent(*decoded))
			}
		}
	}
	return events, nil
}

func (ig *Ingestor) forOurContract(evt xdr.ContractEvent) bool {
	if evt.ContractId == nil {
		return false
	}
	encoded, err := strkeyEncodeContract(*evt.ContractId)
	if err != nil {
		return false
	}
	return encoded == ig.contractID
}

func toEvent(d decodedEvent) Event {
	return Event{Pin: d.Pin, Claimed: d.Claimed, Freed: d.Freed}
}
