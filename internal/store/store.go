// Package store implements the State Store: the single durable,
// crash-safe record of offers, claims, pins, activity, and audit tracking.
// All mutations are serialized through one *sql.DB held open with a single
// connection (SQLite permits only one writer); reads use that same
// connection, so they are serialized with each other and with writes.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

const timeLayout = time.RFC3339Nano

// Store is the durable state store: cursor, runtime config, offers,
// claims, pins, activity log, tracked content/pins, verification log and
// cycles, flag history, and the participant cache.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if absent) the SQLite database at path in WAL mode
// and caps the connection pool at one, since SQLite allows only one writer
// at a time; this mirrors the single-writer discipline the data model
// requires.
func Open(path string, logger *zap.Logger) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStorageFailure, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// init creates the schema if absent. Idempotent: every statement uses
// CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS.
func (s *Store) init() error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: init schema: %v", ErrStorageFailure, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetCursor returns the last persisted ledger sequence, or ok=false if
// never set.
func (s *Store) GetCursor() (seq uint32, ok bool, err error) {
	row := s.db.QueryRow(`SELECT ledger_sequence FROM cursor WHERE id = 1`)
	if err := row.Scan(&seq); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: get cursor: %v", ErrStorageFailure, err)
	}
	return seq, true, nil
}

// SetCursor upserts the single cursor row.
func (s *Store) SetCursor(seq uint32) error {
	_, err := s.db.Exec(`
		INSERT INTO cursor (id, ledger_sequence) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET ledger_sequence = excluded.ledger_sequence`, seq)
	if err != nil {
		return fmt.Errorf("%w: set cursor: %v", ErrStorageFailure, err)
	}
	return nil
}

// GetRuntimeConfig returns the persisted runtime config, or defaults if
// never set.
func (s *Store) GetRuntimeConfig(defaults types.RuntimeConfig) (types.RuntimeConfig, error) {
	row := s.db.QueryRow(`SELECT mode, min_price, max_content_size FROM runtime_config WHERE id = 1`)
	var cfg types.RuntimeConfig
	var mode string
	var minPrice, maxSize int64
	if err := row.Scan(&mode, &minPrice, &maxSize); err != nil {
		if err == sql.ErrNoRows {
			return defaults, nil
		}
		return types.RuntimeConfig{}, fmt.Errorf("%w: get runtime config: %v", ErrStorageFailure, err)
	}
	cfg.Mode = types.RuntimeMode(mode)
	cfg.MinPrice = types.Amount(minPrice)
	cfg.MaxContentSize = uint64(maxSize)
	return cfg, nil
}

// SetRuntimeConfig partially updates the single runtime_config row: any nil
// pointer preserves the existing (or default) value for that field.
func (s *Store) SetRuntimeConfig(mode *types.RuntimeMode, minPrice *types.Amount, maxContentSize *uint64, defaults types.RuntimeConfig) error {
	current, err := s.GetRuntimeConfig(defaults)
	if err != nil {
		return err
	}
	if mode != nil {
		current.Mode = *mode
	}
	if minPrice != nil {
		current.MinPrice = *minPrice
	}
	if maxContentSize != nil {
		current.MaxContentSize = *maxContentSize
	}
	_, err = s.db.Exec(`
		INSERT INTO runtime_config (id, mode, min_price, max_content_size) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mode = excluded.mode, min_price = excluded.min_price,
			max_content_size = excluded.max_content_size`,
		string(current.Mode), int64(current.MinPrice), int64(current.MaxContentSize))
	if err != nil {
		return fmt.Errorf("%w: set runtime config: %v", ErrStorageFailure, err)
	}
	return nil
}

// SaveOffer upserts an offer row built from a PinEvent at the given initial
// status. Keyed by slot: re-seeing the same slot (e.g. after a cursor
// replay) overwrites rather than duplicates.
func (s *Store) SaveOffer(event types.PinEvent, status types.OfferStatus) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.Exec(`
		INSERT INTO offers (slot, cid, filename, gateway, offer_price, pin_quantity,
			pins_remaining, publisher, ledger_sequence, status, reject_reason, net_profit,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			cid = excluded.cid, filename = excluded.filename, gateway = excluded.gateway,
			offer_price = excluded.offer_price, pin_quantity = excluded.pin_quantity,
			pins_remaining = excluded.pins_remaining, publisher = excluded.publisher,
			ledger_sequence = excluded.ledger_sequence, updated_at = excluded.updated_at`,
		uint64(event.Slot), string(event.CID), event.Filename, event.GatewayURL,
		uint64(event.OfferPrice), event.PinQuantity, event.PinQuantity, string(event.Publisher),
		event.LedgerSequence, string(status), now, now)
	if err != nil {
		return fmt.Errorf("%w: save offer: %v", ErrStorageFailure, err)
	}
	return nil
}

// GetOffer returns the offer for slot, or ok=false if absent.
func (s *Store) GetOffer(slot types.SlotId) (types.Offer, bool, error) {
	row := s.db.QueryRow(`SELECT slot, cid, filename, gateway, offer_price, pin_quantity,
		pins_remaining, publisher, ledger_sequence, status, reject_reason, net_profit,
		created_at, updated_at FROM offers WHERE slot = ?`, uint64(slot))
	offer, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return types.Offer{}, false, nil
	}
	if err != nil {
		return types.Offer{}, false, fmt.Errorf("%w: get offer: %v", ErrStorageFailure, err)
	}
	return offer, true, nil
}

// UpdateOfferStatus transitions an offer's status, optionally recording a
// reject reason.
func (s *Store) UpdateOfferStatus(slot types.SlotId, status types.OfferStatus, rejectReason string) error {
	now := time.Now().UTC().Format(timeLayout)
	var err error
	if rejectReason != "" {
		_, err = s.db.Exec(`UPDATE offers SET status = ?, reject_reason = ?, updated_at = ? WHERE slot = ?`,
			string(status), rejectReason, now, uint64(slot))
	} else {
		_, err = s.db.Exec(`UPDATE offers SET status = ?, updated_at = ? WHERE slot = ?`,
			string(status), now, uint64(slot))
	}
	if err != nil {
		return fmt.Errorf("%w: update offer status: %v", ErrStorageFailure, err)
	}
	return nil
}

// ByStatus returns all offers currently in the given status.
func (s *Store) ByStatus(status types.OfferStatus) ([]types.Offer, error) {
	rows, err := s.db.Query(`SELECT slot, cid, filename, gateway, offer_price, pin_quantity,
		pins_remaining, publisher, ledger_sequence, status, reject_reason, net_profit,
		created_at, updated_at FROM offers WHERE status = ? ORDER BY slot`, string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: by status: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return scanOffers(rows)
}

// ApprovalQueue returns all offers awaiting operator approval.
func (s *Store) ApprovalQueue() ([]types.Offer, error) {
	return s.ByStatus(types.OfferAwaitingApproval)
}

// AllOffers returns every offer, most recently created first.
func (s *Store) AllOffers() ([]types.Offer, error) {
	rows, err := s.db.Query(`SELECT slot, cid, filename, gateway, offer_price, pin_quantity,
		pins_remaining, publisher, ledger_sequence, status, reject_reason, net_profit,
		created_at, updated_at FROM offers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: all offers: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return scanOffers(rows)
}

func scanOffer(row *sql.Row) (types.Offer, error) {
	var o types.Offer
	var slot, pinQty, pinsRemaining, ledgerSeq uint64
	var offerPrice uint64
	var rejectReason sql.NullString
	var netProfit sql.NullInt64
	var createdAt, updatedAt string
	var status string
	if err := row.Scan(&slot, &o.CID, &o.Filename, &o.Gateway, &offerPrice, &pinQty,
		&pinsRemaining, &o.Publisher, &ledgerSeq, &status, &rejectReason, &netProfit,
		&createdAt, &updatedAt); err != nil {
		return types.Offer{}, err
	}
	o.Slot = types.SlotId(slot)
	o.OfferPrice = types.Amount(offerPrice)
	o.PinQuantity = uint32(pinQty)
	o.PinsRemaining = uint32(pinsRemaining)
	o.LedgerSequence = uint32(ledgerSeq)
	o.Status = types.OfferStatus(status)
	if rejectReason.Valid {
		o.RejectReason = rejectReason.String
	}
	if netProfit.Valid {
		o.NetProfit = &netProfit.Int64
	}
	o.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	o.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return o, nil
}

func scanOffers(rows *sql.Rows) ([]types.Offer, error) {
	var out []types.Offer
	for rows.Next() {
		var o types.Offer
		var slot, pinQty, pinsRemaining, ledgerSeq uint64
		var offerPrice uint64
		var rejectReason sql.NullString
		var netProfit sql.NullInt64
		var createdAt, updatedAt string
		var status string
		if err := rows.Scan(&slot, &o.CID, &o.Filename, &o.Gateway, &offerPrice, &pinQty,
			&pinsRemaining, &o.Publisher, &ledgerSeq, &status, &rejectReason, &netProfit,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan offer: %v", ErrStorageFailure, err)
		}
		o.Slot = types.SlotId(slot)
		o.OfferPrice = types.Amount(offerPrice)
		o.PinQuantity = uint32(pinQty)
		o.PinsRemaining = uint32(pinsRemaining)
		o.LedgerSequence = uint32(ledgerSeq)
		o.Status = types.OfferStatus(status)
		if rejectReason.Valid {
			o.RejectReason = rejectReason.String
		}
		if netProfit.Valid {
			o.NetProfit = &netProfit.Int64
		}
		o.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		o.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveClaim appends a claim row.
func (s *Store) SaveClaim(claim types.Claim) error {
	_, err := s.db.Exec(`INSERT INTO claims (slot, cid, amount_earned, tx_id, claimed_at)
		VALUES (?, ?, ?, ?, ?)`,
		uint64(claim.Slot), string(claim.CID), uint64(claim.AmountEarned), claim.TxID,
		claim.ClaimedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: save claim: %v", ErrStorageFailure, err)
	}
	return nil
}

// Earnings computes total and windowed (24h/7d/30d) sums over claim rows.
func (s *Store) Earnings() (types.Earnings, error) {
	var e types.Earnings
	now := time.Now().UTC()

	total, count, err := s.sumEarningsSince(nil)
	if err != nil {
		return types.Earnings{}, err
	}
	e.Total = total
	e.Count = count

	since24h := now.Add(-24 * time.Hour)
	if e.Last24h, _, err = s.sumEarningsSince(&since24h); err != nil {
		return types.Earnings{}, err
	}
	since7d := now.Add(-7 * 24 * time.Hour)
	if e.Last7d, _, err = s.sumEarningsSince(&since7d); err != nil {
		return types.Earnings{}, err
	}
	since30d := now.Add(-30 * 24 * time.Hour)
	if e.Last30d, _, err = s.sumEarningsSince(&since30d); err != nil {
		return types.Earnings{}, err
	}
	return e, nil
}

func (s *Store) sumEarningsSince(since *time.Time) (types.Amount, int, error) {
	var total sql.NullInt64
	var count int
	var row *sql.Row
	if since != nil {
		row = s.db.QueryRow(`SELECT COALESCE(SUM(amount_earned), 0), COUNT(*) FROM claims WHERE claimed_at >= ?`,
			since.Format(timeLayout))
	} else {
		row = s.db.QueryRow(`SELECT COALESCE(SUM(amount_earned), 0), COUNT(*) FROM claims`)
	}
	if err := row.Scan(&total, &count); err != nil {
		return 0, 0, fmt.Errorf("%w: sum earnings: %v", ErrStorageFailure, err)
	}
	return types.Amount(total.Int64), count, nil
}

// SavePin upserts a pin row keyed by CID.
func (s *Store) SavePin(cid types.CID, slot *types.SlotId, bytesPinned *uint64) error {
	var slotVal interface{}
	if slot != nil {
		slotVal = uint64(*slot)
	}
	_, err := s.db.Exec(`
		INSERT INTO pins (cid, slot, bytes_pinned, pinned_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(cid) DO UPDATE SET slot = excluded.slot, bytes_pinned = excluded.bytes_pinned,
			pinned_at = excluded.pinned_at`,
		string(cid), slotVal, bytesPinned, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: save pin: %v", ErrStorageFailure, err)
	}
	return nil
}

// IsPinned reports whether cid has a pin row.
func (s *Store) IsPinned(cid types.CID) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pins WHERE cid = ?`, string(cid)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: is pinned: %v", ErrStorageFailure, err)
	}
	return true, nil
}

// AllPins returns every pin row.
func (s *Store) AllPins() ([]types.Pin, error) {
	rows, err := s.db.Query(`SELECT cid, slot, bytes_pinned, pinned_at FROM pins ORDER BY pinned_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: all pins: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []types.Pin
	for rows.Next() {
		var p types.Pin
		var slot sql.NullInt64
		var bytesPinned sql.NullInt64
		var pinnedAt string
		if err := rows.Scan(&p.CID, &slot, &bytesPinned, &pinnedAt); err != nil {
			return nil, fmt.Errorf("%w: scan pin: %v", ErrStorageFailure, err)
		}
		if slot.Valid {
			s := types.SlotId(slot.Int64)
			p.Slot = &s
		}
		if bytesPinned.Valid {
			b := uint64(bytesPinned.Int64)
			p.BytesPinned = &b
		}
		p.PinnedAt, _ = time.Parse(timeLayout, pinnedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LogActivity appends an entry to the activity log.
func (s *Store) LogActivity(eventType, message string, slot *types.SlotId, cid *types.CID, amount *types.Amount) error {
	var slotVal, amountVal interface{}
	var cidVal interface{}
	if slot != nil {
		slotVal = uint64(*slot)
	}
	if cid != nil {
		cidVal = string(*cid)
	}
	if amount != nil {
		amountVal = uint64(*amount)
	}
	_, err := s.db.Exec(`INSERT INTO activity_log (event_type, slot, cid, amount, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		eventType, slotVal, cidVal, amountVal, message, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: log activity: %v", ErrStorageFailure, err)
	}
	return nil
}

// RecentActivity returns up to limit most recent activity entries.
func (s *Store) RecentActivity(limit int) ([]types.Activity, error) {
	rows, err := s.db.Query(`SELECT id, event_type, slot, cid, amount, message, created_at
		FROM activity_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: recent activity: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []types.Activity
	for rows.Next() {
		var a types.Activity
		var slot, amount sql.NullInt64
		var cid sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.EventType, &slot, &cid, &amount, &a.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan activity: %v", ErrStorageFailure, err)
		}
		if slot.Valid {
			s := types.SlotId(slot.Int64)
			a.Slot = &s
		}
		if cid.Valid {
			c := types.CID(cid.String)
			a.CID = &c
		}
		if amount.Valid {
			am := types.Amount(amount.Int64)
			a.Amount = &am
		}
		a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveTrackedContent records content this agent published, keyed by CID,
// created once when its PinEvent is observed.
func (s *Store) SaveTrackedContent(tc types.TrackedContent) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO tracked_content (cid, cid_digest, slot, publisher, gateway, pin_quantity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(tc.CID), fmt.Sprintf("%x", tc.CIDDigest), uint64(tc.Slot), string(tc.Publisher), tc.Gateway, tc.PinQuantity)
	if err != nil {
		return fmt.Errorf("%w: save tracked content: %v", ErrStorageFailure, err)
	}
	return nil
}

// TrackedContentBySlot looks up tracked content by its originating slot —
// the match key deliberately used throughout the audit subsystem instead of
// the cid digest (see design notes).
func (s *Store) TrackedContentBySlot(slot types.SlotId) (types.TrackedContent, bool, error) {
	row := s.db.QueryRow(`SELECT cid, cid_digest, slot, publisher, gateway, pin_quantity
		FROM tracked_content WHERE slot = ?`, uint64(slot))
	var tc types.TrackedContent
	var slotVal uint64
	var digestHex string
	if err := row.Scan(&tc.CID, &digestHex, &slotVal, &tc.Publisher, &tc.Gateway, &tc.PinQuantity); err != nil {
		if err == sql.ErrNoRows {
			return types.TrackedContent{}, false, nil
		}
		return types.TrackedContent{}, false, fmt.Errorf("%w: tracked content by slot: %v", ErrStorageFailure, err)
	}
	tc.Slot = types.SlotId(slotVal)
	fmt.Sscanf(digestHex, "%x", &tc.CIDDigest)
	return tc, true, nil
}

// SaveTrackedPin upserts a tracked pin row, keyed by (cid, claimant).
func (s *Store) SaveTrackedPin(tp types.TrackedPin) error {
	var lastVerified, lastChecked, flaggedAt interface{}
	if tp.LastVerifiedAt != nil {
		lastVerified = tp.LastVerifiedAt.UTC().Format(timeLayout)
	}
	if tp.LastCheckedAt != nil {
		lastChecked = tp.LastCheckedAt.UTC().Format(timeLayout)
	}
	if tp.FlaggedAt != nil {
		flaggedAt = tp.FlaggedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.Exec(`
		INSERT INTO tracked_pins (cid, claimant, claimant_node_id, claimant_network_address, slot,
			claimed_at, last_verified_at, last_checked_at, consecutive_failures, total_checks,
			total_failures, status, flagged_at, flag_tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cid, claimant) DO UPDATE SET
			claimant_node_id = excluded.claimant_node_id,
			claimant_network_address = excluded.claimant_network_address,
			slot = excluded.slot, claimed_at = excluded.claimed_at,
			last_verified_at = excluded.last_verified_at, last_checked_at = excluded.last_checked_at,
			consecutive_failures = excluded.consecutive_failures, total_checks = excluded.total_checks,
			total_failures = excluded.total_failures, status = excluded.status,
			flagged_at = excluded.flagged_at, flag_tx_id = excluded.flag_tx_id`,
		string(tp.CID), string(tp.Claimant), tp.ClaimantNodeID, tp.ClaimantNetworkAddress,
		uint64(tp.Slot), tp.ClaimedAt.UTC().Format(timeLayout), lastVerified, lastChecked,
		tp.ConsecutiveFailures, tp.TotalChecks, tp.TotalFailures, string(tp.Status), flaggedAt, tp.FlagTxID)
	if err != nil {
		return fmt.Errorf("%w: save tracked pin: %v", ErrStorageFailure, err)
	}
	return nil
}

// TrackedPins returns tracked pins, optionally filtered to the given set of
// statuses (empty = all).
func (s *Store) TrackedPins(statuses ...types.TrackedPinStatus) ([]types.TrackedPin, error) {
	query := `SELECT cid, claimant, claimant_node_id, claimant_network_address, slot, claimed_at,
		last_verified_at, last_checked_at, consecutive_failures, total_checks, total_failures,
		status, flagged_at, flag_tx_id FROM tracked_pins`
	args := []interface{}{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(placeholders, ",") + ")"
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: tracked pins: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return scanTrackedPins(rows)
}

// TrackedPinsBySlot returns every tracked pin belonging to a slot.
func (s *Store) TrackedPinsBySlot(slot types.SlotId) ([]types.TrackedPin, error) {
	rows, err := s.db.Query(`SELECT cid, claimant, claimant_node_id, claimant_network_address, slot,
		claimed_at, last_verified_at, last_checked_at, consecutive_failures, total_checks,
		total_failures, status, flagged_at, flag_tx_id FROM tracked_pins WHERE slot = ?`, uint64(slot))
	if err != nil {
		return nil, fmt.Errorf("%w: tracked pins by slot: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	return scanTrackedPins(rows)
}

func scanTrackedPins(rows *sql.Rows) ([]types.TrackedPin, error) {
	var out []types.TrackedPin
	for rows.Next() {
		tp, err := scanTrackedPinRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan tracked pin: %v", ErrStorageFailure, err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

func scanTrackedPinRow(rows *sql.Rows) (types.TrackedPin, error) {
	var tp types.TrackedPin
	var slot uint64
	var claimedAt string
	var lastVerified, lastChecked, flaggedAt, flagTxID sql.NullString
	var status string
	if err := rows.Scan(&tp.CID, &tp.Claimant, &tp.ClaimantNodeID, &tp.ClaimantNetworkAddress,
		&slot, &claimedAt, &lastVerified, &lastChecked, &tp.ConsecutiveFailures, &tp.TotalChecks,
		&tp.TotalFailures, &status, &flaggedAt, &flagTxID); err != nil {
		return types.TrackedPin{}, err
	}
	tp.Slot = types.SlotId(slot)
	tp.Status = types.TrackedPinStatus(status)
	tp.ClaimedAt, _ = time.Parse(timeLayout, claimedAt)
	if lastVerified.Valid {
		t, _ := time.Parse(timeLayout, lastVerified.String)
		tp.LastVerifiedAt = &t
	}
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		tp.LastCheckedAt = &t
	}
	if flaggedAt.Valid {
		t, _ := time.Parse(timeLayout, flaggedAt.String)
		tp.FlaggedAt = &t
	}
	if flagTxID.Valid {
		tp.FlagTxID = flagTxID.String
	}
	return tp, nil
}

// UpdateTrackedPin applies a partial update to one tracked pin. Supplying a
// non-nil consecutiveFailures also increments total_checks, and increments
// total_failures when the new value is non-zero — matching the original
// source's update semantics that this value is only ever supplied by the
// scheduler after a verification attempt.
func (s *Store) UpdateTrackedPin(cid types.CID, claimant types.Address, status *types.TrackedPinStatus,
	consecutiveFailures *int, lastVerifiedAt, lastCheckedAt, flaggedAt *time.Time, flagTxID *string) error {

	sets := []string{}
	args := []interface{}{}

	if status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*status))
	}
	if consecutiveFailures != nil {
		sets = append(sets, "consecutive_failures = ?", "total_checks = total_checks + 1")
		args = append(args, *consecutiveFailures)
		if *consecutiveFailures != 0 {
			sets = append(sets, "total_failures = total_failures + 1")
		}
	}
	if lastVerifiedAt != nil {
		sets = append(sets, "last_verified_at = ?")
		args = append(args, lastVerifiedAt.UTC().Format(timeLayout))
	}
	if lastCheckedAt != nil {
		sets = append(sets, "last_checked_at = ?")
		args = append(args, lastCheckedAt.UTC().Format(timeLayout))
	}
	if flaggedAt != nil {
		sets = append(sets, "flagged_at = ?")
		args = append(args, flaggedAt.UTC().Format(timeLayout))
	}
	if flagTxID != nil {
		sets = append(sets, "flag_tx_id = ?")
		args = append(args, *flagTxID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, string(cid), string(claimant))
	query := fmt.Sprintf("UPDATE tracked_pins SET %s WHERE cid = ? AND claimant = ?", strings.Join(sets, ", "))
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("%w: update tracked pin: %v", ErrStorageFailure, err)
	}
	return nil
}

// RecordVerification appends a verification log entry, JSON-encoding the
// methods-attempted structure.
func (s *Store) RecordVerification(cid types.CID, claimant types.Address, result types.VerificationResult) error {
	methodsJSON, err := json.Marshal(result.MethodsAttempted)
	if err != nil {
		return fmt.Errorf("%w: encode methods attempted: %v", ErrStorageFailure, err)
	}
	passed := 0
	if result.Passed {
		passed = 1
	}
	_, err = s.db.Exec(`INSERT INTO verification_log (cid, claimant, passed, method_used,
		methods_attempted, duration_ms, checked_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(cid), string(claimant), passed, string(result.MethodUsed), string(methodsJSON),
		result.DurationMs, result.CheckedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: record verification: %v", ErrStorageFailure, err)
	}
	return nil
}

// SaveCycle appends a cycle report.
func (s *Store) SaveCycle(report types.CycleReport) error {
	_, err := s.db.Exec(`INSERT INTO verification_cycles (started_at, completed_at, total_checked,
		passed, failed, flagged, skipped, errors, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.StartedAt.UTC().Format(timeLayout), report.CompletedAt.UTC().Format(timeLayout),
		report.TotalChecked, report.Passed, report.Failed, report.Flagged, report.Skipped,
		report.Errors, report.DurationMs)
	if err != nil {
		return fmt.Errorf("%w: save cycle: %v", ErrStorageFailure, err)
	}
	return nil
}

// CycleHistory returns up to limit most recent cycle reports.
func (s *Store) CycleHistory(limit int) ([]types.CycleReport, error) {
	rows, err := s.db.Query(`SELECT id, started_at, completed_at, total_checked, passed, failed,
		flagged, skipped, errors, duration_ms FROM verification_cycles
		ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: cycle history: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []types.CycleReport
	for rows.Next() {
		var c types.CycleReport
		var startedAt, completedAt string
		if err := rows.Scan(&c.ID, &startedAt, &completedAt, &c.TotalChecked, &c.Passed, &c.Failed,
			&c.Flagged, &c.Skipped, &c.Errors, &c.DurationMs); err != nil {
			return nil, fmt.Errorf("%w: scan cycle: %v", ErrStorageFailure, err)
		}
		c.StartedAt, _ = time.Parse(timeLayout, startedAt)
		c.CompletedAt, _ = time.Parse(timeLayout, completedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveFlag appends a flag record.
func (s *Store) SaveFlag(flag types.Flag) error {
	var bounty interface{}
	if flag.BountyEarned != nil {
		bounty = uint64(*flag.BountyEarned)
	}
	_, err := s.db.Exec(`INSERT INTO flag_history (claimant, tx_id, flag_count_after, bounty_earned,
		submitted_at) VALUES (?, ?, ?, ?, ?)`,
		string(flag.Claimant), flag.TxID, flag.FlagCountAfter, bounty, flag.SubmittedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: save flag: %v", ErrStorageFailure, err)
	}
	return nil
}

// FlagHistory returns every flag record, most recent first.
func (s *Store) FlagHistory() ([]types.Flag, error) {
	rows, err := s.db.Query(`SELECT id, claimant, tx_id, flag_count_after, bounty_earned, submitted_at
		FROM flag_history ORDER BY submitted_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: flag history: %v", ErrStorageFailure, err)
	}
	defer rows.Close()
	var out []types.Flag
	for rows.Next() {
		var f types.Flag
		var bounty sql.NullInt64
		var submittedAt string
		if err := rows.Scan(&f.ID, &f.Claimant, &f.TxID, &f.FlagCountAfter, &bounty, &submittedAt); err != nil {
			return nil, fmt.Errorf("%w: scan flag: %v", ErrStorageFailure, err)
		}
		if bounty.Valid {
			a := types.Amount(bounty.Int64)
			f.BountyEarned = &a
		}
		f.SubmittedAt, _ = time.Parse(timeLayout, submittedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// HasFlagged reports whether a Flag row already exists for claimant — used
// by the dispute submitter to avoid resubmitting against an already-flagged
// participant without consulting the chain.
func (s *Store) HasFlagged(claimant types.Address) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM flag_history WHERE claimant = ? LIMIT 1`, string(claimant)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: has flagged: %v", ErrStorageFailure, err)
	}
	return true, nil
}

// GetCachedParticipant returns the cached participant row for address, if
// any. Freshness is judged by the caller against CachedAt.
func (s *Store) GetCachedParticipant(address types.Address) (types.ParticipantCache, bool, error) {
	row := s.db.QueryRow(`SELECT address, node_id, network_address, active, cached_at
		FROM participant_cache WHERE address = ?`, string(address))
	var pc types.ParticipantCache
	var active int
	var cachedAt string
	if err := row.Scan(&pc.Address, &pc.NodeID, &pc.NetworkAddress, &active, &cachedAt); err != nil {
		if err == sql.ErrNoRows {
			return types.ParticipantCache{}, false, nil
		}
		return types.ParticipantCache{}, false, fmt.Errorf("%w: get cached participant: %v", ErrStorageFailure, err)
	}
	pc.Active = active != 0
	pc.CachedAt, _ = time.Parse(timeLayout, cachedAt)
	return pc, true, nil
}

// PutCachedParticipant overwrites the cache row for a participant.
func (s *Store) PutCachedParticipant(p types.Participant) error {
	active := 0
	if p.Active {
		active = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO participant_cache (address, node_id, network_address, active, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET node_id = excluded.node_id,
			network_address = excluded.network_address, active = excluded.active,
			cached_at = excluded.cached_at`,
		string(p.Address), p.NodeID, p.NetworkAddress, active, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: put cached participant: %v", ErrStorageFailure, err)
	}
	return nil
}
