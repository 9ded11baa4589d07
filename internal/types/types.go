// Package types holds the data model shared across the agent: ledger event
// records, the offer state machine, pin/claim/activity records, and the
// audit subsystem's tracked-content and tracked-pin records.
package types

import "time"

// SlotId identifies a single pin offer on the ledger.
type SlotId uint64

// CID is an opaque content-address string.
type CID string

// Address identifies a ledger account.
type Address string

// Amount is an unsigned quantity denominated in the ledger's minor unit.
type Amount uint64

// PinEvent is emitted by the contract when a publisher opens a new pin
// offer for a piece of content.
type PinEvent struct {
	Slot           SlotId
	CID            CID
	Filename       string
	GatewayURL     string
	OfferPrice     Amount
	PinQuantity    uint32
	Publisher      Address
	LedgerSequence uint32
}

// ClaimedEvent is emitted when a pinner successfully collects payment for a
// slot. On-chain this topic is named PINNED.
type ClaimedEvent struct {
	Slot           SlotId
	CIDDigest      [32]byte
	Claimant       Address
	Amount         Amount
	PinsRemaining  uint32
	LedgerSequence uint32
}

// FreedEvent is emitted when a slot's escrow is released without being
// fully claimed. On-chain this topic is named UNPIN.
type FreedEvent struct {
	Slot           SlotId
	CIDDigest      [32]byte
	LedgerSequence uint32
}

// OfferStatus is the offer lifecycle state machine described in the data
// model: pending moves to either the autonomous branch (pinning, claiming,
// claimed, filled, or pin_failed/claim_failed) or the operator-approved
// branch (awaiting_approval, approved, rejected), and any non-terminal
// status can be overridden to expired by a FreedEvent.
type OfferStatus string

const (
	OfferPending          OfferStatus = "pending"
	OfferAwaitingApproval OfferStatus = "awaiting_approval"
	OfferApproved         OfferStatus = "approved"
	OfferRejected         OfferStatus = "rejected"
	OfferPinning          OfferStatus = "pinning"
	OfferPinFailed        OfferStatus = "pin_failed"
	OfferClaiming         OfferStatus = "claiming"
	OfferClaimed          OfferStatus = "claimed"
	OfferClaimFailed      OfferStatus = "claim_failed"
	OfferFilled           OfferStatus = "filled"
	OfferExpired          OfferStatus = "expired"
)

// Offer is the mutable record tracking one slot through the lifecycle above.
type Offer struct {
	Slot           SlotId
	CID            CID
	Filename       string
	Gateway        string
	OfferPrice     Amount
	PinQuantity    uint32
	PinsRemaining  uint32
	Publisher      Address
	LedgerSequence uint32
	Status         OfferStatus
	RejectReason   string
	NetProfit      *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pin is keyed by CID; Slot and BytesPinned are optional.
type Pin struct {
	CID         CID
	Slot        *SlotId
	BytesPinned *uint64
	PinnedAt    time.Time
}

// Claim is an append-only record of a successful payment collection.
type Claim struct {
	Slot         SlotId
	CID          CID
	AmountEarned Amount
	TxID         string
	ClaimedAt    time.Time
}

// Activity is one append-only entry in the facade-visible activity log.
type Activity struct {
	ID        int64
	EventType string
	Slot      *SlotId
	CID       *CID
	Amount    *Amount
	Message   string
	CreatedAt time.Time
}

// Earnings summarizes Claim rows over several fixed windows.
type Earnings struct {
	Total Amount
	Last24h Amount
	Last7d  Amount
	Last30d Amount
	Count   int
}

// TrackedContent records content this agent published, for the audit
// subsystem to later match ClaimedEvents and FreedEvents against.
type TrackedContent struct {
	CID         CID
	CIDDigest   [32]byte
	Slot        SlotId
	Publisher   Address
	Gateway     string
	PinQuantity uint32
}

// TrackedPinStatus is the audit lifecycle: tracking toggles with verified
// and suspect as verification cycles pass or fail, terminating either in
// flag_submitted (dispute filed) or slot_freed (a FreedEvent arrived).
type TrackedPinStatus string

const (
	TrackedTracking      TrackedPinStatus = "tracking"
	TrackedVerified      TrackedPinStatus = "verified"
	TrackedSuspect       TrackedPinStatus = "suspect"
	TrackedFlagSubmitted TrackedPinStatus = "flag_submitted"
	TrackedSlotFreed     TrackedPinStatus = "slot_freed"
)

// TrackedPin is the audit subsystem's row for one (cid, claimant) pair.
type TrackedPin struct {
	CID                    CID
	Claimant               Address
	ClaimantNodeID         string
	ClaimantNetworkAddress string
	Slot                   SlotId
	ClaimedAt              time.Time
	LastVerifiedAt         *time.Time
	LastCheckedAt          *time.Time
	ConsecutiveFailures    int
	TotalChecks            int
	TotalFailures          int
	Status                 TrackedPinStatus
	FlaggedAt              *time.Time
	FlagTxID               string
}

// VerificationMethod names one probe the Verifier can run.
type VerificationMethod string

const (
	MethodProviderAdvertisement VerificationMethod = "provider_advertisement"
	MethodBlockExchange         VerificationMethod = "block_exchange"
	MethodPartialRetrieval      VerificationMethod = "partial_retrieval"
)

// MethodPassed is a tri-state outcome: a best-effort method that cannot
// observe failure reports Inconclusive rather than claiming success.
type MethodPassed string

const (
	PassedTrue         MethodPassed = "true"
	PassedFalse        MethodPassed = "false"
	PassedInconclusive MethodPassed = "inconclusive"
)

// MethodOutcome is the result of running a single verification method.
type MethodOutcome struct {
	Method     VerificationMethod
	Passed     MethodPassed
	Detail     string
	DurationMs int64
}

// VerificationResult is the composite outcome of the verifier's pipeline.
type VerificationResult struct {
	Passed            bool
	MethodUsed        VerificationMethod
	MethodsAttempted  []MethodOutcome
	DurationMs        int64
	CheckedAt         time.Time
}

// VerificationLog is the append-only persisted record of one verification.
type VerificationLog struct {
	ID               int64
	CID              CID
	Claimant         Address
	Passed           bool
	MethodUsed       VerificationMethod
	MethodsAttempted []MethodOutcome
	DurationMs       int64
	CheckedAt        time.Time
}

// CycleReport summarizes one scheduler sweep.
type CycleReport struct {
	ID          int64
	StartedAt   time.Time
	CompletedAt time.Time
	TotalChecked int
	Passed      int
	Failed      int
	Flagged     int
	Skipped     int
	Errors      int
	DurationMs  int64
}

// Flag is an append-only record of a submitted dispute.
type Flag struct {
	ID             int64
	Claimant       Address
	TxID           string
	FlagCountAfter int
	BountyEarned   *Amount
	SubmittedAt    time.Time
}

// Participant mirrors the ledger contract's registered-pinner record.
// Flags, PinsCompleted, Staked and JoinedAt come from the original
// source's fuller PinnerData shape because the facade's snapshots consume
// them too.
type Participant struct {
	Address        Address
	NodeID         string
	NetworkAddress string
	Active         bool
	Flags          int
	MinPrice       Amount
	PinsCompleted  int
	Staked         Amount
	JoinedAt       time.Time
}

// ParticipantCache is the TTL-bounded cache row backing the Participant
// Cache component.
type ParticipantCache struct {
	Address        Address
	NodeID         string
	NetworkAddress string
	Active         bool
	CachedAt       time.Time
}

// SlotInfo is the Ledger Queries' read model for one slot.
type SlotInfo struct {
	Publisher     Address
	OfferPrice    Amount
	PinQuantity   uint32
	PinsRemaining uint32
	EscrowBalance Amount
	CreatedAt     time.Time
	Claimants     []Address
}

// RuntimeMode is the Mode Controller's operating mode.
type RuntimeMode string

const (
	ModeAutonomous       RuntimeMode = "autonomous"
	ModeOperatorApproved RuntimeMode = "operator_approved"
)

// RuntimeConfig is the persisted record of tunables that survive restarts:
// operating mode and the policy filter's adjustable thresholds.
type RuntimeConfig struct {
	Mode           RuntimeMode
	MinPrice       Amount
	MaxContentSize uint64
}

// Cursor is the single persisted ledger position the ingestor resumes from.
type Cursor struct {
	LedgerSequence uint32
}

// ActionOutcome is the result of one facade write operation (approve,
// reject, mode change, policy update).
type ActionOutcome struct {
	Success bool
	Message string
}

// WalletSnapshot is the facade's formatted view of the signing account's
// balance.
type WalletSnapshot struct {
	Address        Address
	BalanceStroops Amount
	BalanceXLM     string
	CanCoverTx     bool
	EstimatedTxFee Amount
}

// EarningsSnapshot is the facade's formatted view of Earnings.
type EarningsSnapshot struct {
	TotalEarnedStroops     Amount
	TotalEarnedXLM         string
	Earned24hStroops       Amount
	Earned24hXLM           string
	Earned7dStroops        Amount
	Earned7dXLM            string
	Earned30dStroops       Amount
	Earned30dXLM           string
	ClaimsCount            int
	AveragePerClaimStroops Amount
}

// OfferSnapshot is the facade's formatted view of an Offer.
type OfferSnapshot struct {
	Slot          SlotId
	CID           CID
	Gateway       string
	OfferPrice    Amount
	OfferPriceXLM string
	PinQuantity   uint32
	PinsRemaining uint32
	Publisher     Address
	Status        OfferStatus
	NetProfit     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PinSnapshot is the facade's formatted view of a Pin.
type PinSnapshot struct {
	CID         CID
	Slot        *SlotId
	BytesPinned *uint64
	PinnedAt    time.Time
}

// ActivitySnapshot is the facade's formatted view of an Activity entry.
type ActivitySnapshot struct {
	Timestamp time.Time
	EventType string
	Slot      *SlotId
	CID       *CID
	Amount    *Amount
	Message   string
}

// PinnerSnapshot is the facade's view of our own pinner registration,
// supplemented onto Participant's fuller shape (see SPEC_FULL.md).
type PinnerSnapshot struct {
	Address        Address
	NodeID         string
	NetworkAddress string
	MinPrice       Amount
	PinsCompleted  int
	Flags          int
	Staked         Amount
	Active         bool
}

// SlotSnapshot is the facade's view of one contract slot, including whether
// this agent is among its claimants.
type SlotSnapshot struct {
	Slot          SlotId
	Active        bool
	Publisher     Address
	OfferPrice    Amount
	PinQuantity   uint32
	PinsRemaining uint32
	Expired       bool
	ClaimedByUs   bool
}

// ContractSnapshot is the facade's live view of contract-wide parameters
// and open slots: fee schedule, our own pinner registration, and the
// slots currently tracked as offers.
type ContractSnapshot struct {
	ContractID    string
	PinFee        Amount
	MinOfferPrice Amount
	MinPinQty     uint32
	PinnerStake   Amount
	PinnerCount   uint32
	OurPinner     *PinnerSnapshot
	Slots         []SlotSnapshot
}

// DashboardSnapshot is the complete, serialization-ready daemon state the
// facade assembles for a UI client.
type DashboardSnapshot struct {
	Mode          RuntimeMode
	PinnerAddress Address

	Wallet WalletSnapshot

	OffersSeen             int
	OffersAccepted         int
	OffersRejected         int
	OffersAwaitingApproval int
	PinsActive             int
	ClaimsCompleted        int

	Earnings EarningsSnapshot

	ApprovalQueue  []OfferSnapshot
	RecentActivity []ActivitySnapshot

	Contract *ContractSnapshot
}
