package audit

import (
	"context"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
)

const defaultPartialRetrievalBytes = 1024
const providerLookupLimit = 20

// Verifier runs the configured verification methods against a claimant in
// a fixed order, stopping at the first true outcome or the block_exchange
// method's false outcome.
type Verifier struct {
	probe   NodeProbe
	methods []types.VerificationMethod
}

// NewVerifier constructs a Verifier running the given methods, in order.
func NewVerifier(probe NodeProbe, methods []types.VerificationMethod) *Verifier {
	return &Verifier{probe: probe, methods: methods}
}

// Verify runs the pipeline for one (cid, node_id, network_address) claim
// within the given overall budget.
func (v *Verifier) Verify(ctx context.Context, cid types.CID, nodeID, networkAddress string, checkTimeout time.Duration) types.VerificationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var attempted []types.MethodOutcome
	result := types.VerificationResult{CheckedAt: start.UTC()}

	for _, method := range v.methods {
		outcome := v.runMethod(ctx, method, cid, nodeID, networkAddress)
		attempted = append(attempted, outcome)

		if outcome.Passed == types.PassedTrue {
			result.Passed = true
			result.MethodUsed = method
			break
		}
		if method == types.MethodBlockExchange && outcome.Passed == types.PassedFalse {
			result.MethodUsed = method
			break
		}
	}

	result.MethodsAttempted = attempted
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (v *Verifier) runMethod(ctx context.Context, method types.VerificationMethod, cid types.CID, nodeID, networkAddress string) types.MethodOutcome {
	start := time.Now()
	var outcome types.MethodOutcome
	outcome.Method = method

	switch method {
	case types.MethodProviderAdvertisement:
		outcome.Passed, outcome.Detail = v.providerAdvertisement(ctx, cid, nodeID)
	case types.MethodBlockExchange:
		outcome.Passed, outcome.Detail = v.blockExchange(ctx, cid, networkAddress)
	case types.MethodPartialRetrieval:
		outcome.Passed, outcome.Detail = v.partialRetrieval(ctx, cid)
	default:
		outcome.Passed = types.PassedInconclusive
		outcome.Detail = "unknown method"
	}

	outcome.DurationMs = time.Since(start).Milliseconds()
	return outcome
}

// providerAdvertisement is best-effort: absence of the node in the
// provider list is not proof of non-service, so a failure to find it (or a
// lookup error) is reported inconclusive rather than false.
func (v *Verifier) providerAdvertisement(ctx context.Context, cid types.CID, nodeID string) (types.MethodPassed, string) {
	providers, err := v.probe.FindProviders(ctx, cid, providerLookupLimit)
	if err != nil {
		return types.PassedInconclusive, "provider lookup failed: " + err.Error()
	}
	for _, p := range providers {
		if p == nodeID {
			return types.PassedTrue, "node found among providers"
		}
	}
	return types.PassedInconclusive, "node not found among providers"
}

// blockExchange is the only definitive-false method: a failed connect, a
// timeout, or an empty block response all mean the claimant does not
// actually have the content.
func (v *Verifier) blockExchange(ctx context.Context, cid types.CID, networkAddress string) (types.MethodPassed, string) {
	if err := v.probe.Connect(ctx, networkAddress); err != nil {
		return types.PassedFalse, "connect failed: " + err.Error()
	}
	block, err := v.probe.GetBlock(ctx, cid)
	if err != nil {
		return types.PassedFalse, "block request failed: " + err.Error()
	}
	if len(block) == 0 {
		return types.PassedFalse, "empty block response"
	}
	return types.PassedTrue, "block received"
}

// partialRetrieval is definitive on success, false on failure — it never
// reports inconclusive.
func (v *Verifier) partialRetrieval(ctx context.Context, cid types.CID) (types.MethodPassed, string) {
	data, err := v.probe.Cat(ctx, cid, defaultPartialRetrievalBytes)
	if err != nil {
		return types.PassedFalse, "retrieval failed: " + err.Error()
	}
	if len(data) == 0 {
		return types.PassedFalse, "empty retrieval response"
	}
	return types.PassedTrue, "partial content retrieved"
}
