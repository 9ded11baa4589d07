// Package ledger implements the Event Ingestor and Ledger Queries
// components: polling the Soroban RPC endpoint for PIN/PINNED/UNPIN
// contract events, and issuing read-only contract simulations and signed
// submissions against the pinning contract.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	rpcclient "github.com/stellar/stellar-rpc/client"
	"github.com/stellar/stellar-rpc/protocol"
	"go.uber.org/zap"
)

const stroopsPerXLM = 10_000_000

// Client wraps the Soroban RPC client and the signing key used to submit
// transactions on this agent's behalf. It is the concrete backing for both
// the Event Ingestor and the Ledger Queries component.
type Client struct {
	rpc               *rpcclient.Client
	httpClient        *http.Client
	networkPassphrase string
	contractID        string
	signer            *keypair.Full
	horizonURL        string
	logger            *zap.Logger
}

// NewClient parses the signing secret and constructs the RPC client. Any
// parse failure here is a fatal startup misconfiguration.
func NewClient(rpcURL, networkPassphrase, contractID, signingSecret string, logger *zap.Logger) (*Client, error) {
	signer, err := keypair.ParseFull(signingSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid signing secret: %w", err)
	}
	return &Client{
		rpc:               rpcclient.NewClient(rpcURL, nil),
		httpClient:        &http.Client{Timeout: 15 * time.Second},
		networkPassphrase: networkPassphrase,
		contractID:        contractID,
		signer:            signer,
		horizonURL:        horizonURLFor(rpcURL),
		logger:            logger,
	}, nil
}

// Address returns this agent's own ledger account address.
func (c *Client) Address() types.Address {
	return types.Address(c.signer.Address())
}

// horizonURLFor derives a Horizon endpoint from a Soroban RPC endpoint the
// same way the original agent did: swapping the "soroban-testnet" host
// segment for "horizon-testnet", falling back to the public testnet
// Horizon otherwise.
func horizonURLFor(rpcURL string) string {
	if strings.Contains(rpcURL, "soroban-testnet") {
		return strings.Replace(rpcURL, "soroban-testnet", "horizon-testnet", 1)
	}
	return "https://horizon-testnet.stellar.org"
}

// WalletBalance returns the native-asset balance of address in stroops.
// Any failure (network, missing account, parse) returns 0 rather than an
// error: an unreadable wallet is treated as zero balance so the policy
// filter conservatively rejects offers rather than stalling.
func (c *Client) WalletBalance(ctx context.Context, address types.Address) types.Amount {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/accounts/%s", c.horizonURL, address), nil)
	if err != nil {
		c.logger.Warn("wallet balance: build request", zap.Error(err))
		return 0
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("wallet balance: request failed", zap.Error(err))
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("wallet balance: non-200 response", zap.Int("status", resp.StatusCode))
		return 0
	}

	var account struct {
		Balances []struct {
			Balance string `json:"balance"`
			Asset   string `json:"asset_type"`
		} `json:"balances"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("wallet balance: read body", zap.Error(err))
		return 0
	}
	if err := json.Unmarshal(body, &account); err != nil {
		c.logger.Warn("wallet balance: decode body", zap.Error(err))
		return 0
	}
	for _, b := range account.Balances {
		if b.Asset == "native" {
			xlm, err := strconv.ParseFloat(b.Balance, 64)
			if err != nil {
				return 0
			}
			return types.Amount(xlm * stroopsPerXLM)
		}
	}
	return 0
}

// simulateRead builds a fee-bumped-free invocation of a read-only contract
// method, simulates it, and returns the decoded return value. No signing or
// submission occurs: this mirrors "each is a contract simulation, no
// signing" from the Ledger Queries contract.
func (c *Client) simulateRead(ctx context.Context, method string, args []xdr.ScVal) (xdr.ScVal, error) {
	op := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddress(c.contractID),
				FunctionName:    xdr.ScSymbol(method),
				Args:            args,
			},
		},
		SourceAccount: c.signer.Address(),
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{AccountID: c.signer.Address(), Sequence: 0},
		Operations:    []txnbuild.Operation{op},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewInfiniteTimeout()},
	})
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("build simulate transaction: %w", err)
	}
	txXDR, err := tx.Base64()
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("encode simulate transaction: %w", err)
	}

	resp, err := c.rpc.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{Transaction: txXDR})
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("simulate %s: %w", method, err)
	}
	if resp.Error != "" {
		return xdr.ScVal{}, fmt.Errorf("simulate %s: %s", method, resp.Error)
	}
	if len(resp.Results) == 0 {
		return xdr.ScVal{}, fmt.Errorf("simulate %s: no results", method)
	}

	var retVal xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(resp.Results[0].XDR, &retVal); err != nil {
		return xdr.ScVal{}, fmt.Errorf("decode %s return value: %w", method, err)
	}
	return retVal, nil
}

// submitWrite builds, simulates, signs, and submits an invocation of a
// mutating contract method, returning the transaction hash and the decoded
// return value on success. Errors are returned raw; callers classify them
// per the component's own error-code mapping.
func (c *Client) submitWrite(ctx context.Context, method string, args []xdr.ScVal) (txID string, retVal xdr.ScVal, err error) {
	op := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddress(c.contractID),
				FunctionName:    xdr.ScSymbol(method),
				Args:            args,
			},
		},
		SourceAccount: c.signer.Address(),
	}

	account, err := c.rpc.GetAccountEntry(ctx, c.signer.Address())
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("load source account: %w", err)
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &account,
		Operations:    []txnbuild.Operation{op},
		BaseFee:       txnbuild.MinBaseFee,
		Preconditions: txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(30)},
	})
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("build %s transaction: %w", method, err)
	}

	simXDR, err := tx.Base64()
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("encode %s transaction: %w", method, err)
	}
	simResp, err := c.rpc.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{Transaction: simXDR})
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("simulate %s: %w", method, err)
	}
	if simResp.Error != "" {
		return "", xdr.ScVal{}, &SimulationError{Method: method, Message: simResp.Error}
	}

	tx, err = txnbuild.AssembleTransaction(tx, c.networkPassphrase, protocol.SimulateTransactionResponse(simResp))
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("assemble %s transaction: %w", method, err)
	}
	tx, err = tx.Sign(c.networkPassphrase, c.signer)
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("sign %s transaction: %w", method, err)
	}
	txXDR, err := tx.Base64()
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("encode signed %s transaction: %w", method, err)
	}

	sendResp, err := c.rpc.SendTransaction(ctx, protocol.SendTransactionRequest{Transaction: txXDR})
	if err != nil {
		return "", xdr.ScVal{}, fmt.Errorf("submit %s: %w", method, err)
	}
	if sendResp.Status == protocol.TransactionStatusError {
		return sendResp.Hash, xdr.ScVal{}, &TransactionError{Method: method, Hash: sendResp.Hash, Message: sendResp.ErrorResultXDR}
	}

	if len(simResp.Results) > 0 {
		_ = xdr.SafeUnmarshalBase64(simResp.Results[0].XDR, &retVal)
	}
	return sendResp.Hash, retVal, nil
}

func contractAddress(contractID string) xdr.ScAddress {
	var hash xdr.Hash
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err == nil && len(raw) == len(hash) {
		copy(hash[:], raw)
	}
	return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &hash}
}

// SimulationError is returned when a contract simulation fails before any
// transaction is submitted.
type SimulationError struct {
	Method  string
	Message string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed for %s: %s", e.Method, e.Message)
}

// TransactionError is returned when a submitted transaction is rejected by
// the network.
type TransactionError struct {
	Method  string
	Hash    string
	Message string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed for %s (hash=%s): %s", e.Method, e.Hash, e.Message)
}

func encodeScBytes(b []byte) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: (*xdr.ScBytes)(&b)}
}

func encodeScU64(v uint64) xdr.ScVal {
	u := xdr.Uint64(v)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}
}

func encodeScAddress(address types.Address) (xdr.ScVal, error) {
	accountID, err := xdr.AddressToAccountId(string(address))
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("encode address %s: %w", address, err)
	}
	scAddr := xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &accountID}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &scAddr}, nil
}
