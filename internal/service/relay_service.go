package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/chain"
	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/security"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"
)

const (
	ActionRegister = "register"
	ActionTransfer = "transfer"
	ActionAirdrop  = "airdrop"
	ActionClaim    = "claim"

	RelayStatusConfirmed = "confirmed"
	// RelayStatusSubmitted means the transaction was broadcast but its receipt
	// was not seen before the deadline.
	RelayStatusSubmitted = "submitted"

	relaySubmittedMessage = "transaction submitted, confirmation pending"
)

type RelayRequest struct {
	Action string
	Params json.RawMessage
}

type RegisterParams struct {
	Address  string `json:"address"`
	TokenURI string `json:"tokenURI"`
}

// TransferParams carries Amount in base units unless Unit is "token", in which
// case it is a decimal token amount such as "1.5".
type TransferParams struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Unit      string `json:"unit,omitempty"`
}

const (
	AmountUnitBase  = "base"
	AmountUnitToken = "token"
)

type RelayResult struct {
	Action            string   `json:"action"`
	Status            string   `json:"status"`
	Message           string   `json:"message"`
	TransactionHash   string   `json:"transactionHash,omitempty"`
	BlockNumber       uint64   `json:"blockNumber,omitempty"`
	Transactions      []string `json:"transactions,omitempty"`
	AlreadyRegistered bool     `json:"alreadyRegistered,omitempty"`
	ProfileMinted     bool     `json:"profileMinted,omitempty"`
	Amount            string   `json:"amount,omitempty"`
	AmountFormatted   string   `json:"amountFormatted,omitempty"`
}

// RelayService submits admin-signed transactions on behalf of users.
type RelayService struct {
	chain         ContractGateway
	profiles      repository.ProfileRepository
	tokenDecimals int32
	logger        *slog.Logger
	register      singleflight.Group
	now           func() time.Time
}

func NewRelayService(gateway ContractGateway, profiles repository.ProfileRepository, tokenDecimals int32, logger *slog.Logger) *RelayService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayService{chain: gateway, profiles: profiles, tokenDecimals: tokenDecimals, logger: logger, now: time.Now}
}

func (s *RelayService) Execute(ctx context.Context, req RelayRequest) (*RelayResult, error) {
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case ActionRegister:
		var p RegisterParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.Register(ctx, p)
	case ActionTransfer, ActionAirdrop:
		var p TransferParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.Transfer(ctx, strings.ToLower(strings.TrimSpace(req.Action)), p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: params are required", ErrValidation)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: params: %v", ErrValidation, err)
	}
	return nil
}

// Register makes sure the address is registered with the airdrop contract and
// owns a profile token. Concurrent calls for one address share a single run,
// and a registered address never triggers a second registration.
func (s *RelayService) Register(ctx context.Context, p RegisterParams) (*RelayResult, error) {
	if !security.IsAddress(strings.TrimSpace(p.Address)) {
		return nil, fmt.Errorf("%w: address must be a 0x-prefixed 20 byte hex string", ErrValidation)
	}
	address := security.NormalizeAddress(p.Address)
	v, err, _ := s.register.Do(address, func() (any, error) {
		return s.register0(ctx, address, p.TokenURI)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RelayResult), nil
}

func (s *RelayService) register0(ctx context.Context, address, tokenURI string) (*RelayResult, error) {
	account := common.HexToAddress(address)
	res := &RelayResult{Action: ActionRegister}

	registered, err := s.chain.Read(ctx, chain.ContractAirdrop, "isRegistered", account).Bool()
	if err != nil {
		observability.RecordRelaySubmission(ctx, ActionRegister, "precheck_failed")
		return nil, err
	}
	if !registered {
		wr, err := s.write(ctx, ActionRegister, chain.ContractAirdrop, "batchRegister", []common.Address{account})
		if out, ok := submittedResult(res, wr, err); ok {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		res.TransactionHash = wr.Hash.Hex()
		res.BlockNumber = wr.BlockNumber
		res.Transactions = append(res.Transactions, wr.Hash.Hex())
	}

	hasProfile := s.chain.Read(ctx, chain.ContractProfile, "hasProfile", account)
	switch has, err := hasProfile.Bool(); {
	case hasProfile.Unsupported():
		s.logger.WarnContext(ctx, "profile contract does not expose hasProfile, skipping mint", "address", address)
	case err != nil:
		return nil, err
	case !has:
		wr, err := s.write(ctx, ActionRegister, chain.ContractProfile, "mintProfile", account, tokenURI)
		if out, ok := submittedResult(res, wr, err); ok {
			res.ProfileMinted = true
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		res.ProfileMinted = true
		res.TransactionHash = wr.Hash.Hex()
		res.BlockNumber = wr.BlockNumber
		res.Transactions = append(res.Transactions, wr.Hash.Hex())
	}

	res.Status = RelayStatusConfirmed
	if len(res.Transactions) == 0 {
		res.AlreadyRegistered = true
		res.Message = "address already registered"
	} else {
		res.Message = "address registered"
	}
	s.ensureProfileRecord(ctx, address)
	return res, nil
}

// ensureProfileRecord seeds the fallback store so later reads see the wallet.
// Failures are logged; the on-chain registration already succeeded.
func (s *RelayService) ensureProfileRecord(ctx context.Context, address string) {
	if s.profiles == nil {
		return
	}
	_, err := s.profiles.FindByAddress(ctx, address)
	if err == nil {
		return
	}
	if !errors.Is(err, repository.ErrProfileNotFound) {
		s.logger.WarnContext(ctx, "profile lookup after register failed", "address", address, "error", err)
		return
	}
	if _, err := s.profiles.Upsert(ctx, &domain.ProfileRecord{Address: address, BaseAmount: "0", BonusAmount: "0"}); err != nil {
		s.logger.WarnContext(ctx, "profile seed after register failed", "address", address, "error", err)
	}
}

// Transfer sends tokens from the admin balance. Inputs are validated before
// any chain call.
func (s *RelayService) Transfer(ctx context.Context, action string, p TransferParams) (*RelayResult, error) {
	if !security.IsAddress(strings.TrimSpace(p.Recipient)) {
		observability.RecordRelaySubmission(ctx, action, "validation_error")
		return nil, fmt.Errorf("%w: recipient must be a 0x-prefixed 20 byte hex string", ErrValidation)
	}
	amount, err := s.parseAmount(p)
	if err != nil {
		observability.RecordRelaySubmission(ctx, action, "validation_error")
		return nil, err
	}
	res := &RelayResult{Action: action, Amount: amount.String(), AmountFormatted: chain.FormatUnits(amount, s.tokenDecimals)}
	wr, err := s.write(ctx, action, chain.ContractToken, "transfer", common.HexToAddress(p.Recipient), amount)
	if out, ok := submittedResult(res, wr, err); ok {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	res.Status = RelayStatusConfirmed
	res.Message = "tokens transferred"
	res.TransactionHash = wr.Hash.Hex()
	res.BlockNumber = wr.BlockNumber
	res.Transactions = []string{wr.Hash.Hex()}
	return res, nil
}

func (s *RelayService) parseAmount(p TransferParams) (*big.Int, error) {
	switch strings.ToLower(strings.TrimSpace(p.Unit)) {
	case "", AmountUnitBase:
		amount, err := chain.ParseBaseUnits(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: amount must be a positive integer in base units below 2^256", ErrValidation)
		}
		return amount, nil
	case AmountUnitToken:
		amount, err := chain.ParseUnits(p.Amount, s.tokenDecimals)
		if errors.Is(err, chain.ErrAmountTooPrecise) {
			return nil, fmt.Errorf("%w: amount has more than %d decimals", ErrValidation, s.tokenDecimals)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: amount must be a positive token amount", ErrValidation)
		}
		return amount, nil
	default:
		return nil, fmt.Errorf("%w: unit must be %q or %q", ErrValidation, AmountUnitBase, AmountUnitToken)
	}
}

// ClaimFor submits an allowlist claim on behalf of account. A broadcast whose
// receipt is late comes back with Status RelayStatusSubmitted and no error.
func (s *RelayService) ClaimFor(ctx context.Context, account common.Address, amount *big.Int, proof [][32]byte) (*RelayResult, error) {
	res := &RelayResult{Action: ActionClaim, Amount: amount.String(), AmountFormatted: chain.FormatUnits(amount, s.tokenDecimals)}
	wr, err := s.write(ctx, ActionClaim, chain.ContractAirdrop, "claimFor", account, amount, proof)
	if out, ok := submittedResult(res, wr, err); ok {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	res.Status = RelayStatusConfirmed
	res.Message = "claim confirmed"
	res.TransactionHash = wr.Hash.Hex()
	res.BlockNumber = wr.BlockNumber
	res.Transactions = []string{wr.Hash.Hex()}
	return res, nil
}

// TransactionOutcome looks up a transaction broadcast earlier. mined is false
// while the node has no receipt for it.
func (s *RelayService) TransactionOutcome(ctx context.Context, txHash string) (mined, succeeded bool, err error) {
	receipt, err := s.chain.Receipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, receipt.Status == types.ReceiptStatusSuccessful, nil
}

func submittedResult(res *RelayResult, wr *chain.WriteResult, err error) (*RelayResult, bool) {
	if wr == nil || !errors.Is(err, chain.ErrTxPending) {
		return nil, false
	}
	res.Status = RelayStatusSubmitted
	res.Message = relaySubmittedMessage
	res.TransactionHash = wr.Hash.Hex()
	res.Transactions = append(res.Transactions, wr.Hash.Hex())
	return res, true
}

// HasClaimed reports the on-chain claim flag. ok is false when the contract
// cannot answer.
func (s *RelayService) HasClaimed(ctx context.Context, account common.Address) (claimed bool, ok bool) {
	claimed, err := s.chain.Read(ctx, chain.ContractAirdrop, "hasClaimed", account).Bool()
	if err != nil {
		return false, false
	}
	return claimed, true
}

func (s *RelayService) write(ctx context.Context, action string, name chain.ContractName, fn string, args ...any) (*chain.WriteResult, error) {
	started := s.now()
	wr, err := s.chain.Write(ctx, name, fn, args...)
	if wr != nil && errors.Is(err, chain.ErrTxPending) {
		observability.RecordRelaySubmission(ctx, action, "pending")
		s.logger.WarnContext(ctx, "relay transaction submitted, receipt pending", "action", action, "contract", name, "function", fn, "tx_hash", wr.Hash.Hex(), "error", err)
		observability.AuditBackground(ctx, "relay.transaction_pending", "action", action, "contract", string(name), "function", fn, "tx_hash", wr.Hash.Hex())
		return wr, err
	}
	if err != nil {
		observability.RecordRelaySubmission(ctx, action, relayOutcome(err))
		s.logger.WarnContext(ctx, "relay transaction failed", "action", action, "contract", name, "function", fn, "error", err)
		return nil, err
	}
	observability.RecordRelaySubmission(ctx, action, "success")
	observability.RecordRelayConfirmation(ctx, action, s.now().Sub(started))
	observability.AuditBackground(ctx, "relay.transaction", "action", action, "contract", string(name), "function", fn, "tx_hash", wr.Hash.Hex())
	return wr, nil
}

func relayOutcome(err error) string {
	if kind, ok := chain.KindOf(err); ok {
		return string(kind)
	}
	if errors.Is(err, chain.ErrSignerUnavailable) {
		return "signer_unavailable"
	}
	return "error"
}
