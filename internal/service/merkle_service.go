package service

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/d4l-network/d4l-gateway/internal/merkle"
	"github.com/d4l-network/d4l-gateway/internal/security"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type ProofView struct {
	Address     string   `json:"address"`
	Whitelisted bool     `json:"whitelisted"`
	Amount      string   `json:"amount"`
	Proof       []string `json:"proof"`
	Root        string   `json:"root,omitempty"`
}

// MerkleService answers allowlist membership. A nil tree means no allowlist
// is configured and nobody is whitelisted.
type MerkleService struct {
	tree *merkle.Tree
}

func NewMerkleService(tree *merkle.Tree) *MerkleService {
	return &MerkleService{tree: tree}
}

func (s *MerkleService) Proof(address string) (*ProofView, error) {
	addr, err := normalizeAddressParam(address)
	if err != nil {
		return nil, err
	}
	view := &ProofView{Address: addr, Amount: "0", Proof: []string{}}
	if s.tree == nil {
		return view, nil
	}
	view.Root = s.tree.Root().Hex()
	proof, ok := s.tree.Proof(common.HexToAddress(addr))
	if !ok {
		return view, nil
	}
	view.Whitelisted = true
	view.Amount = proof.Amount.String()
	view.Proof = proof.HexPath()
	return view, nil
}

// Check verifies a client-supplied proof. Without a configured tree there is
// nothing to check against and the claim is left to the contract.
func (s *MerkleService) Check(address string, amount *big.Int, proof [][32]byte, root [32]byte) error {
	if s.tree == nil {
		return nil
	}
	if merkle.Hash(root) != s.tree.Root() {
		return fmt.Errorf("%w: merkle root does not match the current allowlist", ErrValidation)
	}
	path := make([]merkle.Hash, len(proof))
	for i, p := range proof {
		path[i] = merkle.Hash(p)
	}
	leaf := merkle.LeafHash(common.HexToAddress(security.NormalizeAddress(address)), amount)
	if !merkle.Verify(s.tree.Root(), leaf, path) {
		return fmt.Errorf("%w: merkle proof does not verify for this address and amount", ErrValidation)
	}
	return nil
}

var errBadHash = errors.New("expected 0x-prefixed 32 byte hex")

func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != 32 {
		return out, errBadHash
	}
	copy(out[:], b)
	return out, nil
}

func parseProof(items []string) ([][32]byte, error) {
	out := make([][32]byte, len(items))
	for i, item := range items {
		h, err := parseHash32(item)
		if err != nil {
			return nil, fmt.Errorf("proof[%d]: %w", i, err)
		}
		out[i] = h
	}
	return out, nil
}
