// Package merkle builds allowlist trees compatible with OpenZeppelin's
// MerkleProof.verify: double-hashed abi.encode(address, uint256) leaves and
// sorted-pair internal nodes.
package merkle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

var (
	ErrEmptyAllowlist   = errors.New("allowlist is empty")
	ErrDuplicateAddress = errors.New("duplicate address in allowlist")
)

type Hash [32]byte

func (h Hash) Hex() string { return hexutil.Encode(h[:]) }

type Entry struct {
	Address common.Address
	Amount  *big.Int
}

type Proof struct {
	Address common.Address
	Amount  *big.Int
	Leaf    Hash
	Path    []Hash
}

func (p Proof) HexPath() []string {
	out := make([]string, len(p.Path))
	for i, h := range p.Path {
		out[i] = h.Hex()
	}
	return out
}

type Tree struct {
	layers  [][]Hash
	entries map[common.Address]Entry
	index   map[Hash]int
}

func keccak(parts ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func LeafHash(addr common.Address, amount *big.Int) Hash {
	encoded := append(common.LeftPadBytes(addr.Bytes(), 32), common.LeftPadBytes(amount.Bytes(), 32)...)
	inner := keccak(encoded)
	return keccak(inner[:])
}

func hashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak(a[:], b[:])
}

func New(entries []Entry) (*Tree, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyAllowlist
	}
	t := &Tree{entries: make(map[common.Address]Entry, len(entries)), index: make(map[Hash]int, len(entries))}
	leaves := make([]Hash, 0, len(entries))
	for _, e := range entries {
		if _, dup := t.entries[e.Address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, e.Address.Hex())
		}
		if e.Amount == nil || e.Amount.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount for %s", e.Address.Hex())
		}
		t.entries[e.Address] = e
		leaves = append(leaves, LeafHash(e.Address, e.Amount))
	}
	sort.Slice(leaves, func(i, j int) bool { return bytes.Compare(leaves[i][:], leaves[j][:]) < 0 })
	for i, l := range leaves {
		t.index[l] = i
	}

	t.layers = [][]Hash{leaves}
	for level := leaves; len(level) > 1; {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		t.layers = append(t.layers, next)
		level = next
	}
	return t, nil
}

func (t *Tree) Root() Hash {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

func (t *Tree) Len() int { return len(t.entries) }

func (t *Tree) Proof(addr common.Address) (Proof, bool) {
	e, ok := t.entries[addr]
	if !ok {
		return Proof{}, false
	}
	leaf := LeafHash(e.Address, e.Amount)
	idx := t.index[leaf]
	var path []Hash
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(layer) {
			path = append(path, layer[sibling])
		}
		idx /= 2
	}
	return Proof{Address: e.Address, Amount: new(big.Int).Set(e.Amount), Leaf: leaf, Path: path}, true
}

func Verify(root, leaf Hash, path []Hash) bool {
	computed := leaf
	for _, sibling := range path {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

// LoadAllowlist reads a JSON object mapping addresses to base-unit amounts.
func LoadAllowlist(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode allowlist: %w", err)
	}
	entries := make([]Entry, 0, len(doc))
	for addr, amount := range doc {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("allowlist address %q is invalid", addr)
		}
		v, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("allowlist amount for %s is invalid", addr)
		}
		entries = append(entries, Entry{Address: common.HexToAddress(addr), Amount: v})
	}
	return entries, nil
}

func LoadTree(path string) (*Tree, error) {
	entries, err := LoadAllowlist(path)
	if err != nil {
		return nil, err
	}
	return New(entries)
}
