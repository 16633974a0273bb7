package service

import (
	"context"
	"fmt"

	"github.com/d4l-network/d4l-gateway/internal/chain"

	"github.com/ethereum/go-ethereum/common"
)

type ContractReadView struct {
	Contract  string `json:"contract"`
	Function  string `json:"function"`
	Supported bool   `json:"supported"`
	Values    []any  `json:"values"`
}

type ContractDirectoryView struct {
	ChainID   int64             `json:"chainId"`
	Contracts map[string]string `json:"contracts"`
	Relayer   string            `json:"relayer,omitempty"`
}

// ContractDirectory is the read-only slice of *chain.Facade that the contract
// reader needs beyond ContractGateway.
type ContractDirectory interface {
	ContractGateway
	ChainID() int64
	Address(name chain.ContractName) (common.Address, error)
	Relayer() (common.Address, bool)
}

// ContractReader serves generic view calls. A function the deployed contract
// does not implement is reported as unsupported rather than as an error.
type ContractReader struct {
	chain ContractDirectory
}

func NewContractReader(c ContractDirectory) *ContractReader {
	return &ContractReader{chain: c}
}

func (s *ContractReader) ReadContract(ctx context.Context, contract, function string, args []any) (*ContractReadView, error) {
	name, ok := chain.ParseContractName(contract)
	if !ok {
		return nil, fmt.Errorf("%w: unknown contract %q", ErrValidation, contract)
	}
	if args == nil {
		args = []any{}
	}
	typed, err := chain.ConvertArgs(name, function, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	res := s.chain.Read(ctx, name, function, typed...)
	view := &ContractReadView{Contract: string(name), Function: function, Values: []any{}}
	if res.Unsupported() {
		return view, nil
	}
	if res.Err != nil {
		return nil, res.Err
	}
	view.Supported = true
	view.Values = res.JSONValues()
	return view, nil
}

func (s *ContractReader) Directory() ContractDirectoryView {
	view := ContractDirectoryView{ChainID: s.chain.ChainID(), Contracts: map[string]string{}}
	for _, name := range chain.AllContracts {
		if addr, err := s.chain.Address(name); err == nil {
			view.Contracts[string(name)] = addr.Hex()
		}
	}
	if relayer, ok := s.chain.Relayer(); ok {
		view.Relayer = relayer.Hex()
	}
	return view
}
