package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const tokenABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const airdropABI = `[
 {"type":"function","name":"isRegistered","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"hasClaimed","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"merkleRoot","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
 {"type":"function","name":"getAirdropInfo","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"baseAmount","type":"uint256"},{"name":"bonusAmount","type":"uint256"},{"name":"claimed","type":"bool"}]},
 {"type":"function","name":"batchRegister","stateMutability":"nonpayable","inputs":[{"name":"accounts","type":"address[]"}],"outputs":[]},
 {"type":"function","name":"claimFor","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"amount","type":"uint256"},{"name":"proof","type":"bytes32[]"}],"outputs":[]}
]`

const profileABI = `[
 {"type":"function","name":"hasProfile","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"profileOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"mintProfile","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"tokenURI","type":"string"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const wishlistABI = `[
 {"type":"function","name":"isWishlisted","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"wishlistCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"addToWishlist","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"}],"outputs":[]}
]`

var contractABIs = mustParseABIs(map[ContractName]string{
	ContractToken:    tokenABI,
	ContractAirdrop:  airdropABI,
	ContractProfile:  profileABI,
	ContractWishlist: wishlistABI,
})

func mustParseABIs(raw map[ContractName]string) map[ContractName]abi.ABI {
	out := make(map[ContractName]abi.ABI, len(raw))
	for name, def := range raw {
		parsed, err := abi.JSON(strings.NewReader(def))
		if err != nil {
			panic(fmt.Sprintf("parse %s abi: %v", name, err))
		}
		out[name] = parsed
	}
	return out
}

func ABIFor(name ContractName) (abi.ABI, bool) {
	a, ok := contractABIs[name]
	return a, ok
}
