package onchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs. Only the members the keeper calls are declared.
var (
	tradingABI abi.ABI
	oracleABI  abi.ABI
	poolABI    abi.ABI
	erc20ABI   abi.ABI
)

func init() {
	tradingABI = mustParse("trading", `[
		{"name": "paused", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "bool"}]},
		{"name": "nextOrderId", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "nextPositionId", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
		{"name": "orders", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "id", "type": "uint256"}],
		 "outputs": [
			{"name": "owner", "type": "address"},
			{"name": "tokenIn", "type": "address"},
			{"name": "tokenOut", "type": "address"},
			{"name": "amountIn", "type": "uint256"},
			{"name": "targetPrice", "type": "uint256"},
			{"name": "orderType", "type": "uint8"},
			{"name": "isLong", "type": "bool"},
			{"name": "executed", "type": "bool"},
			{"name": "createdAt", "type": "uint256"}
		 ]},
		{"name": "positions", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "id", "type": "uint256"}],
		 "outputs": [
			{"name": "owner", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "collateral", "type": "uint256"},
			{"name": "leverage", "type": "uint256"},
			{"name": "isLong", "type": "bool"},
			{"name": "entryPrice", "type": "uint256"},
			{"name": "size", "type": "uint256"},
			{"name": "isOpen", "type": "bool"}
		 ]},
		{"name": "shouldExecuteOrder", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "id", "type": "uint256"}], "outputs": [{"name": "", "type": "bool"}]},
		{"name": "executeOrder", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "id", "type": "uint256"}], "outputs": []},
		{"name": "liquidatePosition", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "id", "type": "uint256"}], "outputs": []}
	]`)

	oracleABI = mustParse("oracle", `[
		{"name": "getPrice", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "token", "type": "address"}],
		 "outputs": [{"name": "price", "type": "uint256"}, {"name": "updatedAt", "type": "uint256"}]},
		{"name": "batchUpdatePrices", "type": "function", "stateMutability": "nonpayable",
		 "inputs": [{"name": "tokens", "type": "address[]"}, {"name": "prices", "type": "uint256[]"}],
		 "outputs": []}
	]`)

	poolABI = mustParse("pool", `[
		{"name": "getReserves", "type": "function", "stateMutability": "view",
		 "inputs": [{"name": "tokenIn", "type": "address"}, {"name": "tokenOut", "type": "address"}],
		 "outputs": [{"name": "reserveIn", "type": "uint256"}, {"name": "reserveOut", "type": "uint256"}]}
	]`)

	erc20ABI = mustParse("erc20", `[
		{"name": "decimals", "type": "function", "stateMutability": "view",
		 "inputs": [], "outputs": [{"name": "", "type": "uint8"}]}
	]`)
}

func mustParse(name, js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(name + " abi parse: " + err.Error())
	}
	return parsed
}
