package proofs

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ProofRegistryABI is the interface of the deployed proof registry contract.
const ProofRegistryABI = `[
  {
    "type": "function",
    "name": "getProof",
    "stateMutability": "view",
    "inputs": [{"name": "trackingId", "type": "string"}],
    "outputs": [
      {"name": "owner", "type": "address"},
      {"name": "encryptedProof", "type": "string"},
      {"name": "publicProof", "type": "string"},
      {"name": "previousTrackingId", "type": "string"}
    ]
  },
  {
    "type": "function",
    "name": "storeProof",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "trackingId", "type": "string"},
      {"name": "previousTrackingId", "type": "string"},
      {"name": "encryptedProof", "type": "string"},
      {"name": "publicProof", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "transfer",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "trackingId", "type": "string"},
      {"name": "transferTo", "type": "address"}
    ],
    "outputs": []
  },
  {
    "type": "event",
    "name": "StoreProofCompleted",
    "anonymous": false,
    "inputs": [
      {"name": "from", "type": "address", "indexed": true},
      {"name": "trackingId", "type": "string", "indexed": false},
      {"name": "previousTrackingId", "type": "string", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "TransferCompleted",
    "anonymous": false,
    "inputs": [
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true},
      {"name": "trackingId", "type": "string", "indexed": false}
    ]
  }
]`

var registryABI = mustParseABI(ProofRegistryABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("解析合约 ABI 失败: %v", err))
	}
	return parsed
}
