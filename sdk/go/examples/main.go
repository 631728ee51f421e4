package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"ProofChain/sdk/go/proofchain"

	"github.com/ethereum/go-ethereum/common"
)

// 示例：查询证明，不存在时提交一条新的证明。
func main() {
	baseURL := os.Getenv("PROOFCHAIN_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	client, err := proofchain.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	proof, err := client.GetProof(ctx, "demo-1")
	switch {
	case errors.Is(err, proofchain.ErrProofNotFound):
		tx, err := client.StoreProof(ctx, proofchain.StoreProof{
			TrackingID:     "demo-1",
			EncryptedProof: "0xAB",
			PublicProof:    "0xCD",
			Config: proofchain.Account{
				From:     common.HexToAddress(os.Getenv("PROOFCHAIN_ACCOUNT")),
				Password: os.Getenv("PROOFCHAIN_PASSWORD"),
			},
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("submitted %s with gas %d\n", tx.TxHash.Hex(), tx.Gas)
	case err != nil:
		log.Fatal(err)
	default:
		fmt.Printf("proof owned by %s, previous %q\n", proof.Owner.Hex(), proof.PreviousTrackingID)
	}
}
