// sign-order builds and signs a sell order off-line, printing the typed
// digest, the detached signature, and the submit-ready JSON body.
package main

import (
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/jmlee-dev/listex/pkg/crypto"
	"github.com/jmlee-dev/listex/pkg/engine"
)

func main() {
	var (
		keyHex   = flag.String("key", "", "seller private key hex (generated if empty)")
		ticker   = flag.String("ticker", "LTX", "asset ticker")
		amount   = flag.Int64("amount", 100, "asset quantity")
		price    = flag.Int64("price", 50000, "unit price, fixed-point scaled")
		validFor = flag.Duration("valid-for", 24*time.Hour, "validity window length")
		chainID  = flag.Int64("chain-id", 1337, "signing domain chain id")
	)
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		}
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Seller: %s\n\n", signer.Address().Hex())

	salt, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		fmt.Printf("Error generating salt: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	order := &engine.Order{
		SellOrder: crypto.SellOrder{
			Seller:         signer.Address(),
			Ticker:         *ticker,
			Amount:         big.NewInt(*amount),
			Price:          big.NewInt(*price),
			ListingTime:    uint64(now.Unix()),
			ExpirationTime: uint64(now.Add(*validFor).Unix()),
			Salt:           salt,
		},
	}
	order.ListingID = crypto.DeriveListingID(order.Seller, order.Ticker, salt)

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	hasher := crypto.NewOrderHasher(domain)

	digest, err := hasher.HashOrder(order.Body())
	if err != nil {
		fmt.Printf("Error hashing order: %v\n", err)
		os.Exit(1)
	}
	signature, err := signer.Sign(digest)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	order.Signature = signature

	fmt.Println("Order Details:")
	fmt.Printf("  Listing ID: %s\n", order.ListingID.Hex())
	fmt.Printf("  Ticker:     %s\n", order.Ticker)
	fmt.Printf("  Amount:     %s\n", order.Amount)
	fmt.Printf("  Price:      %s\n", order.Price)
	fmt.Printf("  Window:     %d .. %d\n", order.ListingTime, order.ExpirationTime)
	fmt.Printf("  Digest:     %s\n", hexutil.Encode(digest))
	fmt.Printf("  Signature:  %s\n\n", hexutil.Encode(signature))

	// Sanity check before printing the submit body.
	recovered, err := hasher.RecoverSigner(order.Body(), order.Signature)
	if err != nil || recovered != order.Seller {
		fmt.Printf("Signature verification FAILED (recovered %s, err %v)\n", recovered.Hex(), err)
		os.Exit(1)
	}
	fmt.Println("Signature verified.")

	body, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nTo settle this order:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders/match")
	fmt.Println("  Content-Type: application/json")
	fmt.Printf("  Body: {\"buyer\": \"0x...\", \"attachedValue\": <price*amount*scale>, \"order\": %s}\n", string(body))
}
