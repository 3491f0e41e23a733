package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/abcfe/hdpay/common/utils"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/abcfe/hdpay/storage"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run tools/db_browser.go <db_path> [command]")
		fmt.Println("Commands:")
		fmt.Println("  meta      - Show metadata")
		fmt.Println("  merchants - List merchant indices and payment counters")
		fmt.Println("  payments  - List recorded payments")
		fmt.Println("  payment <id> - Show specific payment")
		fmt.Println("  all       - Show all data")
		return
	}

	dbPath := os.Args[1]
	command := "meta"
	if len(os.Args) > 2 {
		command = os.Args[2]
	}

	// Open LevelDB read-only, a running hdpay keeps its own lock
	db, err := leveldb.OpenFile(dbPath, &opt.Options{ReadOnly: true})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Database opened: %s\n\n", dbPath)

	switch command {
	case "meta":
		showMetadata(db)
	case "merchants":
		listMerchants(db)
	case "payments":
		listPayments(db)
	case "payment":
		if len(os.Args) < 4 {
			fmt.Println("Usage: go run tools/db_browser.go <db_path> payment <id>")
			return
		}
		showPayment(db, os.Args[3])
	case "all":
		showAllData(db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
	}
}

func showMetadata(db *leveldb.DB) {
	fmt.Println("=== METADATA ===")

	v, err := db.Get(utils.GetMerchantCounterKey(), nil)
	if err != nil {
		fmt.Printf("Next Merchant Index: Not found (%v)\n", err)
	} else if n, ok := utils.BytesToUint64(v); ok {
		fmt.Printf("Next Merchant Index: %d\n", n)
	} else {
		fmt.Printf("Next Merchant Index: corrupt (%s)\n", hex.EncodeToString(v))
	}

	fmt.Println()
}

func listMerchants(db *leveldb.DB) {
	fmt.Println("=== MERCHANTS ===")

	iter := db.NewIterator(util.BytesPrefix([]byte(prt.PrefixMerchant)), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		merchantID := strings.TrimPrefix(string(iter.Key()), prt.PrefixMerchant)
		idx, ok := utils.BytesToUint32(iter.Value())
		if !ok {
			fmt.Printf("Merchant %s: corrupt index %s\n", merchantID, hex.EncodeToString(iter.Value()))
			continue
		}

		next := "?"
		if v, err := db.Get(utils.GetPaymentCounterKey(merchantID), nil); err == nil {
			if n, ok := utils.BytesToUint64(v); ok {
				next = fmt.Sprintf("%d", n)
			}
		}
		fmt.Printf("Merchant %s: index %d, next payment %s\n", merchantID, idx, next)
		count++
	}
	fmt.Printf("Total merchants: %d\n\n", count)
}

func listPayments(db *leveldb.DB) {
	fmt.Println("=== PAYMENTS ===")

	iter := db.NewIterator(util.BytesPrefix([]byte(prt.PrefixPayment)), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		var rec storage.PaymentRecord
		if err := utils.DeserializeData(iter.Value(), &rec); err != nil {
			fmt.Printf("Payment %s: undecodable (%v)\n", iter.Key(), err)
			continue
		}
		fmt.Printf("Payment %s: merchant %s, address %s\n", rec.PaymentID, rec.MerchantID, rec.PublicKey)
		count++
	}
	fmt.Printf("Total payments: %d\n\n", count)
}

func showPayment(db *leveldb.DB, paymentID string) {
	fmt.Printf("=== PAYMENT %s ===\n", paymentID)

	v, err := db.Get(utils.GetPaymentKey(paymentID), nil)
	if err != nil {
		fmt.Printf("Payment not found: %v\n", err)
		return
	}

	var rec storage.PaymentRecord
	if err := utils.DeserializeData(v, &rec); err != nil {
		fmt.Printf("Failed to decode payment: %v\n", err)
		return
	}

	// indices stay encrypted, only the blob is shown
	fmt.Printf("Merchant: %s\n", rec.MerchantID)
	fmt.Printf("Address: %s\n", rec.PublicKey)
	fmt.Printf("Encrypted Indices: %s\n", rec.EncryptedIndices)
	fmt.Printf("Created At: %s\n", rec.CreatedAt)
	fmt.Println()
}

func showAllData(db *leveldb.DB) {
	fmt.Println("=== ALL DATABASE DATA ===")

	iter := db.NewIterator(nil, nil)
	defer iter.Release()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		value := iter.Value()

		fmt.Printf("[%d] Key: %s\n", count, key)
		fmt.Printf("     Value Size: %d bytes\n", len(value))
		if strings.HasPrefix(key, prt.PrefixPayment) && len(value) <= 400 {
			fmt.Printf("     Value: %s\n", string(value))
		} else {
			fmt.Printf("     Value (hex): %s\n", hex.EncodeToString(value[:min(len(value), 50)]))
		}
		fmt.Println()

		count++
		if count >= 50 { // Show max 50 entries
			fmt.Printf("... (showing first 50 entries)\n")
			break
		}
	}

	fmt.Printf("Total entries: %d\n", count)
}
