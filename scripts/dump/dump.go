package main

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	blockTimePrefix = "royaltynode:blockTime:"
	cachePrefix     = "royaltynode:cache:"
)

// Dumps a royaltynode badger directory: block timestamps and a per-address
// summary of each cache namespace.
func main() {
	dbPath := flag.String("d", "./db/cache", "Badger directory")
	outputMode := flag.String("o", "console", "Output mode: 'console' or 'file'")
	outputFile := flag.String("f", "dump.txt", "Output file (if mode is 'file')")
	flag.Parse()

	var out *os.File
	var err error

	if *outputMode == "file" {
		out, err = os.Create(*outputFile)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer out.Close()
	} else {
		out = os.Stdout
	}

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithReadOnly(true).WithLogger(nil))
	if err != nil {
		log.Fatalf("Failed to open BadgerDB: %v", err)
	}
	defer db.Close()

	if *outputMode == "file" {
		fmt.Println("Dumping", *dbPath, "to file", *outputFile)
	}

	if err := dump(db, out); err != nil {
		log.Fatalf("Error while iterating: %v", err)
	}
	fmt.Println("Dump complete.")
}

func dump(db *badger.DB, out io.Writer) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		blockTimes := 0
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()

			err := item.Value(func(val []byte) error {
				switch {
				case bytes.HasPrefix(key, []byte(blockTimePrefix)) && len(key) == len(blockTimePrefix)+8 && len(val) == 8:
					block := binary.BigEndian.Uint64(key[len(blockTimePrefix):])
					ts := binary.BigEndian.Uint64(val)
					fmt.Fprintf(out, "Block %d: %s\n", block, time.Unix(int64(ts), 0).UTC().Format(time.RFC3339))
					blockTimes++
				case bytes.HasPrefix(key, []byte(cachePrefix)):
					dumpNamespace(out, string(key[len(cachePrefix):]), val)
				default:
					fmt.Fprintf(out, "Key: %s\n  Value (Hex): %s\n", hex.EncodeToString(key), hex.EncodeToString(val))
				}
				return nil
			})
			if err != nil {
				fmt.Fprintf(out, "  [ERROR] Could not read value: %v\n", err)
			}
		}
		fmt.Fprintf(out, "Block timestamps: %d\n", blockTimes)
		return nil
	})
}

type entrySummary struct {
	Records          []json.RawMessage `json:"records"`
	LastFetchedAt    int64             `json:"lastFetchedAt"`
	LastScannedBlock uint64            `json:"lastScannedBlock"`
}

func dumpNamespace(out io.Writer, namespace string, val []byte) {
	fmt.Fprintf(out, "Namespace: %s (%d bytes)\n", namespace, len(val))

	var entries map[string]entrySummary
	if err := json.Unmarshal(val, &entries); err != nil {
		fmt.Fprintf(out, "  [CORRUPT] %v\n", err)
		return
	}
	addresses := make([]string, 0, len(entries))
	for addr := range entries {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	for _, addr := range addresses {
		e := entries[addr]
		fmt.Fprintf(out, "  %s: %d records, block %d, fetched %s\n",
			addr, len(e.Records), e.LastScannedBlock,
			time.UnixMilli(e.LastFetchedAt).UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(out, "-------------------------")
}
