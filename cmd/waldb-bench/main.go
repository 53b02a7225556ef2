package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/waldb/waldb/pkg/waldb"
)

func main() {
	tempDir, err := os.MkdirTemp(".", "waldb-bench-*")
	if err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	defer func() {
		fmt.Printf("\nStore data persisted in: %s\n", tempDir)
		fmt.Println("Remove with: rm -rf", tempDir)
	}()

	opts := waldb.DefaultOptions()
	opts.MemtableTargetBytes = 1024 * 1024 // 1MB; this example's writes stay below it, so step 8 flushes explicitly
	if addr := os.Getenv("WALDB_PPROF_ADDR"); addr != "" {
		opts.PprofAddr = addr
	}

	fmt.Println("WalDB Example")
	fmt.Println("=============")
	fmt.Printf("Using temporary directory: %s\n\n", tempDir)

	fmt.Println("1. Opening store...")
	store, err := waldb.Open(tempDir, opts)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()
	fmt.Println("   store opened successfully")

	fmt.Println("\n2. Writing sample data...")
	sampleData := map[string]string{
		"user/john/role":             "admin",
		"user/jane/role":             "moderator",
		"user/bob/role":              "user",
		"user/alice/role":            "admin",
		"user/charlie/role":          "user",
		"product/laptop/category":    "electronics",
		"product/phone/category":     "electronics",
		"product/book/category":      "literature",
		"order/12345/status":         "pending",
		"order/12346/status":         "shipped",
		"order/12347/status":         "delivered",
	}
	for key, value := range sampleData {
		if err := store.Set([]byte(key), []byte(value), false); err != nil {
			log.Printf("warning: failed to set %q: %v", key, err)
		}
	}
	fmt.Printf("   wrote %d keys\n", len(sampleData))

	fmt.Println("\n3. Deleting a subtree...")
	if err := store.Delete([]byte("user/charlie")); err != nil {
		log.Printf("warning: failed to delete: %v", err)
	} else {
		fmt.Println("   deleted user/charlie")
	}

	fmt.Println("\n4. Point lookups...")
	if v, ok, err := store.Get([]byte("user/john/role")); err != nil {
		log.Printf("warning: get failed: %v", err)
	} else if ok {
		fmt.Printf("   user/john/role = %s\n", v)
	}
	if _, ok, _ := store.Get([]byte("user/charlie/role")); !ok {
		fmt.Println("   user/charlie/role correctly absent after delete")
	}

	fmt.Println("\n5. Prefix scan over user/...")
	it, err := store.PrefixScan([]byte("user/"))
	if err != nil {
		log.Printf("warning: prefix scan failed: %v", err)
	} else {
		for it.Next() {
			fmt.Printf("   %s = %s\n", it.Key(), it.Value())
		}
		it.Close()
	}

	fmt.Println("\n6. Pattern match product/*/category...")
	pit, err := store.Pattern([]byte("product/*/category"))
	if err != nil {
		log.Printf("warning: pattern match failed: %v", err)
	} else {
		for pit.Next() {
			fmt.Printf("   %s = %s\n", pit.Key(), pit.Value())
		}
		pit.Close()
	}

	fmt.Println("\n7. Forcing an atomic subtree replace...")
	if err := store.Set([]byte("order/12345"), []byte("archived"), true); err != nil {
		log.Printf("warning: forced set failed: %v", err)
	} else {
		fmt.Println("   order/12345 subtree replaced with a scalar value")
	}

	fmt.Println("\n8. Flushing to disk...")
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Flush(flushCtx); err != nil {
		log.Printf("warning: failed to flush: %v", err)
	} else {
		fmt.Println("   data flushed to an L0 segment")
	}

	stats := store.Stats()
	fmt.Println("\n9. Store statistics...")
	fmt.Printf("   total bytes on disk: %d\n", stats.TotalBytes)
	fmt.Printf("   manifest generation: %d\n", stats.ManifestGeneration)
	fmt.Printf("   sets/sec: %.2f, gets/sec: %.2f\n", stats.SetsPerSecond, stats.GetsPerSecond)
	fmt.Printf("   level 0 segments: %d\n", stats.SegmentCounts[0])

	segmentsDir := filepath.Join(tempDir, "segments")
	if _, err := os.Stat(segmentsDir); err == nil {
		fmt.Printf("   segments directory present: %s\n", segmentsDir)
	}

	fmt.Println("\n10. Testing recovery across a close/reopen cycle...")
	store.Close()

	store2, err := waldb.Open(tempDir, opts)
	if err != nil {
		log.Printf("warning: failed to reopen store: %v", err)
	} else {
		if v, ok, err := store2.Get([]byte("user/john/role")); err == nil && ok {
			fmt.Printf("   recovered user/john/role = %s\n", v)
		} else {
			fmt.Println("   data not found after reopening")
		}
		store2.Close()
	}

	fmt.Println("\nExample completed successfully.")
}
