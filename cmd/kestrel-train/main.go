// Kestrel training tool - fits the scaler and trains the autoencoder.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0
//
// Usage:
//
//	go run cmd/kestrel-train/main.go -csv /path/to/transactions.csv -out ./artifacts
//
// This tool:
//  1. Reads historical transaction data (or generates a synthetic sample)
//  2. Builds and standardizes the feature matrix
//  3. Trains the autoencoder on the scaled features
//  4. Reports the fitted anomaly threshold
//  5. Writes the scaler and model artifacts for the server to load
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/risk"
)

func main() {
	csvPath := flag.String("csv", "", "Path to historical transaction CSV (empty = synthetic sample)")
	outDir := flag.String("out", "./artifacts", "Output directory for artifacts")
	limit := flag.Int("limit", 50000, "Maximum transactions to use (0 = all)")
	synthetic := flag.Int("synthetic", 2000, "Synthetic sample size when no CSV is given")
	epochs := flag.Int("epochs", 50, "Training epochs")
	batchSize := flag.Int("batch", 32, "Batch size")
	learningRate := flag.Float64("lr", 0.001, "Learning rate")
	seed := flag.Int64("seed", 42, "Random seed for reproducible training")
	percentile := flag.Float64("percentile", 95.0, "Percentile for the anomaly threshold")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL TRAIN - Anomaly Model Training             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", orLabel(*csvPath, "(synthetic sample)"))
	fmt.Printf("Output Dir:   %s\n", *outDir)
	fmt.Printf("Epochs:       %d\n", *epochs)
	fmt.Printf("Batch Size:   %d\n", *batchSize)
	fmt.Printf("LearningRate: %g\n", *learningRate)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	// Load transactions
	var transactions []*domain.Transaction
	var err error
	if *csvPath != "" {
		fmt.Printf("Reading transactions from %s...\n", *csvPath)
		transactions, err = readTransactionCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("Generating %d synthetic transactions...\n", *synthetic)
		transactions = syntheticTransactions(*synthetic, *seed)
	}
	if len(transactions) < *batchSize {
		fmt.Printf("ERROR: need at least %d transactions, got %d\n", *batchSize, len(transactions))
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Build the raw feature matrix
	engineer := feature.NewEngineer()
	matrix := make([][]float64, len(transactions))
	for i, tx := range transactions {
		matrix[i] = engineer.BuildFeatures(tx, nil)
	}

	// Fit and apply the scaler
	scaler := feature.NewScaler()
	if err := scaler.Fit(matrix); err != nil {
		fmt.Printf("ERROR: scaler fit failed: %v\n", err)
		os.Exit(1)
	}
	scaled, err := scaler.TransformMatrix(matrix)
	if err != nil {
		fmt.Printf("ERROR: scaler transform failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Scaler fitted on %d features\n", feature.Dim)

	// Train the autoencoder
	ae, err := model.NewAutoencoder(feature.Dim, 0, *seed)
	if err != nil {
		fmt.Printf("ERROR: failed to create model: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nTraining for %d epochs...\n", *epochs)
	start := time.Now()
	losses, err := ae.Train(context.Background(), scaled, model.TrainOptions{
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *learningRate,
		Seed:         *seed,
	})
	if err != nil {
		fmt.Printf("ERROR: training failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Training complete in %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  First epoch loss: %.6f\n", losses[0])
	fmt.Printf("  Final epoch loss: %.6f\n", losses[len(losses)-1])

	// Fit the anomaly threshold from training reconstruction errors
	errors := make([]float64, 0, len(scaled))
	for _, vec := range scaled {
		re, err := ae.ReconstructionError(vec)
		if err != nil {
			fmt.Printf("ERROR: reconstruction failed: %v\n", err)
			os.Exit(1)
		}
		errors = append(errors, re)
	}
	threshold := risk.Percentile(errors, *percentile)
	fmt.Printf("✓ Anomaly threshold (p%.0f of training errors): %.6f\n", *percentile, threshold)

	// Write artifacts
	modelPath := filepath.Join(*outDir, "autoencoder.json")
	scalerPath := filepath.Join(*outDir, "scaler.json")

	if err := scaler.Save(scalerPath); err != nil {
		fmt.Printf("ERROR: failed to save scaler: %v\n", err)
		os.Exit(1)
	}
	if err := ae.Save(modelPath); err != nil {
		fmt.Printf("ERROR: failed to save model: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n✓ Artifacts written:")
	fmt.Printf("  %s\n", modelPath)
	fmt.Printf("  %s\n", scalerPath)
	fmt.Println("\nStart the server with:")
	fmt.Printf("  KESTREL_MODEL_PATH=%s KESTREL_SCALER_PATH=%s go run cmd/kestrel/main.go\n", modelPath, scalerPath)
}

func orLabel(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// readTransactionCSV reads historical transactions. Expected columns (header
// names, case-insensitive): amount, currency, merchant_id, merchant_category,
// channel, customer_id, geo_country, timestamp. Missing columns become zero
// values; malformed rows are skipped.
func readTransactionCSV(path string, limit int) ([]*domain.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	field := func(record []string, name string) string {
		if i, ok := colIndex[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	var transactions []*domain.Transaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := strconv.ParseFloat(field(record, "amount"), 64)
		if err != nil {
			continue
		}

		ts := time.Now().UTC()
		if raw := field(record, "timestamp"); raw != "" {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				ts = parsed.UTC()
			}
		}

		transactions = append(transactions, &domain.Transaction{
			Amount:           amount,
			Currency:         field(record, "currency"),
			MerchantID:       field(record, "merchant_id"),
			MerchantCategory: field(record, "merchant_category"),
			Channel:          field(record, "channel"),
			CustomerID:       field(record, "customer_id"),
			GeoCountry:       field(record, "geo_country"),
			Timestamp:        ts,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// syntheticTransactions generates a plausible sample of normal activity so the
// toolchain works end to end before real history is exported.
func syntheticTransactions(n int, seed int64) []*domain.Transaction {
	rng := rand.New(rand.NewSource(seed))

	categories := []string{"grocery", "restaurant", "fuel", "retail", "travel", "utilities"}
	channels := []string{"online", "pos", "atm", "mobile"}
	currencies := []string{"USD", "USD", "USD", "EUR", "GBP"}
	countries := []string{"US", "US", "GB", "DE", "FR"}

	base := time.Now().UTC().Add(-30 * 24 * time.Hour)
	transactions := make([]*domain.Transaction, n)
	for i := 0; i < n; i++ {
		amount := 20 + rng.ExpFloat64()*80
		transactions[i] = &domain.Transaction{
			Amount:           amount,
			Currency:         currencies[rng.Intn(len(currencies))],
			MerchantID:       fmt.Sprintf("merch-%03d", rng.Intn(200)),
			MerchantCategory: categories[rng.Intn(len(categories))],
			Channel:          channels[rng.Intn(len(channels))],
			CustomerID:       fmt.Sprintf("cust-%03d", rng.Intn(100)),
			GeoCountry:       countries[rng.Intn(len(countries))],
			Timestamp:        base.Add(time.Duration(rng.Intn(30*24)) * time.Hour),
		}
	}
	return transactions
}
