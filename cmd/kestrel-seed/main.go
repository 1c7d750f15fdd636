// Kestrel seed tool - populates the record store with sample fraud
// cases for demos and local development.
// Copyright (c) 2025 opensource.voice
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-voice/kestrel/internal/domain"
	"github.com/opensource-voice/kestrel/internal/repository"
)

func sampleCases(now time.Time) []*domain.FraudCase {
	return []*domain.FraudCase{
		{
			CustomerName:        "John Smith",
			SecurityIdentifier:  "12345",
			SecurityQuestion:    "What is your favorite color?",
			SecurityAnswer:      "blue",
			CardEnding:          "4242",
			TransactionAmount:   2499.99,
			TransactionMerchant: "ABC Electronics Store",
			TransactionTime:     now.Add(-2 * time.Hour).Format(domain.TimeLayout),
			TransactionCategory: "e-commerce",
			TransactionSource:   "alibaba.com",
			TransactionLocation: "Shanghai, China",
		},
		{
			CustomerName:        "Sarah Johnson",
			SecurityIdentifier:  "67890",
			SecurityQuestion:    "What city were you born in?",
			SecurityAnswer:      "delhi",
			CardEnding:          "5678",
			TransactionAmount:   15999.00,
			TransactionMerchant: "Luxury Fashion Boutique",
			TransactionTime:     now.Add(-5 * time.Hour).Format(domain.TimeLayout),
			TransactionCategory: "retail",
			TransactionSource:   "fashionstore.com",
			TransactionLocation: "Paris, France",
		},
		{
			CustomerName:        "Michael Brown",
			SecurityIdentifier:  "11223",
			SecurityQuestion:    "What is your mothers maiden name?",
			SecurityAnswer:      "sharma",
			CardEnding:          "9012",
			TransactionAmount:   899.50,
			TransactionMerchant: "Gaming Paradise Store",
			TransactionTime:     now.Add(-1 * time.Hour).Format(domain.TimeLayout),
			TransactionCategory: "gaming",
			TransactionSource:   "gamingparadise.net",
			TransactionLocation: "Tokyo, Japan",
		},
		{
			CustomerName:        "Emily Davis",
			SecurityIdentifier:  "44556",
			SecurityQuestion:    "What is your pets name?",
			SecurityAnswer:      "max",
			CardEnding:          "3456",
			TransactionAmount:   5299.99,
			TransactionMerchant: "Tech Gadgets International",
			TransactionTime:     now.Add(-30 * time.Minute).Format(domain.TimeLayout),
			TransactionCategory: "electronics",
			TransactionSource:   "techgadgets.co",
			TransactionLocation: "Singapore",
		},
		{
			CustomerName:        "David Wilson",
			SecurityIdentifier:  "78901",
			SecurityQuestion:    "What is your favorite food?",
			SecurityAnswer:      "pizza",
			CardEnding:          "7890",
			TransactionAmount:   12500.00,
			TransactionMerchant: "Premium Watch Collection",
			TransactionTime:     now.Add(-3 * time.Hour).Format(domain.TimeLayout),
			TransactionCategory: "luxury-goods",
			TransactionSource:   "luxurywatches.com",
			TransactionLocation: "Dubai, UAE",
		},
	}
}

func main() {
	dbPath := flag.String("db", "./kestrel.db", "path to the sqlite database")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: *dbPath,
	})
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Now()

	count := 0
	for _, fc := range sampleCases(now) {
		id, err := repo.CreateCase(ctx, fc)
		if err != nil {
			slog.Error("failed to seed case", "customer", fc.CustomerName, "error", err)
			os.Exit(1)
		}
		slog.Info("seeded case", "id", id, "customer", fc.CustomerName, "card_ending", fc.CardEnding)
		count++
	}

	fmt.Printf("Seeded %d fraud cases into %s\n", count, *dbPath)
}
