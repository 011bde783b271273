// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command continuum runs the output-governance service and its offline
// reconciliation tooling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rin-protocol/continuum/pkg/logging"
	"github.com/rin-protocol/continuum/services/gateway"
	"github.com/rin-protocol/continuum/services/ledger"
	"github.com/rin-protocol/continuum/services/license"
)

var (
	configPath  string
	ledgerDir   string
	month       string
	licensePath string
)

var rootCmd = &cobra.Command{
	Use:   "continuum",
	Short: "Tone governance layer for AI output",
	Long: `Continuum analyzes outbound text for tone pressure, guides or repairs
flagged messages, and keeps a content-free audit and billing trail.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := gateway.LoadConfig(configPath)
		if err != nil {
			return err
		}

		// Missing baseline secret is the one startup-fatal condition.
		secrets, err := gateway.LoadSecrets()
		if err != nil {
			return err
		}

		logger := logging.New(logging.Config{
			Service: "continuum",
			Level:   logging.ParseLevel(cfg.Logging.Level),
			LogDir:  cfg.Logging.LogDir,
			JSON:    cfg.Logging.JSON,
		})
		defer logger.Close()

		svc, err := gateway.New(cfg, secrets, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return svc.Run(ctx)
	},
}

var verifySummaryCmd = &cobra.Command{
	Use:   "verify-summary",
	Short: "Verify a signed monthly usage summary",
	Long: `Reads <month>.summary.json and <month>.summary.sig from the ledger
directory and checks the HMAC signature with the configured signing key
(CONTINUUM_USAGE_SIGNING_KEY, falling back to CONTINUUM_BASELINE_SECRET).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if month == "" {
			return errors.New("--month is required (YYYY-MM)")
		}
		key := os.Getenv(gateway.EnvUsageSigningKey)
		if key == "" {
			key = os.Getenv(gateway.EnvBaselineSecret)
		}
		if key == "" {
			return fmt.Errorf("set %s or %s", gateway.EnvUsageSigningKey, gateway.EnvBaselineSecret)
		}

		summary, err := ledger.Verify(ledgerDir, month, []byte(key))
		if err != nil {
			var sigErr *ledger.SignatureVerificationError
			if errors.As(err, &sigErr) {
				return fmt.Errorf("signature INVALID: %s", sigErr.Path)
			}
			return err
		}

		fmt.Printf("signature OK\nmonth: %s\nanalysis_count: %d\nfeedback_count: %d\ntotal_events: %d\n",
			summary.Month, summary.AnalysisCount, summary.FeedbackCount, summary.TotalEvents)
		return nil
	},
}

var licenseInspectCmd = &cobra.Command{
	Use:   "license-inspect",
	Short: "Decrypt and print a license envelope",
	Long: `Opens the license envelope file with the configured key
(CONTINUUM_LICENSE_KEY, falling back to CONTINUUM_BASELINE_SECRET) and
prints its payload without starting the service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := os.Getenv(gateway.EnvLicenseKey)
		if key == "" {
			key = os.Getenv(gateway.EnvBaselineSecret)
		}
		if key == "" {
			return fmt.Errorf("set %s or %s", gateway.EnvLicenseKey, gateway.EnvBaselineSecret)
		}

		data, err := os.ReadFile(licensePath)
		if err != nil {
			return err
		}
		var env license.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("parse envelope %s: %w", licensePath, err)
		}
		payload, err := license.Open(env, []byte(key))
		if err != nil {
			return err
		}

		fmt.Printf("license_id: %s\nexpiry_date: %s\nquota_limit: %d\n",
			payload.LicenseID, payload.ExpiryDate, payload.QuotaLimit)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the service version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(gateway.Version)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults apply when omitted)")
	verifySummaryCmd.Flags().StringVar(&ledgerDir, "dir", "data/ledger", "ledger artifact directory")
	verifySummaryCmd.Flags().StringVar(&month, "month", "", "month key, YYYY-MM")
	licenseInspectCmd.Flags().StringVar(&licensePath, "file", "data/license.json", "license envelope file")

	rootCmd.AddCommand(serveCmd, verifySummaryCmd, licenseInspectCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
