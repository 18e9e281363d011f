// Command prismctl is the operator CLI for a running prism gateway. It
// drives the admin HTTP API: credit top-ups, balance reads, audit queries,
// cache statistics, and admin token provisioning.
//
// Usage:
//
//	prismctl credits add --user 6f1e... --amount 500 --reason "signup bonus"
//	prismctl credits balance --user 6f1e...
//	prismctl audit query --user 6f1e... --limit 20
//	prismctl audit recent
//	prismctl cache stats
//	prismctl token new
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"prism/pkg/platform/secrets"
)

var (
	apiBase    string
	adminToken string
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "prismctl",
		Short:         "Operator CLI for the prism enrichment gateway",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&apiBase, "api",
		getEnv("PRISM_API", "http://localhost:8080"), "Base URL of the prism API")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token",
		getEnv("PRISM_ADMIN_TOKEN", ""), "Admin token (or set PRISM_ADMIN_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(creditsCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func creditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Credit ledger operations",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add credit to a user's account",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			amount, _ := cmd.Flags().GetInt64("amount")
			reason, _ := cmd.Flags().GetString("reason")

			var out json.RawMessage
			err := callAPI(cmd.Context(), http.MethodPost, "/v1/admin/credits", map[string]any{
				"user_id":      user,
				"amount_cents": amount,
				"reason":       reason,
			}, &out)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	addCmd.Flags().String("user", "", "User ID (required)")
	addCmd.Flags().Int64("amount", 0, "Amount in cents (required)")
	addCmd.Flags().String("reason", "manual top-up", "Reason recorded in the audit trail")
	_ = addCmd.MarkFlagRequired("user")
	_ = addCmd.MarkFlagRequired("amount")

	balanceCmd := &cobra.Command{
		Use:   "balance",
		Short: "Read a user's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")

			var out json.RawMessage
			if err := callAPI(cmd.Context(), http.MethodGet, "/v1/admin/credits/"+url.PathEscape(user), nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	balanceCmd.Flags().String("user", "", "User ID (required)")
	_ = balanceCmd.MarkFlagRequired("user")

	cmd.AddCommand(addCmd, balanceCmd)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit trail queries",
	}

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query audit entries by user and time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if user, _ := cmd.Flags().GetString("user"); user != "" {
				params.Set("user_id", user)
			}
			if from, _ := cmd.Flags().GetString("from"); from != "" {
				params.Set("from", from)
			}
			if to, _ := cmd.Flags().GetString("to"); to != "" {
				params.Set("to", to)
			}
			if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}

			target := "/v1/admin/audit"
			if encoded := params.Encode(); encoded != "" {
				target += "?" + encoded
			}

			var out json.RawMessage
			if err := callAPI(cmd.Context(), http.MethodGet, target, nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	queryCmd.Flags().String("user", "", "Filter by user ID")
	queryCmd.Flags().String("from", "", "Earliest timestamp (RFC 3339)")
	queryCmd.Flags().String("to", "", "Latest timestamp (RFC 3339)")
	queryCmd.Flags().Int("limit", 0, "Maximum entries (server default when 0)")

	recentCmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "/v1/admin/audit/recent"
			if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
				target += "?limit=" + strconv.Itoa(limit)
			}

			var out json.RawMessage
			if err := callAPI(cmd.Context(), http.MethodGet, target, nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	recentCmd.Flags().Int("limit", 0, "Maximum entries (server default when 0)")

	cmd.AddCommand(queryCmd, recentCmd)
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Profile cache operations",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache hit rate and entry count",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := callAPI(cmd.Context(), http.MethodGet, "/v1/admin/cache/stats", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(statsCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Admin token provisioning",
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Generate an admin token and the hash to configure the server with",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := secrets.Generate()
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			hash, err := secrets.Hash(token)
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			return printJSON(map[string]string{
				"admin_token":            token,
				"prism_admin_token_hash": hash,
			})
		},
	}

	hashCmd := &cobra.Command{
		Use:   "hash <token>",
		Short: "Hash an existing admin token for PRISM_ADMIN_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := secrets.Hash(args[0])
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			fmt.Println(hash)
			return nil
		},
	}

	cmd.AddCommand(newCmd, hashCmd)
	return cmd
}

// callAPI performs one admin API request and decodes the JSON response into
// out. Non-2xx responses are turned into errors carrying the server's error
// envelope.
func callAPI(ctx context.Context, method, path string, payload, out any) error {
	if adminToken == "" {
		return fmt.Errorf("no admin token: pass --admin-token or set PRISM_ADMIN_TOKEN")
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-Token", adminToken)
	req.Header.Set("User-Agent", "prismctl/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			if envelope.Description != "" {
				return fmt.Errorf("%s: %s (%s)", resp.Status, envelope.Error, envelope.Description)
			}
			return fmt.Errorf("%s: %s", resp.Status, envelope.Error)
		}
		return fmt.Errorf("%s: %s", resp.Status, string(raw))
	}

	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
