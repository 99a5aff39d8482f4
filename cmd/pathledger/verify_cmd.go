package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pathledger/internal/domain"
)

var errNotVerified = errors.New("one or more events failed verification")

func newVerifyCmd() *cobra.Command {
	var (
		server  string
		kind    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify <message-id>...",
		Short: "Ask a running server to verify events against the ledger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			base := strings.TrimRight(server, "/")
			if kind != "" {
				k, ok := domain.ParseEventKind(kind)
				if !ok {
					return fmt.Errorf("unknown kind %q", kind)
				}
				return verifyEach(cmd, client, base, k, args)
			}
			return verifyBatch(cmd, client, base, args)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&kind, "kind", "", "tracker or product; empty looks up both in one batch")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")
	return cmd
}

func verifyBatch(cmd *cobra.Command, client *http.Client, base string, ids []string) error {
	body, err := json.Marshal(map[string][]string{"message_ids": ids})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, base+"/events/verify-block-hashes", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := send(client, req, http.StatusOK)
	if err != nil {
		return err
	}
	var results []domain.VerificationResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	failed := false
	for _, r := range results {
		kind := "-"
		if r.Kind != nil {
			kind = string(*r.Kind)
		}
		line := fmt.Sprintf("%s\t%s\t%t", r.MessageID, kind, r.Verified)
		if r.Error != "" {
			line += "\t" + r.Error
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		failed = failed || !r.Verified
	}
	if failed {
		return errNotVerified
	}
	return nil
}

func verifyEach(cmd *cobra.Command, client *http.Client, base string, kind domain.EventKind, ids []string) error {
	failed := false
	for _, id := range ids {
		u := fmt.Sprintf("%s/%s-events/%s/verify", base, kind, url.PathEscape(id))
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, u, nil)
		if err != nil {
			return err
		}
		raw, err := send(client, req, http.StatusOK, http.StatusInternalServerError, http.StatusNotFound)
		if err != nil {
			return err
		}
		var out struct {
			Verified bool   `json:"verified"`
			Error    string `json:"error"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		reason := out.Error
		if reason == "" {
			reason = out.Message
		}
		line := fmt.Sprintf("%s\t%s\t%t", id, kind, out.Verified)
		if reason != "" {
			line += "\t" + reason
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		failed = failed || !out.Verified
	}
	if failed {
		return errNotVerified
	}
	return nil
}

func send(client *http.Client, req *http.Request, accept ...int) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	for _, code := range accept {
		if resp.StatusCode == code {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw)))
}
