package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pathledger/internal/infra/crypto"
)

func newHashCmd() *cobra.Command {
	var (
		messageID string
		in        string
		canonical bool
	)
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the canonical digest of a payload",
		Long:  "Reads a JSON payload object and prints SHA-256 over the sorted {\"message_id\",\"payload\"} wrapper.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if messageID == "" {
				return errors.New("--message-id is required")
			}
			data, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			payload, err := decodeObject(data)
			if err != nil {
				return err
			}
			if canonical {
				body, err := crypto.Canonicalize(messageID, payload)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return err
			}
			digest, err := crypto.Digest(messageID, payload)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return err
		},
	}
	cmd.Flags().StringVar(&messageID, "message-id", "", "message id the payload is hashed under")
	cmd.Flags().StringVar(&in, "in", "", "payload file (default stdin)")
	cmd.Flags().BoolVar(&canonical, "canonical", false, "print the canonical bytes instead of the digest")
	return cmd
}

func newHashLegacyCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "hash-legacy",
		Short: "Print the legacy firmware digest of a reading",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			fields, err := decodeObject(data)
			if err != nil {
				return err
			}
			digest, err := crypto.LegacySnippetDigest(fields)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return err
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "reading file (default stdin)")
	return cmd
}

func newCanonicalizeCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "canonicalize",
		Short: "Print any JSON document in the canonical form used for hashing",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, in)
			if err != nil {
				return err
			}
			out, err := crypto.CanonicalizeJSON(data)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "JSON file (default stdin)")
	return cmd
}
