package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pathledger",
		Short:        "Operator tools for the PathLedger anchoring service",
		SilenceUsage: true,
	}
	root.AddCommand(
		newHashCmd(),
		newHashLegacyCmd(),
		newCanonicalizeCmd(),
		newVerifyCmd(),
		newSeedCmd(),
	)
	return root
}

// readInput reads the named file, or stdin for "" and "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// decodeObject decodes a JSON object keeping numbers as their literals.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("decode json: expected an object")
	}
	return out, nil
}
