package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/arbiter/internal/agent"
)

func newKeygenCommand() *cobra.Command {
	var out string
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 identity and save its seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(out); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", out)
				}
			}
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("create key directory: %w", err)
				}
			}
			if err := os.WriteFile(out, priv.Seed(), 0600); err != nil {
				return fmt.Errorf("write key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity: %s\nSaved to: %s\n", agent.IDFromPublicKey(pub), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "arbiter.key", "seed file to write")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing seed file")
	return cmd
}

func newSignScoreCommand() *cobra.Command {
	var keyPath, txID string
	var score uint8
	cmd := &cobra.Command{
		Use:   "sign-score",
		Short: "Sign a quality assertion for a transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyPath == "" || txID == "" {
				return errors.New("--key and --tx are required")
			}
			priv, err := loadKey(keyPath)
			if err != nil {
				return err
			}
			pub := priv.Public().(ed25519.PublicKey)
			sig := agent.SignAssertion(priv, txID, score)
			fmt.Fprintf(cmd.OutOrStdout(), "{\"signer\":%q,\"transaction_id\":%q,\"score\":%d,\"signature\":%q}\n",
				agent.IDFromPublicKey(pub), txID, score, hex.EncodeToString(sig))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "seed file written by keygen")
	cmd.Flags().StringVar(&txID, "tx", "", "transaction id")
	cmd.Flags().Uint8Var(&score, "score", 0, "quality score (0-100)")
	return cmd
}

// loadKey reads an Ed25519 seed file.
func loadKey(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid key file: expected %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
