package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/abcfe/hdpay/app"
	"github.com/abcfe/hdpay/secret"
	"github.com/spf13/cobra"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/term"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Master seed management commands",
		Long:  `Commands for creating, storing and re-wrapping the master seed.`,
	}

	cmd.AddCommand(seedNewCmd())
	cmd.AddCommand(seedStoreCmd())
	cmd.AddCommand(seedRotateCmd())
	return cmd
}

// Create a new master seed
func seedNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Generate a master seed and its mnemonic backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			entropy, err := bip39.NewEntropy(256)
			if err != nil {
				return err
			}
			mnemonic, err := bip39.NewMnemonic(entropy)
			if err != nil {
				return err
			}

			fmt.Println("=== New Master Seed ===")
			fmt.Println("")
			fmt.Println("IMPORTANT: Write down the mnemonic and keep it offline!")
			fmt.Println("Every payment address is derived from it.")
			fmt.Println("")
			fmt.Printf("Mnemonic: %s\n", mnemonic)
			fmt.Println("")
			fmt.Println("Store it with: hdpay seed store --mnemonic")
			return nil
		},
	}
}

// Store the master seed in the configured provider
func seedStoreCmd() *cobra.Command {
	var fromMnemonic bool

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store the master seed with the configured provider",
		Long:  `Reads the master seed (or its mnemonic with --mnemonic) from the terminal without echo and hands it to the provider. Providers that wrap the seed print the wrapped form for safekeeping.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSecret("Enter master seed (will not be displayed): ")
			if err != nil {
				return err
			}
			if fromMnemonic {
				if seed, err = seedFromMnemonic(seed); err != nil {
					return err
				}
			}

			return withApp(func(a *app.App) error {
				wrapped, err := a.Service.Provider().StoreMasterSeed(a.Context(), seed)
				if err != nil {
					return err
				}

				fmt.Printf("Master seed stored with provider %s\n", a.Service.Provider().Name())
				if wrapped != "" {
					fmt.Println("Wrapped seed (set Secret.WrappedSeed if the keyring is unavailable):")
					fmt.Println(wrapped)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&fromMnemonic, "mnemonic", "m", false, "Input is a bip39 mnemonic")
	return cmd
}

func seedRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Re-wrap the stored seed under a new key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				rotator, ok := a.Service.Provider().(secret.Rotator)
				if !ok {
					return fmt.Errorf("provider %s has no rotatable key", a.Service.Provider().Name())
				}
				if err := rotator.RotateEncryptionKey(a.Context()); err != nil {
					return err
				}

				fmt.Println("Encryption key rotated")
				return nil
			})
		},
	}
}

// seedFromMnemonic turns a mnemonic back into the hex seed it encodes
func seedFromMnemonic(mnemonic string) (string, error) {
	entropy, err := bip39.EntropyFromMnemonic(strings.Join(strings.Fields(mnemonic), " "))
	if err != nil {
		return "", fmt.Errorf("invalid mnemonic: %w", err)
	}
	return hex.EncodeToString(entropy), nil
}

func readSecret(prompt string) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("error reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	// piped input
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("error reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
