package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libgrant-go/wallet"
)

var (
	flagWords    int
	flagMnemonic string
	flagForce    bool
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the local signing wallet",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create or restore a wallet keystore",
	Long: `Create a new BIP39 wallet, or restore one with --mnemonic, and seal its
seed in <data-dir>/wallet.key under a passphrase.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := env.keystorePath()
		if !flagForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("keystore %s already exists (use --force to replace it)", path)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}

		mnemonic := flagMnemonic
		generated := mnemonic == ""
		if generated {
			var err error
			if mnemonic, err = wallet.GenerateMnemonic(wordsToEntropy(flagWords)); err != nil {
				return err
			}
		}
		seed, err := wallet.SeedFromMnemonic(mnemonic, "")
		if err != nil {
			return err
		}
		w, err := wallet.New(seed)
		if err != nil {
			return err
		}
		actor, err := w.Actor(flagAccount)
		if err != nil {
			return err
		}

		pass, err := passphrase("New keystore passphrase: ")
		if err != nil {
			return err
		}
		if err := wallet.WriteKeystore(path, seed, pass); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if generated {
			fmt.Fprintln(out, "Write down this recovery phrase and keep it offline:")
			fmt.Fprintf(out, "\n  %s\n\n", mnemonic)
		}
		fmt.Fprintf(out, "keystore: %s\n", path)
		fmt.Fprintf(out, "address:  %s\n", actor.Address())
		return nil
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the wallet address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, err := env.actor(flagAccount)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), actor.Address())
		return nil
	},
}

func init() {
	walletNewCmd.Flags().IntVar(&flagWords, "words", 12, "Recovery phrase length: 12 or 24")
	walletNewCmd.Flags().StringVar(&flagMnemonic, "mnemonic", "", "Restore from an existing recovery phrase")
	walletNewCmd.Flags().BoolVar(&flagForce, "force", false, "Replace an existing keystore")
	for _, c := range []*cobra.Command{walletNewCmd, walletAddressCmd} {
		c.Flags().Uint32Var(&flagAccount, "account", 0, "Wallet account index")
	}
	walletCmd.AddCommand(walletNewCmd, walletAddressCmd)
}

func wordsToEntropy(words int) int {
	if words == 24 {
		return wallet.Mnemonic24Words
	}
	if words == 12 {
		return wallet.Mnemonic12Words
	}
	// GenerateMnemonic rejects anything else.
	return words
}
