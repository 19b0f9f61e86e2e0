package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/threshold"
	"github.com/bitfsorg/libgrant-go/wallet"
)

const shutdownTimeout = 10 * time.Second

var (
	flagPublicURL string
	flagGas       uint64
	flagFaucet    []string
)

var keyserverCmd = &cobra.Command{
	Use:   "keyserver",
	Short: "Run a threshold key server",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var keyserverKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the key server's sealed key file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := env.cfg.Server.KeyServerKeyFile
		if path == "" {
			return errors.New("server.keyserver_key_file is not configured")
		}
		mnemonic, err := wallet.GenerateMnemonic(wallet.Mnemonic24Words)
		if err != nil {
			return err
		}
		seed, err := wallet.SeedFromMnemonic(mnemonic, "")
		if err != nil {
			return err
		}
		w, err := wallet.New(seed)
		if err != nil {
			return err
		}
		actor, err := w.Actor(0)
		if err != nil {
			return err
		}
		pass, err := passphrase("Key file passphrase: ")
		if err != nil {
			return err
		}
		if err := wallet.WriteKeystore(path, seed, pass); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key file:   %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\n", hex.EncodeToString(actor.PublicKey().Compressed()))
		return nil
	},
}

var keyserverServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve key shares to approved sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sc := env.cfg.Server
		if sc.KeyServerObjectID == "" || sc.KeyServerKeyFile == "" {
			return errors.New("server.keyserver_object_id and server.keyserver_key_file must be configured")
		}
		actor, err := openActor(sc.KeyServerKeyFile, 0)
		if err != nil {
			return err
		}
		svc, err := env.ledger()
		if err != nil {
			return err
		}
		log := env.logger.Named("keyserver")
		ks, err := threshold.NewKeyServer(threshold.KeyServerConfig{
			ObjectID:  sc.KeyServerObjectID,
			Key:       actor.PrivateKey(),
			PackageID: env.packageID(),
			Ledger:    svc,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		if flagPublicURL != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "discovery record for %s.<domain>:\n  %s\n",
				threshold.DiscoveryLabel, threshold.ServerRecord(ks.Info(flagPublicURL)))
		}
		handler := threshold.NewHandler(ks, threshold.HandlerOptions{
			RateLimit: rate.Limit(sc.RateLimit),
			Burst:     sc.Burst,
			Logger:    log,
		})
		return serveHTTP(cmd.Context(), sc.KeyServerAddr, handler, log)
	},
}

var localnetCmd = &cobra.Command{
	Use:   "localnet",
	Short: "Run a local development ledger",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var localnetServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the embedded ledger over JSON-RPC",
	Example: `grantctl localnet serve --gas 1000 --faucet 0xb0b=1000000
GRANT_LEDGER_RPC__URL=http://127.0.0.1:9000 grantctl upload notes.txt --public`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := env.openLocalnet(flagGas)
		if err != nil {
			return err
		}
		for _, f := range flagFaucet {
			addr, amount, err := parseFaucet(f)
			if err != nil {
				return err
			}
			if err := node.Faucet(addr, amount); err != nil {
				return err
			}
		}
		log := env.logger.Named("localnet")
		log.Info("local ledger ready",
			zap.String("package", node.PackageID()),
			zap.String("path", env.cfg.LedgerPath()),
			zap.Uint64("gas_per_command", flagGas))
		return serveHTTP(cmd.Context(), env.cfg.Server.LedgerAddr, ledger.NewRPCHandler(node, log), log)
	},
}

func init() {
	keyserverServeCmd.Flags().StringVar(&flagPublicURL, "public-url", "", "Public base URL; prints the discovery TXT record")
	keyserverCmd.AddCommand(keyserverKeygenCmd, keyserverServeCmd)

	localnetServeCmd.Flags().Uint64Var(&flagGas, "gas", 0, "Gas charged per command (0 disables gas)")
	localnetServeCmd.Flags().StringArrayVar(&flagFaucet, "faucet", nil, "Credit gas: ADDR=AMOUNT")
	localnetCmd.AddCommand(localnetServeCmd)
}

// serveHTTP serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func parseFaucet(s string) (string, uint64, error) {
	addr, amount, ok := strings.Cut(s, "=")
	if !ok {
		return "", 0, fmt.Errorf("faucet %q: want ADDR=AMOUNT", s)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(amount), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("faucet %q: %w", s, err)
	}
	return strings.TrimSpace(addr), n, nil
}
