package main

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/bitfsorg/libgrant-go/blobstore"
	"github.com/bitfsorg/libgrant-go/config"
	"github.com/bitfsorg/libgrant-go/ledger"
	"github.com/bitfsorg/libgrant-go/localnet"
	"github.com/bitfsorg/libgrant-go/threshold"
	"github.com/bitfsorg/libgrant-go/transfer"
	"github.com/bitfsorg/libgrant-go/wallet"
)

// EnvPassphrase supplies the keystore passphrase without a prompt.
const EnvPassphrase = "GRANT_PASSPHRASE"

// KeystoreName is the wallet keystore file inside the data directory.
const KeystoreName = "wallet.key"

// app lazily opens the services a command needs.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	svc     ledger.Service
	builder *ledger.Builder
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	_ = a.logger.Sync()
}

func (a *app) packageID() string {
	if a.cfg.Ledger.PackageID != "" {
		return a.cfg.Ledger.PackageID
	}
	return localnet.DefaultPackageID
}

// ledger returns the configured ledger: the JSON-RPC node at rpc_url, or
// the embedded local ledger when none is set.
func (a *app) ledger() (ledger.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	if a.cfg.Ledger.RPCURL != "" {
		a.svc = ledger.NewRPCClient(ledger.RPCConfig{URL: a.cfg.Ledger.RPCURL})
		return a.svc, nil
	}
	node, err := a.openLocalnet(0)
	if err != nil {
		return nil, err
	}
	a.svc = node
	return node, nil
}

func (a *app) openLocalnet(gas uint64) (*localnet.Node, error) {
	node, err := localnet.Open(a.cfg.LedgerPath(), localnet.Options{
		PackageID:     a.packageID(),
		GasPerCommand: gas,
		Logger:        a.logger.Named("localnet"),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, node.Close)
	return node, nil
}

func (a *app) txBuilder() (*ledger.Builder, error) {
	if a.builder != nil {
		return a.builder, nil
	}
	b, err := ledger.NewBuilder(a.packageID())
	if err != nil {
		return nil, err
	}
	if a.cfg.Ledger.ClockID != "" {
		if b, err = b.WithClock(a.cfg.Ledger.ClockID); err != nil {
			return nil, err
		}
	}
	a.builder = b
	return b, nil
}

// stores returns the remote store (nil when remote storage is skipped) and
// the local store.
func (a *app) stores() (blobstore.Store, blobstore.Store, error) {
	local, err := blobstore.NewLocalStore(a.cfg.BlobDir())
	if err != nil {
		return nil, nil, err
	}
	if a.cfg.Transfer.SkipRemoteStorage {
		return nil, local, nil
	}
	cache, err := blobstore.NewLocalStore(filepath.Join(a.cfg.DataDir, "cache"))
	if err != nil {
		return nil, nil, err
	}
	walrus := blobstore.NewWalrus(blobstore.WalrusConfig{
		PublisherURL:   a.cfg.Storage.PublisherURL,
		AggregatorURLs: a.cfg.Storage.AggregatorURLs,
		Epochs:         a.cfg.Storage.Epochs,
		Logger:         a.logger.Named("walrus"),
	})
	return blobstore.NewCachingStore(cache, walrus, a.logger), local, nil
}

// keyServers returns the configured key servers followed by any discovered
// ones not already listed.
func (a *app) keyServers() ([]threshold.ServerInfo, error) {
	var out []threshold.ServerInfo
	seen := map[string]bool{}
	for i, ks := range a.cfg.Threshold.KeyServers {
		id, err := ledger.NormalizeAddress(ks.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("key server %d: %w", i, err)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(ks.PublicKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("key server %d: public key: %w", i, err)
		}
		pub, err := ec.PublicKeyFromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("key server %d: public key: %w", i, err)
		}
		seen[id] = true
		out = append(out, threshold.ServerInfo{ObjectID: id, PublicKey: pub, URL: ks.URL})
	}

	if domain := a.cfg.Threshold.DiscoveryDomain; domain != "" {
		found, err := threshold.Discover(threshold.NewDNSSECResolver(a.cfg.Threshold.DNSUpstream), domain)
		if err != nil {
			return nil, err
		}
		for _, info := range found {
			if !seen[info.ObjectID] {
				seen[info.ObjectID] = true
				out = append(out, info)
			}
		}
		a.logger.Debug("key servers discovered", zap.String("domain", domain), zap.Int("count", len(found)))
	}
	return out, nil
}

func (a *app) thresholdClient(servers []threshold.ServerInfo) (*threshold.Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	clients := make([]threshold.KeyServerClient, 0, len(servers))
	for _, s := range servers {
		c, err := threshold.NewHTTPKeyServer(s.ObjectID, s.URL, httpClient)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return threshold.NewClient(clients, threshold.ClientOptions{Logger: a.logger.Named("threshold")})
}

func (a *app) uploader() (*transfer.Uploader, error) {
	if err := config.ValidateConfig(a.cfg); err != nil {
		return nil, err
	}
	svc, err := a.ledger()
	if err != nil {
		return nil, err
	}
	b, err := a.txBuilder()
	if err != nil {
		return nil, err
	}
	remote, local, err := a.stores()
	if err != nil {
		return nil, err
	}
	opts := transfer.UploaderOptions{
		Ledger:   svc,
		Builder:  b,
		Remote:   remote,
		Local:    local,
		GrantTTL: a.cfg.Transfer.DefaultGrantTTL,
		Logger:   a.logger,
	}
	if !a.cfg.Transfer.SkipEncryption {
		if opts.KeyServers, err = a.keyServers(); err != nil {
			return nil, err
		}
		opts.Threshold = a.cfg.Threshold.Threshold
	}
	return transfer.NewUploader(a.cfg.Transfer.Mode(), opts)
}

func (a *app) downloader() (*transfer.Downloader, error) {
	if err := config.ValidateConfig(a.cfg); err != nil {
		return nil, err
	}
	svc, err := a.ledger()
	if err != nil {
		return nil, err
	}
	b, err := a.txBuilder()
	if err != nil {
		return nil, err
	}
	remote, local, err := a.stores()
	if err != nil {
		return nil, err
	}
	opts := transfer.DownloaderOptions{
		Ledger:     svc,
		Builder:    b,
		Remote:     remote,
		Local:      local,
		SessionTTL: a.cfg.Threshold.SessionTTL,
		Logger:     a.logger,
	}
	if !a.cfg.Transfer.SkipEncryption {
		servers, err := a.keyServers()
		if err != nil {
			return nil, err
		}
		client, err := a.thresholdClient(servers)
		if err != nil {
			return nil, err
		}
		opts.Decrypter = client
	}
	return transfer.NewDownloader(a.cfg.Transfer.Mode(), opts)
}

func (a *app) grants() (*transfer.Grants, error) {
	svc, err := a.ledger()
	if err != nil {
		return nil, err
	}
	b, err := a.txBuilder()
	if err != nil {
		return nil, err
	}
	return transfer.NewGrants(svc, b, a.cfg.Transfer.DefaultGrantTTL, nil, a.logger), nil
}

func (a *app) keystorePath() string {
	return filepath.Join(a.cfg.DataDir, KeystoreName)
}

// actor opens the wallet keystore and derives the signing account.
func (a *app) actor(account uint32) (*wallet.Actor, error) {
	return openActor(a.keystorePath(), account)
}

func openActor(path string, account uint32) (*wallet.Actor, error) {
	pass, err := passphrase("Keystore passphrase: ")
	if err != nil {
		return nil, err
	}
	seed, err := wallet.ReadKeystore(path, pass)
	if err != nil {
		return nil, err
	}
	w, err := wallet.New(seed)
	if err != nil {
		return nil, err
	}
	return w.Actor(account)
}

// passphrase reads GRANT_PASSPHRASE, or prompts with masked input.
func passphrase(prompt string) (string, error) {
	if p, ok := os.LookupEnv(EnvPassphrase); ok {
		return p, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
