// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// MinSessionTTL is the shortest accepted session lifetime.
const MinSessionTTL = time.Minute

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if cfg.Ledger.RPCURL != "" {
		if err := validateURL(cfg.Ledger.RPCURL); err != nil {
			return fmt.Errorf("ledger.rpc_url: %w", err)
		}
	}

	if !cfg.Transfer.SkipRemoteStorage {
		if cfg.Storage.PublisherURL == "" || len(cfg.Storage.AggregatorURLs) == 0 {
			return ErrMissingStorage
		}
		if err := validateURL(cfg.Storage.PublisherURL); err != nil {
			return fmt.Errorf("storage.publisher_url: %w", err)
		}
		for _, u := range cfg.Storage.AggregatorURLs {
			if err := validateURL(u); err != nil {
				return fmt.Errorf("storage.aggregator_urls: %w", err)
			}
		}
	}

	if err := validateThreshold(cfg); err != nil {
		return err
	}

	if cfg.Transfer.DefaultGrantTTL <= 0 {
		return fmt.Errorf("%w: transfer.default_grant_ttl must be positive", ErrInvalidDuration)
	}

	for name, addr := range map[string]string{
		"server.keyserver_addr": cfg.Server.KeyServerAddr,
		"server.ledger_addr":    cfg.Server.LedgerAddr,
	} {
		if err := validateAddr(addr); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidListenAddr, name, err)
		}
	}
	return nil
}

func validateThreshold(cfg Config) error {
	th := cfg.Threshold
	if th.SessionTTL < MinSessionTTL {
		return fmt.Errorf("%w: threshold.session_ttl %s is below %s", ErrInvalidDuration, th.SessionTTL, MinSessionTTL)
	}
	for i, ks := range th.KeyServers {
		if ks.ObjectID == "" || ks.PublicKey == "" {
			return fmt.Errorf("%w: entry %d needs object_id and public_key", ErrInvalidKeyServer, i)
		}
		if err := validateURL(ks.URL); err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrInvalidKeyServer, i, err)
		}
	}
	if cfg.Transfer.SkipEncryption {
		return nil
	}
	if th.Threshold < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, th.Threshold)
	}
	// Discovered servers are only known at run time.
	if th.DiscoveryDomain == "" && th.Threshold > len(th.KeyServers) {
		return fmt.Errorf("%w: %d of %d key servers", ErrInvalidThreshold, th.Threshold, len(th.KeyServers))
	}
	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
