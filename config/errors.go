// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidListenAddr indicates a listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigFile indicates the configuration file could not be parsed.
	ErrInvalidConfigFile = errors.New("config: invalid configuration file")

	// ErrInvalidURL indicates a configured endpoint is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("config: invalid URL")

	// ErrInvalidThreshold indicates the threshold does not fit the key server set.
	ErrInvalidThreshold = errors.New("config: invalid threshold")

	// ErrInvalidKeyServer indicates a key server entry is incomplete.
	ErrInvalidKeyServer = errors.New("config: invalid key server")

	// ErrInvalidDuration indicates a TTL is out of range.
	ErrInvalidDuration = errors.New("config: invalid duration")

	// ErrMissingStorage indicates remote storage is enabled without a publisher.
	ErrMissingStorage = errors.New("config: remote storage requires a publisher and an aggregator")
)
