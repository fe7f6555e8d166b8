package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/layer-3/clearsync/pkg/debounce"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
	"github.com/erc7824/nitrolite/walletnode/pkg/wallet"
)

const (
	checkChainIDCallTimeout = 30 * time.Second
	networksFileName        = "networks.yaml"
	defaultNativeSymbol     = "ETH"
)

var (
	networkNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$`)
	networkLogger    = log.Subsystem("network-check")
)

// NetworksConfig is the root of networks.yaml.
//
//	networks:
//	  - name: sepolia
//	    id: 11155111
//	    native_symbol: ETH
//	  - name: polygon_amoy
//	    id: 80002
//	    rpc_url: https://rpc-amoy.polygon.technology
//	    native_symbol: POL
type NetworksConfig struct {
	Networks []NetworkConfig `yaml:"networks" validate:"dive"`
}

// NetworkConfig is one named chain the wallet can be pointed at.
type NetworkConfig struct {
	// Name must be snake_case. It selects the network in WALLET_NETWORK and wallet_setProvider.
	Name string `yaml:"name" validate:"required"`
	// ID is the chain id the endpoint must report.
	ID uint64 `yaml:"id" validate:"required,gt=0"`
	// RPCURL is overridden by the <NAME>_RPC_URL environment variable.
	RPCURL       string `yaml:"rpc_url" validate:"omitempty,url"`
	NativeSymbol string `yaml:"native_symbol"`
	Disabled     bool   `yaml:"disabled"`
}

// Networks holds the enabled networks by name.
type Networks map[string]NetworkConfig

// LoadNetworks reads <configDirPath>/networks.yaml. A missing file yields no networks.
func LoadNetworks(configDirPath string) (Networks, error) {
	f, err := os.Open(filepath.Join(configDirPath, networksFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Networks{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var cfg NetworksConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode networks file")
	}

	if err := cfg.verifyVariables(); err != nil {
		return nil, err
	}
	return cfg.getEnabled(), nil
}

// verifyVariables validates names, applies env overrides and defaults.
// It modifies the config in place.
func (cfg *NetworksConfig) verifyVariables() error {
	seenNames := make(map[string]struct{})
	seenIDs := make(map[uint64]string)

	for i, nw := range cfg.Networks {
		if nw.Disabled {
			continue
		}

		if !networkNameRegex.MatchString(nw.Name) {
			return fmt.Errorf("invalid network name '%s', should match snake_case format", nw.Name)
		}
		if _, ok := seenNames[nw.Name]; ok {
			return fmt.Errorf("duplicate network name '%s'", nw.Name)
		}
		seenNames[nw.Name] = struct{}{}
		if other, ok := seenIDs[nw.ID]; ok && nw.ID != 0 {
			return fmt.Errorf("networks '%s' and '%s' share chain id %d", other, nw.Name, nw.ID)
		}
		seenIDs[nw.ID] = nw.Name

		if rpcURL := os.Getenv(fmt.Sprintf("%s_RPC_URL", strings.ToUpper(nw.Name))); rpcURL != "" {
			cfg.Networks[i].RPCURL = rpcURL
		}
		if nw.NativeSymbol == "" {
			cfg.Networks[i].NativeSymbol = defaultNativeSymbol
		}
	}

	enabled := make([]NetworkConfig, 0, len(cfg.Networks))
	for _, nw := range cfg.Networks {
		if !nw.Disabled {
			enabled = append(enabled, nw)
		}
	}
	if err := validator.New().Struct(NetworksConfig{Networks: enabled}); err != nil {
		return errors.Wrap(err, "invalid network")
	}
	return nil
}

func (cfg *NetworksConfig) getEnabled() Networks {
	networks := make(Networks)
	for _, nw := range cfg.Networks {
		if !nw.Disabled {
			networks[nw.Name] = nw
		}
	}
	return networks
}

func (n Networks) Lookup(name string) (NetworkConfig, bool) {
	nw, ok := n[name]
	return nw, ok
}

// ByChainID finds the network with the given chain id.
func (n Networks) ByChainID(chainID *big.Int) (NetworkConfig, bool) {
	if chainID == nil || !chainID.IsUint64() {
		return NetworkConfig{}, false
	}
	for _, nw := range n {
		if nw.ID == chainID.Uint64() {
			return nw, true
		}
	}
	return NetworkConfig{}, false
}

// checkChainID dials rpcURL and verifies it reports expectedChainID.
// Transient failures are retried until the call timeout, so it is only
// run at startup. Requests use wallet.ExpectChainID, which asks once.
func checkChainID(ctx context.Context, dial wallet.Dialer, rpcURL string, expectedChainID uint64) error {
	ctx, cancel := context.WithTimeout(ctx, checkChainIDCallTimeout)
	defer cancel()

	var chainID *big.Int
	err := debounce.Debounce(ctx, networkLogger, func(ctx context.Context) error {
		backend, err := dial(ctx, rpcURL)
		if err != nil {
			return errors.Wrap(err, "failed to connect to RPC endpoint")
		}
		defer backend.Close()

		chainID, err = backend.ChainID(ctx)
		return errors.Wrap(err, "failed to get chain ID from RPC endpoint")
	})
	if err != nil {
		return err
	}

	if !chainID.IsUint64() || chainID.Uint64() != expectedChainID {
		return fmt.Errorf("unexpected chain ID from RPC endpoint: got %s, want %d", chainID, expectedChainID)
	}
	return nil
}
