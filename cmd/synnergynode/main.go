// Command synnergynode runs a consensus-core node: state manager, chain
// manager, and networking host, wired from a YAML config file plus SYNN_
// environment overrides. It is a cobra root command with one subcommand
// tree, scaled down to the one "node start" operation this repository
// implements.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synnergy-core/archive"
	"synnergy-core/core"
	"synnergy-core/crypto"
	"synnergy-core/net"
	"synnergy-core/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "synnergynode"}
	root.AddCommand(nodeCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	cmd.AddCommand(nodeStartCmd())
	return cmd
}

func nodeStartCmd() *cobra.Command {
	var configPath, listenOverride, genesisOverride string

	start := &cobra.Command{
		Use:   "start",
		Short: "start a node, connecting to any configured bootstrap peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listenOverride != "" {
				cfg.ListenEndpoint = listenOverride
			}
			if genesisOverride != "" {
				cfg.GenesisPath = genesisOverride
			}
			return runNode(cfg)
		},
	}
	start.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	start.Flags().StringVar(&listenOverride, "listen", "", "override listen_endpoint from config")
	start.Flags().StringVar(&genesisOverride, "genesis", "", "override genesis_path from config")
	return start
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func runNode(cfg *config.Config) error {
	log := newLogger(cfg.Logging.Level)

	priv, self, err := loadOrCreateIdentity(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	_ = priv // unused here: only the derived address identifies the node

	store, err := core.OpenStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	state := core.NewManager(log)
	mempool := core.NewMempool()

	target, err := cfg.PowTargetBytes()
	if err != nil {
		return fmt.Errorf("pow target: %w", err)
	}
	chainCfg := core.ChainConfig{
		Target:              core.Target(target),
		InitialReward:       cfg.BlockReward,
		RewardHalvingPeriod: cfg.RewardHalvingPeriod,
	}
	chain := core.NewChain(state, mempool, chainCfg, log)

	if err := bootstrapChain(chain, store, cfg.GenesisPath, log); err != nil {
		return fmt.Errorf("bootstrap chain: %w", err)
	}

	hostCfg := net.HostConfig{
		ListenEndpoint:     cfg.ListenEndpoint,
		BootstrapEndpoints: cfg.BootstrapEndpoints,
		MaxPeers:           cfg.MaxPeers,
		PingFrequency:      time.Duration(cfg.PingFrequencySeconds) * time.Second,
		InitialPeerRating:  int32(cfg.InitialPeerRating),
		RequestTimeout:     time.Duration(cfg.PingFrequencySeconds) * time.Second,
		KademliaBucketCap:  net.DefaultKademliaBucketCap,
	}
	host := net.NewHost(hostCfg, self, chain, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	log.WithField("id", hex.EncodeToString(self[:])).Info("node started")

	<-ctx.Done()
	log.Info("shutting down")
	return host.Stop()
}

// bootstrapChain replays whatever block log the store already holds or,
// if the log is empty, applies the genesis block read from genesisPath and
// appends it to the log. Only the genesis block is ever appended: blocks
// accepted later from peers are not written to the log, so a restart
// replays the genesis block alone.
func bootstrapChain(chain *core.Chain, store *core.Store, genesisPath string, log *logrus.Logger) error {
	replayed, err := store.LoadBlockLog()
	if err != nil {
		return err
	}
	if len(replayed) > 0 {
		for _, b := range replayed {
			if res := chain.TryAddBlock(b); res != core.Added && res != core.AlreadyKnown {
				return fmt.Errorf("replay block %x: %s", b.HashOfBlock(), res)
			}
		}
		return nil
	}

	if genesisPath == "" {
		return fmt.Errorf("no existing block log and no genesis_path configured")
	}
	data, err := os.ReadFile(genesisPath)
	if err != nil {
		return fmt.Errorf("read genesis: %w", err)
	}
	r := archive.NewReader(data)
	genesis, err := core.DecodeBlock(r)
	if err != nil {
		return fmt.Errorf("decode genesis: %w", err)
	}
	if res := chain.TryAddBlock(genesis); res != core.Added {
		return fmt.Errorf("apply genesis: %s", res)
	}
	return store.AppendBlock(genesis)
}

// loadOrCreateIdentity reads the node's persistent signing key from
// dataDir/node_key, generating and saving one on first start.
func loadOrCreateIdentity(dataDir string) (*crypto.PrivateKey, core.Address, error) {
	path := filepath.Join(dataDir, "node_key")
	if data, err := os.ReadFile(path); err == nil {
		priv, err := crypto.PrivateKeyFromBytes(data)
		if err != nil {
			return nil, core.Address{}, err
		}
		return priv, crypto.AddressFromPubKey(priv.PubKey()), nil
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, core.Address{}, err
	}
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, core.Address{}, err
	}
	if err := os.WriteFile(path, priv.Bytes(), 0o600); err != nil {
		return nil, core.Address{}, err
	}
	return priv, crypto.AddressFromPubKey(priv.PubKey()), nil
}
