package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/committee/member"
	"github.com/zkbitcoin/committee/internal/config"
	"github.com/zkbitcoin/committee/internal/keystore"
	"github.com/zkbitcoin/committee/internal/metrics"
	"github.com/zkbitcoin/committee/pkg/pool"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
	"go.uber.org/zap"
)

var generateArg struct {
	Num       int
	Threshold int
	OutputDir string
	Seal      bool
}

var generateCmd = &cobra.Command{
	Use:   "generate-committee",
	Short: "deal key shares for a new committee",
	Long: `Runs the trusted dealer ceremony and writes, in the output directory,
one key-<id>.cbor per member, publickey-package.json and committee-cfg.json.

With --seal, shares are encrypted under $ZKBTC_KEY_PASSPHRASE.`,
	Args: NoExtraArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		var pass []byte
		if generateArg.Seal {
			if pass = passphrase(); len(pass) == 0 {
				return api.Errorf(api.ErrConfiguration, "--seal needs %s_KEY_PASSPHRASE", config.EnvPrefix)
			}
		}
		committee := config.LocalCommittee(generateArg.Num, generateArg.Threshold)
		if err := committee.Validate(); err != nil {
			return err
		}

		pl := pool.NewPool(0)
		defer pl.TearDown()
		shares, public, err := keygen.Deal(rand.Reader, pl, generateArg.Num, generateArg.Threshold)
		if errors.Is(err, keygen.ErrInvalidParameters) {
			return api.Wrap(api.ErrConfiguration, err)
		}
		if err != nil {
			return err
		}

		if err = os.MkdirAll(generateArg.OutputDir, 0o700); err != nil {
			return err
		}
		for _, id := range public.PartyIDs() {
			path, err := keystore.WriteShare(generateArg.OutputDir, shares[id], pass)
			if err != nil {
				return err
			}
			logger.Info("key share written", zap.Stringer("member", id), zap.String("path", path))
		}
		path, err := keystore.WritePublic(generateArg.OutputDir, public)
		if err != nil {
			return err
		}
		logger.Info("public key package written", zap.String("path", path))
		path = filepath.Join(generateArg.OutputDir, config.CommitteeFile)
		if err = committee.Save(path); err != nil {
			return err
		}
		logger.Info("committee written", zap.String("path", path))

		fmt.Printf("group key: %s\n", public.PublicKey)
		return nil
	},
}

var nodeArg struct {
	KeyPath          string
	KeySecretID      string
	Region           string
	PublicKeyPackage string
	Listen           string
}

var startNodeCmd = &cobra.Command{
	Use:   "start-committee-node",
	Short: "run a committee member",
	Args:  NoExtraArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		share, err := loadShare(cmd.Context())
		if err != nil {
			return err
		}
		public, err := keystore.ReadPublic(nodeArg.PublicKeyPackage)
		if err != nil {
			return err
		}
		if !bytes.Equal(public.PublicKey, share.PublicKey) || public.Threshold != share.Threshold {
			return api.Errorf(api.ErrConfiguration, "key share of %s is not from this committee", share.ID)
		}

		m := metrics.New()
		node, err := member.New(share, rand.Reader, settings.Member, logger, m)
		if err != nil {
			return err
		}
		defer node.Close()
		logger.Info("committee member ready",
			zap.Stringer("member", share.ID),
			zap.Int("threshold", share.Threshold),
			zap.Stringer("group key", share.PublicKey))
		return serve(settings.Listen, node.Handler())
	},
}

func loadShare(ctx context.Context) (*keygen.Config, error) {
	if nodeArg.KeySecretID != "" {
		if ctx == nil {
			ctx = context.Background()
		}
		client, err := keystore.NewSecretsClient(ctx, nodeArg.Region)
		if err != nil {
			return nil, err
		}
		return keystore.ReadShareFromSecret(ctx, client, nodeArg.KeySecretID, passphrase())
	}
	if nodeArg.KeyPath == "" {
		return nil, api.Errorf(api.ErrConfiguration, "one of --key-path or --key-secret-id is needed")
	}
	return keystore.ReadShare(nodeArg.KeyPath, passphrase())
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().IntVarP(&generateArg.Num, "num", "n", 3, "number of members")
	generateCmd.Flags().IntVarP(&generateArg.Threshold, "threshold", "t", 2, "members needed to sign")
	generateCmd.Flags().StringVarP(&generateArg.OutputDir, "output-dir", "o", ".", "where to write the files")
	generateCmd.Flags().BoolVar(&generateArg.Seal, "seal", false, "encrypt key shares with a passphrase")

	rootCmd.AddCommand(startNodeCmd)
	startNodeCmd.Flags().StringVar(&nodeArg.KeyPath, "key-path", "", "key share file")
	startNodeCmd.Flags().StringVar(&nodeArg.KeySecretID, "key-secret-id", "", "read the key share from this AWS secret instead")
	startNodeCmd.Flags().StringVar(&nodeArg.Region, "region", "", "AWS region of the secret")
	startNodeCmd.Flags().StringVar(&nodeArg.PublicKeyPackage, "publickey-package", keystore.PublicKeyPackageFile, "public key package")
	startNodeCmd.Flags().StringVar(&nodeArg.Listen, "listen", "127.0.0.1:8891", "address to listen on")
}
