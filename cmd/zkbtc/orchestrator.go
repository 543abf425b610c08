package main

import (
	"net/http"

	"github.com/spf13/cobra"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/committee/orchestrator"
	"github.com/zkbitcoin/committee/internal/config"
	"github.com/zkbitcoin/committee/internal/keystore"
	"github.com/zkbitcoin/committee/internal/metrics"
	"github.com/zkbitcoin/committee/internal/txn"
	"github.com/zkbitcoin/committee/internal/verifier"
	"go.uber.org/zap"
)

var orchestratorArg struct {
	PublicKeyPackage string
	Committee        string
	Listen           string
	Redis            string
	Deployments      string
}

var startOrchestratorCmd = &cobra.Command{
	Use:   "start-orchestrator",
	Short: "run the orchestrator, which serves Bob's requests",
	Args:  NoExtraArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		public, err := keystore.ReadPublic(orchestratorArg.PublicKeyPackage)
		if err != nil {
			return err
		}
		committee, err := config.LoadCommittee(orchestratorArg.Committee)
		if err != nil {
			return err
		}
		if committee.Threshold != public.Threshold {
			return api.Errorf(api.ErrConfiguration, "committee threshold %d, key threshold %d", committee.Threshold, public.Threshold)
		}
		params, err := txn.Params(settings.Network)
		if err != nil {
			return err
		}
		registry, closeRegistry, err := openRegistry()
		if err != nil {
			return err
		}
		defer closeRegistry()

		client := &http.Client{}
		members := make([]orchestrator.Member, 0, len(committee.Members))
		for _, id := range committee.IDs() {
			members = append(members, api.NewMemberClient(id, committee.Members[id].Address, client))
		}

		cfg := orchestrator.Config{
			RoundTimeout: settings.Orchestrator.RoundTimeout,
			Params:       params,
			MaxFee:       settings.Orchestrator.MaxFee,
		}
		s, err := orchestrator.New(cfg, public, members, registry, verifier.NewGroth16(), logger, metrics.New())
		if err != nil {
			return err
		}
		logger.Info("orchestrator ready",
			zap.Int("threshold", public.Threshold),
			zap.Int("members", len(members)),
			zap.String("network", params.Name),
			zap.Stringer("group key", public.PublicKey))
		return serve(settings.Listen, s.Handler(settings.Orchestrator.RateLimit))
	},
}

func init() {
	rootCmd.AddCommand(startOrchestratorCmd)
	startOrchestratorCmd.Flags().StringVar(&orchestratorArg.PublicKeyPackage, "publickey-package", keystore.PublicKeyPackageFile, "public key package")
	startOrchestratorCmd.Flags().StringVar(&orchestratorArg.Committee, "committee-cfg", config.CommitteeFile, "committee description")
	startOrchestratorCmd.Flags().StringVar(&orchestratorArg.Listen, "listen", "127.0.0.1:8890", "address to listen on")
	startOrchestratorCmd.Flags().StringVar(&orchestratorArg.Redis, "redis", "", "redis address of the deployment registry")
	startOrchestratorCmd.Flags().StringVar(&orchestratorArg.Deployments, "deployments", "deployments.json", "deployment registry file, when redis is not set")
}
