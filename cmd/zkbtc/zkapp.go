package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/binder"
	"github.com/zkbitcoin/committee/internal/deployment"
	"github.com/zkbitcoin/committee/internal/keystore"
	"github.com/zkbitcoin/committee/internal/txn"
	"github.com/zkbitcoin/committee/internal/verifier"
	"go.uber.org/zap"
)

var useArg struct {
	Orchestrator string
	TxID         string
	Vout         uint32
	Recipient    string
	ProofPath    string
	VKPath       string
	ProofInputs  string
	TemplatePath string
	Timeout      time.Duration
}

var useCmd = &cobra.Command{
	Use:   "use-zkapp",
	Short: "ask the committee to unlock a zkapp",
	Long: `Builds a request from a proof and a transaction template, sends it to the
orchestrator and prints the signed transaction. The transaction is not broadcast.

--proof-inputs is a JSON list of field elements, in circuit order, given as
decimal strings or integers.`,
	Args: NoExtraArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		proof, err := os.ReadFile(useArg.ProofPath)
		if err != nil {
			return err
		}
		vk, err := os.ReadFile(useArg.VKPath)
		if err != nil {
			return err
		}
		inputs, err := parseProofInputs(useArg.ProofInputs)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(useArg.TemplatePath)
		if err != nil {
			return err
		}
		req := &api.UseRequest{
			TxID:         useArg.TxID,
			Vout:         useArg.Vout,
			Recipient:    useArg.Recipient,
			Proof:        proof,
			VerifyingKey: vk,
			PublicInputs: inputs,
		}
		if err = json.Unmarshal(data, &req.Template); err != nil {
			return api.Wrap(api.ErrInvalidRequest, fmt.Errorf("template: %w", err))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), useArg.Timeout)
		defer cancel()
		resp, err := api.NewOrchestratorClient(useArg.Orchestrator, &http.Client{}).Use(ctx, req)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// parseProofInputs reads a JSON list of field elements, given as decimal
// strings or as integers.
func parseProofInputs(s string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, api.Wrap(api.ErrInvalidRequest, fmt.Errorf("proof inputs: %w", err))
	}
	inputs := make([]string, len(raw))
	for i, v := range raw {
		str, err := cast.ToStringE(v)
		if err != nil {
			return nil, api.Wrap(api.ErrInvalidRequest, fmt.Errorf("proof input %d: %w", i, err))
		}
		if _, err = binder.ParseElement(str); err != nil {
			return nil, api.Wrap(api.ErrInvalidRequest, fmt.Errorf("proof input %d: %w", i, err))
		}
		inputs[i] = str
	}
	return inputs, nil
}

var hashVKArg struct {
	VKPath string
}

var hashVKCmd = &cobra.Command{
	Use:   "hash-vk",
	Short: "print the hash of a verifying key, as recorded by a deployment",
	Args:  NoExtraArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		vk, err := os.ReadFile(hashVKArg.VKPath)
		if err != nil {
			return err
		}
		h := verifier.HashVerifyingKey(vk)
		fmt.Println(hex.EncodeToString(h[:]))
		return nil
	},
}

var registerArg struct {
	TxHex            string
	Vout             uint32
	VKPath           string
	PublicKeyPackage string
	Redis            string
	Deployments      string
}

var registerCmd = &cobra.Command{
	Use:   "register-zkapp",
	Short: "record a confirmed deployment transaction in the registry",
	Args:  NoExtraArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		public, err := keystore.ReadPublic(registerArg.PublicKeyPackage)
		if err != nil {
			return err
		}
		tx, err := txn.Decode(registerArg.TxHex)
		if err != nil {
			return api.Wrap(api.ErrInvalidRequest, err)
		}
		d, err := deployment.FromTransaction(tx, registerArg.Vout, public.PublicKey)
		if err != nil {
			return api.Wrap(api.ErrInvalidRequest, err)
		}

		vk, err := os.ReadFile(registerArg.VKPath)
		if err != nil {
			return err
		}
		if verifier.HashVerifyingKey(vk) != d.VKHash {
			return api.Errorf(api.ErrInvalidRequest, "verifying key does not match the deployment record")
		}
		nbPublic, err := verifier.NewGroth16().NbPublicInputs(vk)
		if err != nil {
			return api.Wrap(api.ErrInvalidRequest, err)
		}
		if err = d.CheckVerifyingKey(nbPublic); err != nil {
			return api.Wrap(api.ErrInvalidRequest, err)
		}

		registry, closeRegistry, err := openRegistry()
		if err != nil {
			return err
		}
		if err = registry.Put(cmd.Context(), d); err != nil {
			_ = closeRegistry()
			return err
		}
		if err = closeRegistry(); err != nil {
			return err
		}
		logger.Info("zkapp registered",
			zap.Stringer("txid", d.TxID),
			zap.Uint32("vout", d.Vout),
			zap.Stringer("kind", d.Kind()),
			zap.Int64("amount", d.Amount))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(useCmd)
	useCmd.Flags().StringVar(&useArg.Orchestrator, "orchestrator-address", "http://127.0.0.1:8890", "orchestrator URL")
	useCmd.Flags().StringVar(&useArg.TxID, "txid", "", "deployment transaction id")
	useCmd.Flags().Uint32Var(&useArg.Vout, "vout", 0, "deployment output")
	useCmd.Flags().StringVar(&useArg.Recipient, "recipient", "", "address receiving the funds")
	useCmd.Flags().StringVar(&useArg.ProofPath, "proof-path", "proof.bin", "serialized proof")
	useCmd.Flags().StringVar(&useArg.VKPath, "verifier-key-path", "vk.bin", "serialized verifying key")
	useCmd.Flags().StringVar(&useArg.ProofInputs, "proof-inputs", "[]", "public inputs, as a JSON list of decimal strings")
	useCmd.Flags().StringVar(&useArg.TemplatePath, "template-path", "template.json", "unsigned transaction template")
	useCmd.Flags().DurationVar(&useArg.Timeout, "timeout", time.Minute, "request timeout")
	_ = useCmd.MarkFlagRequired("txid")
	_ = useCmd.MarkFlagRequired("recipient")

	rootCmd.AddCommand(hashVKCmd)
	hashVKCmd.Flags().StringVar(&hashVKArg.VKPath, "verifier-key-path", "vk.bin", "serialized verifying key")

	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().StringVar(&registerArg.TxHex, "tx-hex", "", "raw deployment transaction")
	registerCmd.Flags().Uint32Var(&registerArg.Vout, "vout", 0, "output locking the funds")
	registerCmd.Flags().StringVar(&registerArg.VKPath, "verifier-key-path", "vk.bin", "serialized verifying key")
	registerCmd.Flags().StringVar(&registerArg.PublicKeyPackage, "publickey-package", keystore.PublicKeyPackageFile, "public key package")
	registerCmd.Flags().StringVar(&registerArg.Redis, "redis", "", "redis address of the deployment registry")
	registerCmd.Flags().StringVar(&registerArg.Deployments, "deployments", "deployments.json", "deployment registry file, when redis is not set")
	_ = registerCmd.MarkFlagRequired("tx-hex")
}
