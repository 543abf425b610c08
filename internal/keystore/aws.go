package keystore

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/protocols/frost/keygen"
)

// SecretsAPI is the part of the Secrets Manager client we use.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewSecretsClient returns a Secrets Manager client using the default
// credential chain.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	c, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, api.Wrap(api.ErrConfiguration, err)
	}
	return secretsmanager.NewFromConfig(c), nil
}

// ReadShareFromSecret loads a key share stored in Secrets Manager, either as a
// binary secret or as a base64 string, in the same format as a share file.
func ReadShareFromSecret(ctx context.Context, client SecretsAPI, secretID string, passphrase []byte) (*keygen.Config, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return nil, api.Wrap(api.ErrConfiguration, fmt.Errorf("secret %s: %w", secretID, err))
	}
	data := out.SecretBinary
	if len(data) == 0 {
		if out.SecretString == nil {
			return nil, api.Errorf(api.ErrConfiguration, "secret %s is empty", secretID)
		}
		if data, err = base64.StdEncoding.DecodeString(*out.SecretString); err != nil {
			return nil, api.Wrap(api.ErrConfiguration, fmt.Errorf("secret %s: %w", secretID, err))
		}
	}
	return DecodeShare(data, passphrase)
}
