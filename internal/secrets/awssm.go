package secrets

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// secretsManagerAPI is the slice of the Secrets Manager client this
// resolver uses. Tests substitute a fake.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerResolver resolves aws-sm:// references from AWS Secrets
// Manager through the SDK, using the default credential chain.
type SecretsManagerResolver struct {
	// newClient builds a client for the given region ("" means the
	// chain's default region).
	newClient func(ctx context.Context, region string) (secretsManagerAPI, error)
}

// NewSecretsManagerResolver returns a resolver backed by the real SDK.
func NewSecretsManagerResolver() *SecretsManagerResolver {
	return &SecretsManagerResolver{newClient: newSecretsManagerClient}
}

func newSecretsManagerClient(ctx context.Context, region string) (secretsManagerAPI, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &BackendError{
			Backend: "AWS Secrets Manager",
			Reason:  "loading AWS config: " + err.Error(),
			Fix:     "Configure credentials:\n  aws configure\n  Or set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY\n  Or run: aws sso login",
		}
	}
	return secretsmanager.NewFromConfig(awsCfg), nil
}

// Scheme returns "aws-sm".
func (r *SecretsManagerResolver) Scheme() string {
	return "aws-sm"
}

// Resolve fetches a secret value.
// aws-sm:///my/secret-name -> default region, name "my/secret-name"
// aws-sm://us-west-2/api-key -> region us-west-2, name "api-key"
// Full secret ARNs work as the name.
func (r *SecretsManagerResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	region, name, err := parseSecretsManagerReference(reference)
	if err != nil {
		return "", err
	}

	client, err := r.newClient(ctx, region)
	if err != nil {
		return "", err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", r.classifyError(err, reference, name)
	}

	if out.SecretString != nil {
		return *out.SecretString, nil
	}
	if out.SecretBinary != nil {
		return string(out.SecretBinary), nil
	}
	return "", &BackendError{
		Backend:   "AWS Secrets Manager",
		Reference: reference,
		Reason:    "secret has no string or binary value",
	}
}

// parseSecretsManagerReference extracts region and secret name. The
// host segment is the region; the path, minus its leading slash, is the
// secret name and may itself contain slashes.
func parseSecretsManagerReference(ref string) (region, name string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", &InvalidReferenceError{
			Reference: ref,
			Reason:    "invalid URI",
		}
	}

	if u.Scheme != "aws-sm" {
		return "", "", &InvalidReferenceError{
			Reference: ref,
			Reason:    "expected aws-sm:// scheme",
		}
	}

	region = u.Host
	name = strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "", "", &InvalidReferenceError{
			Reference: ref,
			Reason:    "secret name is required",
		}
	}

	return region, name, nil
}

// classifyError maps SDK failures to typed errors.
func (r *SecretsManagerResolver) classifyError(err error, reference, name string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &NotFoundError{
			Reference: reference,
			Backend:   "AWS Secrets Manager",
		}
	}

	msg := err.Error()

	if strings.Contains(msg, "AccessDeniedException") {
		return &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "access denied",
			Fix:       "Check IAM permissions for secretsmanager:GetSecretValue on " + name,
		}
	}

	if strings.Contains(msg, "ExpiredToken") {
		return &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "AWS credentials expired",
			Fix:       "Run: aws sso login\nOr refresh your credentials.",
		}
	}

	if strings.Contains(msg, "failed to retrieve credentials") || strings.Contains(msg, "no EC2 IMDS role found") {
		return &BackendError{
			Backend:   "AWS Secrets Manager",
			Reference: reference,
			Reason:    "no AWS credentials found",
			Fix:       "Configure credentials:\n  aws configure\n  Or set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY\n  Or run: aws sso login",
		}
	}

	return &BackendError{
		Backend:   "AWS Secrets Manager",
		Reference: reference,
		Reason:    strings.TrimSpace(msg),
	}
}

func init() {
	Register(NewSecretsManagerResolver())
}
