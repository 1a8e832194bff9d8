package secrets

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// SSMResolver resolves ssm:// references from AWS Systems Manager
// Parameter Store. It shells out to the aws CLI rather than the SDK so
// that whatever profile or SSO session the developer already has is
// picked up without extra configuration.
type SSMResolver struct{}

func (r *SSMResolver) Scheme() string {
	return "ssm"
}

// awsFailure pairs a stderr needle from the aws CLI with the advice we
// give when it appears. Checked in order; first hit wins.
type awsFailure struct {
	needle string
	reason string
	fix    string
}

var awsFailures = []awsFailure{
	{
		needle: "AccessDeniedException",
		reason: "access denied",
		fix:    "Your IAM permissions do not allow ssm:GetParameter on %s.",
	},
	{
		needle: "ExpiredToken",
		reason: "AWS credentials expired",
		fix:    "Refresh them, e.g. with: aws sso login",
	},
	{
		needle: "Unable to locate credentials",
		reason: "no AWS credentials found",
		fix:    "Set one up first: aws configure, aws sso login, or export AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY.",
	},
	{
		needle: "Could not connect to the endpoint URL",
		reason: "could not connect to the AWS endpoint",
		fix:    "The region in the reference may be wrong, or there is no network path to AWS.",
	},
}

func (r *SSMResolver) Resolve(ctx context.Context, reference string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return "", &BackendError{
			Backend: "AWS SSM",
			Reason:  "aws CLI not found in PATH",
			Fix:     "Install from https://aws.amazon.com/cli/",
		}
	}

	region, paramPath, err := parseSSMReference(reference)
	if err != nil {
		return "", err
	}

	args := []string{
		"ssm", "get-parameter",
		"--name", paramPath,
		"--with-decryption",
		"--query", "Parameter.Value",
		"--output", "text",
	}
	if region != "" {
		args = append(args, "--region", region)
	}

	cmd := exec.CommandContext(ctx, "aws", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", r.parseAWSError(stderr.Bytes(), reference, paramPath)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// parseSSMReference splits a reference into region and parameter path.
// The authority part is the region and may be empty:
//
//	ssm:///prod/db/url          -> ("", "/prod/db/url")
//	ssm://us-west-2/prod/db/url -> ("us-west-2", "/prod/db/url")
func parseSSMReference(ref string) (region, path string, err error) {
	rest, ok := strings.CutPrefix(ref, "ssm://")
	if !ok {
		return "", "", &InvalidReferenceError{
			Reference: ref,
			Reason:    "expected ssm:// scheme",
		}
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "", "", &InvalidReferenceError{
			Reference: ref,
			Reason:    "parameter path must start with /",
		}
	}
	return rest[:slash], rest[slash:], nil
}

func (r *SSMResolver) parseAWSError(stderr []byte, reference, paramPath string) error {
	msg := string(stderr)

	if strings.Contains(msg, "ParameterNotFound") {
		return &NotFoundError{
			Reference: reference,
			Backend:   "AWS SSM",
		}
	}
	for _, f := range awsFailures {
		if strings.Contains(msg, f.needle) {
			return &BackendError{
				Backend:   "AWS SSM",
				Reference: reference,
				Reason:    f.reason,
				Fix:       strings.ReplaceAll(f.fix, "%s", paramPath),
			}
		}
	}
	return &BackendError{
		Backend:   "AWS SSM",
		Reference: reference,
		Reason:    strings.TrimSpace(msg),
	}
}

func init() {
	Register(&SSMResolver{})
}
