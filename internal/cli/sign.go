package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/hookd/internal/secrets"
	"github.com/watzon/hookd/internal/signature"
)

type signOptions struct {
	secret      string
	source      string
	timestamp   string
	noTimestamp bool
	body        string
	bodyFile    string
	headers     bool
}

func newSignCmd(root *rootOptions) *cobra.Command {
	opts := &signOptions{}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute the signature for a webhook body",
		Long: `Compute the signature a sender must attach to a webhook body.

The secret is taken from --secret, or looked up for --source in the
configured secrets. The timestamp defaults to the current Unix time.

Examples:
  hookd sign --secret whsec_test --body '{"eventKey":"evt_1","payload":{}}'
  hookd sign --source stripe --body-file event.json --headers`,
		Annotations: map[string]string{configOptional: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, root)
		},
	}

	cmd.Flags().StringVar(&opts.secret, "secret", "", "shared secret")
	cmd.Flags().StringVar(&opts.source, "source", "", "look up the secret for this source")
	cmd.Flags().StringVar(&opts.timestamp, "timestamp", "", "Unix timestamp to sign (default now)")
	cmd.Flags().BoolVar(&opts.noTimestamp, "no-timestamp", false, "sign the body alone")
	cmd.Flags().StringVar(&opts.body, "body", "", "request body")
	cmd.Flags().StringVar(&opts.bodyFile, "body-file", "", "read the request body from a file, or - for stdin")
	cmd.Flags().BoolVar(&opts.headers, "headers", false, "print the signature and timestamp as HTTP headers")
	cmd.MarkFlagsMutuallyExclusive("secret", "source")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
	cmd.MarkFlagsMutuallyExclusive("timestamp", "no-timestamp")

	return cmd
}

func (o *signOptions) run(cmd *cobra.Command, root *rootOptions) error {
	secret, err := o.resolveSecret(root)
	if err != nil {
		return err
	}

	body, err := o.readBody(cmd.InOrStdin())
	if err != nil {
		return err
	}

	ts := o.timestamp
	switch {
	case o.noTimestamp:
		ts = ""
	case ts == "":
		ts = strconv.FormatInt(time.Now().Unix(), 10)
	default:
		if _, err := signature.ParseTimestamp(ts); err != nil {
			return fmt.Errorf("invalid --timestamp %q", ts)
		}
	}

	sig, err := signature.Sign(secret, signature.CanonicalMessage(ts, body))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !o.headers {
		fmt.Fprintln(out, signature.Prefix+sig)
		return nil
	}

	hooks := root.cfg.Webhooks
	fmt.Fprintf(out, "%s: %s%s\n", hooks.SignatureHeader, signature.Prefix, sig)
	if ts != "" {
		fmt.Fprintf(out, "%s: %s\n", hooks.TimestampHeader, ts)
	}
	return nil
}

func (o *signOptions) resolveSecret(root *rootOptions) (string, error) {
	if o.secret != "" {
		return o.secret, nil
	}
	if o.source == "" {
		return "", errors.New("one of --secret or --source is required")
	}

	hooks := root.cfg.Webhooks
	chain := secrets.Chain{secrets.NewStatic(hooks.Secrets)}
	if hooks.SecretsFile != "" {
		f, err := secrets.NewFile(hooks.SecretsFile)
		if err != nil {
			return "", err
		}
		chain = append(chain, f)
	}

	secret, err := chain.SecretFor(o.source)
	if err != nil {
		return "", fmt.Errorf("source %q: %w", o.source, err)
	}
	return secret, nil
}

func (o *signOptions) readBody(stdin io.Reader) ([]byte, error) {
	switch o.bodyFile {
	case "":
		return []byte(o.body), nil
	case "-":
		return io.ReadAll(stdin)
	default:
		b, err := os.ReadFile(o.bodyFile)
		if err != nil {
			return nil, fmt.Errorf("reading body file: %w", err)
		}
		return b, nil
	}
}
