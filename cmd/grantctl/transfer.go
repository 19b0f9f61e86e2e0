package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bitfsorg/libgrant-go/access"
	"github.com/bitfsorg/libgrant-go/transfer"
)

var (
	flagAccount uint32
	flagPublic  bool
	flagGrants  []string
	flagType    string
	flagName    string
	flagOutput  string
	flagExpires string
	flagAsAddr  string
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Encrypt, store and register a file",
	Long: `Upload frames FILE with its name and media type, encrypts it for the
configured key servers, stores the blob and creates a capability granting
each --grant address access. Grants take the form ADDR, ADDR=never,
ADDR=DURATION (for example 2h) or ADDR=RFC3339-TIME. A bare ADDR uses the
default grant TTL.`,
	Example: `grantctl upload report.pdf --grant 0xb0b --grant 0xca401=never
grantctl upload notes.txt --public`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		now := time.Now()
		grants := make([]transfer.GrantRequest, 0, len(flagGrants))
		for _, g := range flagGrants {
			req, err := parseGrant(g, now)
			if err != nil {
				return err
			}
			grants = append(grants, req)
		}
		name := flagName
		if name == "" {
			name = filepath.Base(args[0])
		}

		warnDegraded(cmd)
		u, err := env.uploader()
		if err != nil {
			return err
		}
		signer, err := env.actor(flagAccount)
		if err != nil {
			return err
		}
		res, err := u.Upload(cmd.Context(), signer, transfer.UploadRequest{
			Name:     name,
			Type:     flagType,
			Data:     data,
			IsPublic: flagPublic,
			Grants:   grants,
		}, func(p int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\r[%3d%%] uploading %s", p, name)
		})
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "capability: %s\n", res.CapabilityID)
		fmt.Fprintf(out, "blob:       %s\n", res.BlobReference)
		fmt.Fprintf(out, "type:       %s\n", res.Header.Type)
		fmt.Fprintf(out, "digest:     %s\n", res.Digest)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download CAPABILITY",
	Short: "Fetch, decrypt and save a file you have access to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		warnDegraded(cmd)
		d, err := env.downloader()
		if err != nil {
			return err
		}
		signer, err := env.actor(flagAccount)
		if err != nil {
			return err
		}
		f, err := d.Download(cmd.Context(), args[0], signer)
		if err != nil {
			return err
		}
		path, err := f.Save(flagOutput)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s, %d bytes)\n", path, f.Type, f.Size)
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant CAPABILITY ADDRESS",
	Short: "Grant an address access to a capability you own",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := args[1]
		if flagExpires != "" {
			raw += "=" + flagExpires
		}
		req, err := parseGrant(raw, time.Now())
		if err != nil {
			return err
		}
		g, err := env.grants()
		if err != nil {
			return err
		}
		signer, err := env.actor(flagAccount)
		if err != nil {
			return err
		}
		fx, err := g.Grant(cmd.Context(), signer, args[0], req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "granted %s (tx %s)\n", req.Address, fx.Digest)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke CAPABILITY ADDRESS",
	Short: "Remove an address's access to a capability you own",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := env.grants()
		if err != nil {
			return err
		}
		signer, err := env.actor(flagAccount)
		if err != nil {
			return err
		}
		fx, err := g.Revoke(cmd.Context(), signer, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s (tx %s)\n", args[1], fx.Digest)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check CAPABILITY",
	Short: "Show a capability and whether an address may download it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := env.ledger()
		if err != nil {
			return err
		}
		b, err := env.txBuilder()
		if err != nil {
			return err
		}
		c, err := svc.GetCapability(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		addr := flagAsAddr
		if addr == "" {
			a, err := env.actor(flagAccount)
			if err != nil {
				return err
			}
			addr = a.Address()
		}
		ok, err := access.NewEvaluator(svc, b, env.logger).Evaluate(cmd.Context(), c.ID, addr)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "capability: %s (version %d)\n", c.ID, c.Version)
		fmt.Fprintf(out, "owner:      %s\n", c.Owner)
		fmt.Fprintf(out, "blob:       %s\n", c.BlobReference)
		fmt.Fprintf(out, "public:     %t\n", c.IsPublic)
		for a, exp := range c.Grants {
			fmt.Fprintf(out, "grant:      %s until %s\n", a, formatExpiry(exp))
		}
		verdict := "denied"
		if ok {
			verdict = "allowed"
		}
		fmt.Fprintf(out, "%s: %s\n", addr, verdict)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{uploadCmd, downloadCmd, grantCmd, revokeCmd, checkCmd} {
		c.Flags().Uint32Var(&flagAccount, "account", 0, "Wallet account index")
	}
	uploadCmd.Flags().BoolVar(&flagPublic, "public", false, "Let anyone download the file")
	uploadCmd.Flags().StringArrayVar(&flagGrants, "grant", nil, "Grant access: ADDR[=never|DURATION|RFC3339]")
	uploadCmd.Flags().StringVar(&flagType, "type", "", "Media type (detected from the name by default)")
	uploadCmd.Flags().StringVar(&flagName, "name", "", "Stored file name (default the base name of FILE)")
	downloadCmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "Directory to save into")
	grantCmd.Flags().StringVar(&flagExpires, "expires", "", "never, a duration such as 2h, or an RFC3339 time")
	checkCmd.Flags().StringVar(&flagAsAddr, "address", "", "Address to check (default your wallet address)")
}

func warnDegraded(cmd *cobra.Command) {
	if mode := env.cfg.Transfer.Mode(); mode.Degraded() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", mode.Describe())
	}
}

// parseGrant parses ADDR, ADDR=never, ADDR=DURATION or ADDR=RFC3339.
func parseGrant(s string, now time.Time) (transfer.GrantRequest, error) {
	addr, when, hasExpiry := strings.Cut(s, "=")
	req := transfer.GrantRequest{Address: strings.TrimSpace(addr)}
	if req.Address == "" {
		return req, fmt.Errorf("%w: empty address in %q", transfer.ErrInvalidGrant, s)
	}
	if !hasExpiry {
		return req, nil
	}
	when = strings.TrimSpace(when)
	if strings.EqualFold(when, "never") {
		req.Never = true
		return req, nil
	}
	if d, err := time.ParseDuration(when); err == nil {
		if d <= 0 {
			return req, fmt.Errorf("%w: non-positive duration %q", transfer.ErrInvalidGrant, when)
		}
		req.ExpiresAt = now.Add(d)
		return req, nil
	}
	t, err := time.Parse(time.RFC3339, when)
	if err != nil {
		return req, fmt.Errorf("%w: expiry %q is not never, a duration or an RFC3339 time", transfer.ErrInvalidGrant, when)
	}
	req.ExpiresAt = t
	return req, nil
}

func formatExpiry(ms uint64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339)
}
