package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"britepool/pkg/config"
	"britepool/pkg/identity"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "participation-token",
		Short:         "Issue and inspect participation API bearer tokens",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", ".", "directory containing config.yaml")

	cmd.AddCommand(newIssueCmd(opts), newVerifyCmd(opts))
	return cmd
}

func (o *rootOptions) signer(ttl time.Duration) (*identity.Signer, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if ttl > 0 {
		cfg.Session.TTL = ttl
	}
	return identity.NewFromConfig(cfg)
}

func newIssueCmd(root *rootOptions) *cobra.Command {
	var (
		memberID string
		role     string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed token for a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case identity.RoleMember, identity.RoleSteward, identity.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			s, err := root.signer(ttl)
			if err != nil {
				return err
			}
			tok, err := s.Issue(identity.Actor{MemberID: memberID, Role: role})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&memberID, "member", "", "member id carried by the token")
	cmd.Flags().StringVar(&role, "role", identity.RoleMember, "member, steward or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to SESSION.TTL")
	_ = cmd.MarkFlagRequired("member")

	return cmd
}

func newVerifyCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [token]",
		Short: "Verify a token and print its member and role",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				raw = line
			}

			s, err := root.signer(0)
			if err != nil {
				return err
			}
			actor, err := s.Verify(strings.TrimSpace(raw))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "member=%s role=%s\n", actor.MemberID, actor.Role)
			return err
		},
	}
}
