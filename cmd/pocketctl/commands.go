package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/kislikjeka/pocketflow/internal/app"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/middleware"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator API token for a profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := middleware.NewJWTService(cfg.JWTSecret).GenerateToken(profile, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "operator", "token subject")
	cmd.Flags().Duration("ttl", middleware.DefaultTokenTTL, "token lifetime")
	return cmd
}

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider OAuth tokens",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store an OAuth token obtained out of band",
		Long: `Store the access and refresh token of an OAuth provider for a profile.
The poller refreshes the token from then on.

Example:
  pocketctl credentials set --profile personal --provider monzo \
    --access-token ... --refresh-token ... --expires-in 6h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			provider, _ := cmd.Flags().GetString("provider")
			access, _ := cmd.Flags().GetString("access-token")
			refresh, _ := cmd.Flags().GetString("refresh-token")
			expiresIn, _ := cmd.Flags().GetDuration("expires-in")
			if provider == "" || access == "" {
				return fmt.Errorf("--provider and --access-token are required")
			}

			tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}
			if expiresIn > 0 {
				tok.Expiry = time.Now().Add(expiresIn)
			}

			return withApp(cmd, func(a *app.App) error {
				if err := a.Credentials.Seed(cmd.Context(), provider, profile, tok); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s token for %s\n", provider, profile)
				return nil
			})
		},
	}
	set.Flags().String("provider", "", "provider name")
	set.Flags().String("access-token", "", "OAuth access token")
	set.Flags().String("refresh-token", "", "OAuth refresh token")
	set.Flags().Duration("expires-in", 0, "access token lifetime")

	cmd.AddCommand(set)
	return cmd
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show pockets, mappings, tracked accounts, unresolved refs and watermarks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app.App) error {
				out, err := a.Admin.InspectMappings(cmd.Context(), profile)
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
}

func pocketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pocket",
		Short: "Create pockets and map provider refs to them",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a pocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			pocketType, _ := cmd.Flags().GetString("type")
			ref, _ := cmd.Flags().GetString("ref")

			return withApp(cmd, func(a *app.App) error {
				p, err := a.Admin.CreatePocket(cmd.Context(), profile, name, pocket.Type(pocketType), ref)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}
	create.Flags().String("name", "", "pocket name")
	create.Flags().String("type", string(pocket.TypeSpending), "pocket type (spending, savings, bills, income)")
	create.Flags().String("ref", "", "provider account ref to map")

	list := &cobra.Command{
		Use:   "list",
		Short: "List pockets with balances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app.App) error {
				pockets, err := a.Pockets.List(cmd.Context(), profile)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTYPE\tBALANCE\tREF")
				for _, p := range pockets {
					ref := "-"
					if p.ExternalRef != nil {
						ref = *p.ExternalRef
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Type, p.Balance.StringFixed(2), ref)
				}
				return w.Flush()
			})
		},
	}

	mapRef := &cobra.Command{
		Use:   "map-ref",
		Short: "Point a provider account ref at a pocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			pocketID, err := pocketFlag(cmd)
			if err != nil {
				return err
			}
			ref, _ := cmd.Flags().GetString("ref")

			return withApp(cmd, func(a *app.App) error {
				p, err := a.Admin.MapExternalRef(cmd.Context(), profile, pocketID, ref)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}
	mapRef.Flags().String("pocket", "", "pocket ID")
	mapRef.Flags().String("ref", "", "provider account ref")

	mapPot := &cobra.Command{
		Use:   "map-pot",
		Short: "Route a provider pot to a pocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			pocketID, err := pocketFlag(cmd)
			if err != nil {
				return err
			}
			provider, _ := cmd.Flags().GetString("provider")
			pot, _ := cmd.Flags().GetString("pot")

			return withApp(cmd, func(a *app.App) error {
				m, err := a.Admin.MapPot(cmd.Context(), profile, provider, pot, pocketID)
				if err != nil {
					return err
				}
				return printJSON(cmd, m)
			})
		},
	}
	mapPot.Flags().String("pocket", "", "pocket ID")
	mapPot.Flags().String("provider", "", "provider name")
	mapPot.Flags().String("pot", "", "provider pot ref")

	cmd.AddCommand(create, list, mapRef, mapPot)
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Track a provider's accounts and create pockets for its pots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			provider, _ := cmd.Flags().GetString("provider")

			return withApp(cmd, func(a *app.App) error {
				report, err := a.Admin.SeedAccounts(cmd.Context(), profile, provider)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().String("provider", "", "provider name")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func webhooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Register the webhook endpoint for tracked accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			provider, _ := cmd.Flags().GetString("provider")

			return withApp(cmd, func(a *app.App) error {
				report, err := a.Admin.RegisterWebhooks(cmd.Context(), profile, provider)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().String("provider", "", "provider name")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-ingest a time window; committed transactions are reported as duplicates",
		Long: `Re-ingest [from, to) for every tracked account of the profile at the
provider. Replays never move poll watermarks.

Example:
  pocketctl replay --profile personal --provider monzo --from 2026-03-01 --to 2026-03-08`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			provider, _ := cmd.Flags().GetString("provider")
			from, err := timeFlag(cmd, "from")
			if err != nil {
				return err
			}
			to, err := timeFlag(cmd, "to")
			if err != nil {
				return err
			}

			return withApp(cmd, func(a *app.App) error {
				report, err := a.Admin.ReplayWindow(cmd.Context(), profile, provider, from, to)
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			})
		},
	}
	cmd.Flags().String("provider", "", "provider name")
	cmd.Flags().String("from", "", "window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().String("to", "", "window end, exclusive (RFC3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every pocket balance against the sum of its transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := requireProfile(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app.App) error {
				report, err := a.Admin.VerifyBalances(cmd.Context(), profile)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, report); err != nil {
					return err
				}
				if report.Mismatches > 0 {
					return fmt.Errorf("%d pocket balance(s) do not match their transactions", report.Mismatches)
				}
				return nil
			})
		},
	}
}

func pocketFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("pocket")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --pocket: %w", err)
	}
	return id, nil
}

func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: use RFC3339 or YYYY-MM-DD", name, raw)
	}
	return t, nil
}
