package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/output"
)

var bootstrap bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rewrite every nginx config file from the database and reload once",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("ferryman-cli.log")
		if err != nil {
			return err
		}
		defer a.close()

		if bootstrap {
			if err := a.manager.RecoverInterrupted(); err != nil {
				return err
			}
			err = a.sync.Bootstrap(cmd.Context())
		} else {
			err = a.sync.Sync(cmd.Context())
		}
		if err != nil {
			output.Error(cmd.ErrOrStderr(), "sync failed: %v", err)
			return err
		}
		output.Success(cmd.OutOrStdout(), "configuration applied")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Renew every certificate inside the renewal window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("ferryman-cli.log")
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.manager.SweepExpiring(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), res)
		}
		output.Success(cmd.OutOrStdout(), "%d candidates, %d renewed", res.Candidates, res.Renewed)
		if res.Failed > 0 {
			output.Warn(cmd.OutOrStdout(), "%d renewals failed, they will be retried", res.Failed)
		}
		return nil
	},
}

var renewCmd = &cobra.Command{
	Use:   "renew <certificate-id>",
	Short: "Renew one certificate now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid certificate id %q", args[0])
		}
		a, err := loadApp("ferryman-cli.log")
		if err != nil {
			return err
		}
		defer a.close()

		cert, err := a.certs.GetByID(uint(id))
		if err != nil {
			return err
		}
		if err := a.manager.RenewOne(cmd.Context(), cert); err != nil {
			output.Error(cmd.ErrOrStderr(), "renewal failed: %v", err)
			return err
		}
		output.Success(cmd.OutOrStdout(), "certificate #%d valid until %s", cert.ID, cert.ExpiresOn.Format(time.RFC3339))
		return nil
	},
}

var issueEmail string

var issueCmd = &cobra.Command{
	Use:   "issue <domain>...",
	Short: "Issue a Let's Encrypt certificate and attach it to matching hosts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("ferryman-cli.log")
		if err != nil {
			return err
		}
		defer a.close()

		email := issueEmail
		if email == "" {
			email = a.cfg.ACME.Email
		}
		if email == "" {
			return fmt.Errorf("an account email is required (--email or LETSENCRYPT_EMAIL)")
		}

		cert := models.NewLetsEncryptCertificate(args, time.Now())
		if err := a.manager.Issue(cmd.Context(), cert, email); err != nil {
			output.Error(cmd.ErrOrStderr(), "issuance failed: %v", err)
			return err
		}
		output.Success(cmd.OutOrStdout(), "certificate #%d issued for %s, valid until %s",
			cert.ID, cert.NiceName, cert.ExpiresOn.Format(time.RFC3339))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "certificates",
	Short: "List certificates and their lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("ferryman-cli.log")
		if err != nil {
			return err
		}
		defer a.close()

		certs, err := a.certs.List()
		if err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), certs)
		}
		now := time.Now()
		rows := make([][]string, 0, len(certs))
		for i := range certs {
			c := &certs[i]
			rows = append(rows, []string{
				strconv.FormatUint(uint64(c.ID), 10),
				c.Provider,
				strings.Join(c.Domains(), ","),
				c.ExpiresOn.Format("2006-01-02"),
				a.manager.Status(c, now),
			})
		}
		output.Table(cmd.OutOrStdout(), []string{"ID", "PROVIDER", "DOMAINS", "EXPIRES", "STATUS"}, rows)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "Also write default servers and the fallback certificate")
	issueCmd.Flags().StringVar(&issueEmail, "email", "", "ACME account email")
}
