package main

import (
	"github.com/spf13/cobra"

	"github.com/Wikid82/ferryman/internal/models"
	"github.com/Wikid82/ferryman/internal/output"
)

// seedHosts are development fixtures. Each is created only when no host with
// the same domains exists yet.
var seedHosts = []models.ProxyHost{
	{
		DomainNames:           []string{"app.local.dev"},
		ForwardScheme:         "http",
		ForwardHost:           "localhost",
		ForwardPort:           3000,
		AllowWebsocketUpgrade: true,
		BlockExploits:         true,
		Enabled:               true,
	},
	{
		DomainNames:   []string{"api.local.dev"},
		ForwardScheme: "http",
		ForwardHost:   "192.168.1.100",
		ForwardPort:   8080,
		BlockExploits: true,
		Enabled:       true,
	},
	{
		DomainNames:   []string{"registry.local.dev"},
		ForwardScheme: "http",
		ForwardHost:   "localhost",
		ForwardPort:   5000,
		BlockExploits: true,
		Enabled:       false,
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create development proxy hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("ferryman-cli.log")
		if err != nil {
			return err
		}
		defer a.close()

		existing, err := a.hosts.List()
		if err != nil {
			return err
		}
		taken := map[string]bool{}
		for _, h := range existing {
			for _, d := range h.Domains() {
				taken[d] = true
			}
		}

		out := cmd.OutOrStdout()
		for _, fixture := range seedHosts {
			host := fixture
			host.DomainNames = append([]string(nil), fixture.DomainNames...)
			if taken[host.Domains()[0]] {
				output.Warn(out, "proxy host already exists: %s", host.Domains()[0])
				continue
			}
			if err := a.hosts.Create(&host); err != nil {
				output.Error(out, "failed to seed proxy host %s: %v", host.Domains()[0], err)
				continue
			}
			output.Success(out, "created proxy host: %s -> %s://%s:%d",
				host.Domains()[0], host.ForwardScheme, host.ForwardHost, host.ForwardPort)
		}
		return nil
	},
}
