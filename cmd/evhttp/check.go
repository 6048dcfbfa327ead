package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newacorn/evhttp/evhttpconf"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := evhttpconf.Load(ConfigPath)
		if err != nil {
			return err
		}
		locations := 0
		for _, sb := range cfg.Servers {
			locations += len(sb.Locations)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d servers, %d locations, listen %v)\n",
			ConfigPath, len(cfg.Servers), locations, cfg.Endpoints())
		return nil
	},
}

func init() {
	RootCmd.AddCommand(checkCmd)
}
