package cli

import (
	"github.com/spf13/cobra"

	"github.com/beam-cloud/synopsis/pkg/gateway"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the gateway",
	Long:  `Run the HTTP gateway and the background queue until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := gateway.NewGateway()
		if err != nil {
			return err
		}
		return gw.Start()
	},
}
