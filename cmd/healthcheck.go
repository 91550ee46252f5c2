package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var flagHealthAddr string

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&flagHealthAddr, "listen-address", "[::1]:9543", "Address the mirror protocol listens on")
}

var healthCmd = &cobra.Command{
	Use:   "is-healthy",
	Short: "Exits 0 if the mirror's healthcheck endpoint responds OK",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/healthcheck", flagHealthAddr))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("healthcheck returned %d", resp.StatusCode)
		}
		return nil
	},
}
