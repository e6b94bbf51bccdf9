package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qrave1/RoomMesh/internal/infra/adapters/roomapi"
)

var roomName string

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Manage rooms on the server",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print it as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}

		api := roomapi.New(cfg.ServerURL)

		if _, _, err = authenticate(cmd.Context(), api, cfg.Token); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}

		room, err := api.CreateRoom(cmd.Context(), roomName, cfg.Passcode)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(room)
	},
}

func init() {
	addClientFlags(roomCreateCmd)
	roomCreateCmd.Flags().StringVar(&roomName, "name", "", "room name")
	_ = roomCreateCmd.MarkFlagRequired("name")

	roomCmd.AddCommand(roomCreateCmd)
	rootCmd.AddCommand(roomCmd)
}
