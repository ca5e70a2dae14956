package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/logging"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List configured channels",
	RunE:  runChannels,
}

func runChannels(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	store := config.NewStore(configDir, logging.For(logger, "config"))
	defer store.Close()

	channels := store.Channels()
	if len(channels) == 0 {
		fmt.Println("no channels configured")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tMODEL\tENABLED\tSTREAM\tTOOL MODE")
	for _, ch := range channels {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
			ch.ID, ch.Type, ch.Model, ch.Enabled, ch.PreferStream, ch.EffectiveToolMode())
	}
	return w.Flush()
}
