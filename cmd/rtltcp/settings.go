package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rjboer/GoRTLTCP/internal/config"
	"github.com/rjboer/GoRTLTCP/internal/logging"
)

func NewSettingsCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the stored client settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every setting with its index and value",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				settings, err := loadSettings(root)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, settings.Count())
				for _, s := range settings.All() {
					rows = append(rows, []string{strconv.Itoa(s.Index), s.Key, s.Value, s.Description})
				}
				renderTable(cmd.OutOrStdout(), []string{"Index", "Key", "Value", "Description"}, rows)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key|index>",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				settings, err := loadSettings(root)
				if err != nil {
					return err
				}
				idx, err := resolveSetting(settings, args[0])
				if err != nil {
					return err
				}
				s, err := settings.Get(idx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.Value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key|index> <value>",
			Short: "Change one setting and save it",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				settings, err := loadSettings(root)
				if err != nil {
					return err
				}
				idx, err := resolveSetting(settings, args[0])
				if err != nil {
					return err
				}
				if err := settings.Set(idx, args[1]); err != nil {
					return err
				}
				if err := root.store.Save(settings); err != nil {
					return err
				}
				s, _ := settings.Get(idx)
				root.logger.Info("setting saved", logging.F("key", s.Key), logging.F("value", s.Value))
				return nil
			},
		},
	)
	return cmd
}

func loadSettings(root *RootOptions) (*config.Settings, error) {
	settings := config.NewSettings(config.NewLive(), config.NewSession())
	if err := root.store.Load(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func resolveSetting(settings *config.Settings, ref string) (int, error) {
	if idx, ok := settings.Index(ref); ok {
		return idx, nil
	}
	idx, err := strconv.Atoi(ref)
	if err != nil || idx < 0 || idx >= settings.Count() {
		return 0, fmt.Errorf("unknown setting %q", ref)
	}
	return idx, nil
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}
