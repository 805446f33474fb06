package main

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/journal"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/internal/storage"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// printHistory writes the most recent attempts, newest first
func printHistory(w io.Writer, cfg *config.StorageConfig, limit int) error {
	store, err := storage.NewStorage(cfg, nil)
	if err != nil {
		return err
	}
	if err := store.Connect(); err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return err
	}

	attempts, err := store.GetAttempts(context.Background(), models.AttemptFilter{Limit: limit})
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Started", "Trigger", "Status", "Tx", "Detail"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, a := range attempts {
		detail := a.Error
		if a.Succeeded() {
			detail = fmt.Sprintf("block %d, gas %d", a.BlockNumber, a.GasUsed)
		}
		table.Append([]string{
			journal.FormatTimestamp(a.StartedAt), string(a.Trigger), string(a.Status), utils.ShortHash(a.TxHash), detail,
		})
	}
	table.Render()
	return nil
}
