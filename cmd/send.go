package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/codedrop/internal/files"
	"github.com/BioHazard786/codedrop/internal/room"
	"github.com/BioHazard786/codedrop/internal/session"
	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/BioHazard786/codedrop/internal/ui"
	"github.com/spf13/cobra"
)

// closeGrace is how long the sender waits for the receiver to hang up
// after the last message.
const closeGrace = 5 * time.Second

var sendFlags connFlags

var sendCmd = &cobra.Command{
	Use:     "send <files...>",
	Aliases: []string{"s"},
	Short:   "Send files to a receiver",
	Long: `Send files directly to a receiver. A room code is printed; the receiver
joins with "codedrop receive <code>".

Examples:
  codedrop send report.pdf photo.jpg
  codedrop send --relay wss://relay.example.com/ws notes.txt
  codedrop send --turn turn.example.com --force-relay big.iso`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFiles(cmd.Context(), args)
	},
}

func sendFiles(ctx context.Context, paths []string) error {
	cfg, err := sendFlags.load()
	if err != nil {
		return err
	}

	stopSpinner := ui.RunSpinner("Validating files...")
	infos, err := files.ValidateFiles(paths, files.Limits{MaxFiles: cfg.MaxFiles, MaxFileSize: cfg.MaxFileSize})
	stopSpinner()
	if err != nil {
		return err
	}
	displayFileTable(infos)

	rc, err := dialRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer rc.Close()

	sources := files.Sources(infos)
	return runSessions(ctx, cfg, rc, room.Initiator, "", sendFlags.retries,
		func(ctx context.Context, s *session.Session, ch *transfer.DataChannel, quit func()) error {
			return sendBatch(ctx, ch, sources, quit)
		})
}

func sendBatch(ctx context.Context, ch *transfer.DataChannel, sources []transfer.Source, quit func()) error {
	fmt.Println()
	prog := ui.NewProgress(ui.ModeSend, quit)
	prog.Start(ctx)

	totals, err := transfer.NewSender(ch, logger, prog.Observe).SendBatch(ctx, sources)
	if err == nil {
		err = ch.Flush(ctx)
	}
	prog.Stop()
	if err != nil {
		return err
	}

	select {
	case <-ch.Closed():
	case <-time.After(closeGrace):
	case <-ctx.Done():
	}

	fmt.Println()
	ui.RenderSummary(os.Stdout, ui.Summary{
		Title:   "Transfer Summary",
		Files:   totals.Files,
		Elapsed: totals.Elapsed,
	})
	ui.PrintSuccessf("Sent %d file(s)", len(totals.Files))
	return nil
}

func displayFileTable(infos []files.FileInfo) {
	items := make([]ui.FileTableItem, len(infos))
	for i, f := range infos {
		items[i] = ui.FileTableItem{Index: i + 1, Name: f.Name, Size: f.Size, Type: f.Type}
	}
	fmt.Println()
	ui.RenderFileTable(items)
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendFlags.register(sendCmd)
}
