package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BioHazard786/codedrop/internal/room"
	"github.com/BioHazard786/codedrop/internal/session"
	"github.com/BioHazard786/codedrop/internal/transfer"
	"github.com/BioHazard786/codedrop/internal/ui"
	"github.com/spf13/cobra"
)

var (
	receiveFlags connFlags
	flagZip      bool
	flagDir      string
)

var receiveCmd = &cobra.Command{
	Use:     "receive <code>",
	Aliases: []string{"r"},
	Short:   "Receive files from a sender",
	Long: `Join the sender's room and receive its files.

Examples:
  codedrop receive 4821
  codedrop receive 4821 --dir ~/Downloads
  codedrop receive 4821 --zip`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := strings.TrimSpace(args[0])
		if err := room.ValidateCode(code); err != nil {
			return fmt.Errorf("%w: enter the four digit code shown by the sender", err)
		}
		return receiveFiles(cmd.Context(), code)
	},
}

// batchSink is a transfer.Sink that may need finalising.
type batchSink interface {
	transfer.Sink
	Location() string
	Close() error
}

type dirSink struct{ *transfer.DirSink }

func (d dirSink) Location() string { return d.Dir }
func (d dirSink) Close() error     { return nil }

type archiveSink struct{ *transfer.ArchiveSink }

func (a archiveSink) Location() string { return a.Path() }

func receiveFiles(ctx context.Context, code string) error {
	cfg, err := receiveFlags.load()
	if err != nil {
		return err
	}

	dir := cfg.OutputDir
	if flagDir != "" {
		dir = flagDir
	}

	sink, err := openSink(dir, flagZip)
	if err != nil {
		return err
	}
	defer sink.Close()

	rc, err := dialRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer rc.Close()

	return runSessions(ctx, cfg, rc, room.Responder, code, receiveFlags.retries,
		func(ctx context.Context, s *session.Session, ch *transfer.DataChannel, quit func()) error {
			return receiveBatch(ctx, ch, sink, quit)
		})
}

func openSink(dir string, zipMode bool) (batchSink, error) {
	if zipMode {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, transfer.NewError("create output dir", err)
		}
		name := fmt.Sprintf("codedrop-%d.zip", time.Now().UnixMilli())
		a, err := transfer.NewArchiveSink(filepath.Join(dir, name))
		if err != nil {
			return nil, transfer.NewError("create archive", err)
		}
		return archiveSink{a}, nil
	}

	d, err := transfer.NewDirSink(dir)
	if err != nil {
		return nil, transfer.NewError("create output dir", err)
	}
	return dirSink{d}, nil
}

func receiveBatch(ctx context.Context, ch *transfer.DataChannel, sink batchSink, quit func()) error {
	fmt.Println()
	prog := ui.NewProgress(ui.ModeReceive, quit)
	prog.Start(ctx)

	asm := transfer.NewAssembler(sink, logger, prog.Observe)
	err := transfer.Receive(ctx, ch, asm)
	prog.Stop()
	if err != nil {
		return err
	}

	if err := sink.Close(); err != nil {
		return transfer.NewError("finalise output", err)
	}

	fmt.Println()
	ui.RenderSummary(os.Stdout, ui.Summary{
		Title:    "Transfer Summary",
		Files:    asm.Results(),
		Elapsed:  time.Since(asm.Stats().StartTime),
		Location: sink.Location(),
	})
	ui.PrintSuccessf("Saved %d file(s) to %s", len(asm.Results()), sink.Location())
	return nil
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveFlags.register(receiveCmd)
	receiveCmd.Flags().BoolVarP(&flagZip, "zip", "z", false, "Collect received files into one zip archive")
	receiveCmd.Flags().StringVarP(&flagDir, "dir", "d", "", "Directory to save received files (default from config)")
}
