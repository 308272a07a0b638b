package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"boardcrawl/config"
	"boardcrawl/downloader"
	"boardcrawl/logging"
	"boardcrawl/parser"
	"boardcrawl/sites"
	"boardcrawl/store"
	"boardcrawl/validation"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "boardcrawl",
		Short:        "Download media from popular posts of image boards",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.json (default ~/.config/boardcrawl/config.json)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newScanCmd(opts),
		newHistoryCmd(opts),
		newLogsCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), config.VersionString())
			},
		},
	)

	return rootCmd
}

// setup loads and validates the settings and starts file logging.
// The caller closes the returned log file.
func setup(opts *rootOptions) (*config.Settings, io.WriteCloser, error) {
	settings, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	logFile, err := logging.Setup(settings.LogPath, settings.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	sitesConfig := sites.LoadSitesConfig()
	if err := validation.ValidateSettings(settings, &sitesConfig); err != nil {
		logFile.Close()
		return nil, nil, err
	}

	return settings, logFile, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		boardName string
		noDelay   bool
		noBar     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan every board (or one) and download new media",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logFile, err := setup(opts)
			if err != nil {
				return err
			}
			defer logFile.Close()

			ctx, stop := signalContext()
			defer stop()

			boards := settings.Boards
			if boardName != "" {
				board, err := settings.Board(boardName)
				if err != nil {
					return err
				}
				boards = []config.Board{*board}
			}
			if len(boards) == 0 {
				return errors.New("no boards configured")
			}

			log := logging.For("Main")
			if !noDelay {
				delay := parser.RandomDuration(settings.StartDelay)
				if delay > 0 {
					log.Infof("Starting in %v", delay.Round(time.Second))
					if err := parser.RandomPause(ctx, parser.Window{Min: delay.Seconds(), Max: delay.Seconds()}); err != nil {
						return err
					}
				}
			}

			var bar *progressBar
			if !noBar {
				bar = newProgressBar()
				// keep the terminal for the bar
				logging.L.SetOutput(logFile)
			}

			return runQueue(ctx, settings, boards, bar)
		},
	}

	cmd.Flags().StringVar(&boardName, "board", "", "only scan this board")
	cmd.Flags().BoolVar(&noDelay, "no-delay", false, "skip the random start delay")
	cmd.Flags().BoolVar(&noBar, "no-progress", false, "log to the terminal instead of drawing a progress bar")
	return cmd
}

// runQueue scans boards one after another and reports which ones failed
func runQueue(ctx context.Context, settings *config.Settings, boards []config.Board, bar *progressBar) error {
	log := logging.For("Main")

	queue := config.NewScanQueue(ctx, settings)
	queue.SetCallbacks(nil, func(task config.ScanTask) {
		if bar != nil {
			bar.update(task)
		}
	}, nil, nil)

	for i := range boards {
		if _, err := queue.AddTask(&boards[i]); err != nil {
			log.Warnf("⚠️ %v", err)
		}
	}
	queue.Wait()
	if bar != nil {
		bar.finish()
	}

	var failed []string
	for _, task := range queue.GetTasks() {
		switch task.Status {
		case config.StatusCompleted:
			log.Infof("✓ %s: %s", task.Board.Name, task.StatusMessage)
		case config.StatusCancelled:
			log.Infof("%s: cancelled", task.Board.Name)
		default:
			log.Errorf("%s: %s", task.Board.Name, task.StatusMessage)
			failed = append(failed, task.Board.Name)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d boards failed: %v", len(failed), len(boards), failed)
	}
	return nil
}

// progressBar shows the article progress of the board being scanned
type progressBar struct {
	bar   *pb.ProgressBar
	board string
}

func newProgressBar() *progressBar {
	bar := pb.New(0)
	bar.SetTemplate(`{{ string . "prefix" }} {{ counters . }} {{ bar . }} {{ percent . }} {{ string . "status" }}`)
	bar.SetMaxWidth(120)
	bar.Set(pb.Terminal, true)
	bar.SetRefreshRate(time.Second)
	bar.Start()
	return &progressBar{bar: bar}
}

func (p *progressBar) update(task config.ScanTask) {
	if task.Board.Name != p.board {
		p.board = task.Board.Name
		p.bar.Set("prefix", p.board)
	}
	p.bar.SetTotal(int64(task.Total))
	p.bar.SetCurrent(int64(task.Done))
	p.bar.Set("status", string(task.Status))
}

func (p *progressBar) finish() {
	p.bar.Finish()
}

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <board>",
		Short: "List the articles a run would download, without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logFile, err := setup(opts)
			if err != nil {
				return err
			}
			defer logFile.Close()

			board, err := settings.Board(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			history, err := store.Open(settings.HistoryPath)
			if err != nil {
				return err
			}
			defer history.Close()

			site := sites.NewBoardSite(board)
			fetcher := downloader.NewRequestExecutor(!settings.ShowBrowser)

			articles, err := downloader.CollectArticles(ctx, board, site, fetcher, history.Seen)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, a := range articles {
				fmt.Fprintf(out, "%s\t%dd\t%d\t%s\t%s\n", a.DocID, a.AgeDays, a.Likes, a.Title, a.URL)
			}
			fmt.Fprintf(out, "%d articles\n", len(articles))
			return nil
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently scanned articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, logFile, err := setup(opts)
			if err != nil {
				return err
			}
			defer logFile.Close()

			history, err := store.Open(settings.HistoryPath)
			if err != nil {
				return err
			}
			defer history.Close()

			records, err := history.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ScannedAt.Local().Format("2006-01-02 15:04"), r.Board, r.Status, r.Files, r.Title, r.URL)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	return cmd
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			return printLogs(ctx, cmd.OutOrStdout(), settings.LogPath, lines, follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to print")
	return cmd
}

// printLogs writes the last n lines of path, then follows the file when asked
func printLogs(ctx context.Context, out io.Writer, path string, n int, follow bool) error {
	last, err := lastLines(path, n)
	if err != nil {
		return err
	}
	for _, line := range last {
		fmt.Fprintln(out, line)
	}

	if !follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true, // the log rotates
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow %s: %w", path, err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}

// lastLines reads path to the end and keeps its last n lines
func lastLines(path string, n int) ([]string, error) {
	t, err := tail.TailFile(path, tail.Config{MustExist: true, Logger: tail.DiscardingLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer t.Cleanup()

	var ring []string
	for line := range t.Lines {
		if line.Err != nil {
			return nil, line.Err
		}
		if n <= 0 {
			continue
		}
		ring = append(ring, line.Text)
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, nil
}
