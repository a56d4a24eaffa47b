package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/duopane/dirsync/internal/scan"
	"github.com/duopane/dirsync/internal/tree"
	"github.com/duopane/dirsync/internal/utils"
)

var scanCmd = &cobra.Command{
	Use:   "scan SOURCE DEST",
	Short: "Compute the diff between two tree roots",
	Long: `Compute which entries are new, modified or deleted between two tree roots.

Roots can be a local directory, an S3 prefix (s3://bucket/prefix), or a zip
archive subtree (backup.zip!inner/dir).`,
	Args: cobra.ExactArgs(2),
	RunE: runScanCmd,
}

func init() {
	scanCmd.Flags().StringP("exclude", "x", "", "comma-separated glob patterns to exclude (* within a segment, ** across segments)")
	scanCmd.Flags().StringP("mode", "m", string(scan.ModeSizeMTime), "comparison mode: size_mtime or checksum")
	scanCmd.Flags().Duration("mtime-tolerance", scan.DefaultMTimeTolerance, "modification time tolerance for size_mtime mode")
	scanCmd.Flags().Int("checksum-workers", 0, "max concurrent content comparisons in checksum mode")
	scanCmd.Flags().Bool("json", false, "stream events as JSON lines instead of a table")
	scanCmd.Flags().Bool("all", false, "include unchanged entries in the table")
	scanCmd.Flags().String("plan", "", "write the operation plan for all changed entries to FILE")
	scanCmd.Flags().String("s3-region", "", "S3 region")
	scanCmd.Flags().String("s3-endpoint", "", "S3 endpoint override (path-style)")

	viper.BindPFlag("exclude", scanCmd.Flags().Lookup("exclude"))
	viper.BindPFlag("mode", scanCmd.Flags().Lookup("mode"))
	viper.BindPFlag("mtime_tolerance", scanCmd.Flags().Lookup("mtime-tolerance"))
	viper.BindPFlag("checksum_workers", scanCmd.Flags().Lookup("checksum-workers"))
	viper.BindPFlag("s3.region", scanCmd.Flags().Lookup("s3-region"))
	viper.BindPFlag("s3.endpoint", scanCmd.Flags().Lookup("s3-endpoint"))

	viper.SetEnvPrefix("DIRSYNC")
	viper.AutomaticEnv()
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	source, err := openRoot(ctx, args[0])
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dest, err := openRoot(ctx, args[1])
	if err != nil {
		return fmt.Errorf("dest: %w", err)
	}

	mode, err := scan.ParseMode(viper.GetString("mode"))
	if err != nil {
		return err
	}

	opts := []scan.Option{
		scan.WithMTimeTolerance(viper.GetDuration("mtime_tolerance")),
	}
	if n := viper.GetInt("checksum_workers"); n > 0 {
		opts = append(opts, scan.WithChecksumWorkers(n))
	}
	engine := scan.NewEngine(opts...)

	jsonOut, _ := cmd.Flags().GetBool("json")
	var onEvent scan.EventFunc
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		var mu sync.Mutex
		onEvent = func(ev scan.Event) {
			mu.Lock()
			defer mu.Unlock()
			enc.Encode(eventEnvelope(ev))
		}
	}

	sessionID := uuid.NewString()
	session, err := engine.StartScan(ctx, &scan.ScanParams{
		SessionID:       sessionID,
		Source:          source,
		Dest:            dest,
		ExcludePatterns: scan.ParsePatterns(viper.GetString("exclude")),
		Mode:            mode,
		OnEvent:         onEvent,
	})
	if err != nil {
		return err
	}

	<-session.Done()
	if err := session.Err(); err != nil {
		return err
	}

	if !jsonOut {
		showAll, _ := cmd.Flags().GetBool("all")
		renderDiff(session, showAll)
	}

	if planPath, _ := cmd.Flags().GetString("plan"); planPath != "" {
		if err := writePlan(engine, session, planPath); err != nil {
			return err
		}
	}

	return nil
}

func openRoot(ctx context.Context, locator string) (tree.Tree, error) {
	root, err := tree.ParseLocator(locator)
	if err != nil {
		return nil, err
	}
	switch root.Kind {
	case tree.KindS3:
		root.S3 = &tree.S3Config{
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Region:    viper.GetString("s3.region"),
			Endpoint:  viper.GetString("s3.endpoint"),
		}
	default:
		// Filesystem directories and archive files take shell-style paths.
		path, err := utils.ResolvePath(root.Path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", locator, err)
		}
		root.Path = path
	}
	return tree.Open(ctx, root)
}

// eventEnvelope shapes an event for the JSON stream: a type tag plus the
// event's own fields.
func eventEnvelope(ev scan.Event) any {
	switch e := ev.(type) {
	case scan.EntryEvent:
		return struct {
			Type string `json:"type"`
			scan.EntryEvent
		}{"Entry", e}
	case scan.DoneEvent:
		return struct {
			Type string `json:"type"`
			scan.DoneEvent
		}{"Done", e}
	default:
		return ev
	}
}

func renderDiff(session *scan.Session, showAll bool) {
	entries := session.Changed()
	if showAll {
		entries = session.Entries()
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Path", "Status", "Source Size", "Dest Size"})
	table.SetBorder(false)
	for _, e := range entries {
		table.Append([]string{
			e.RelPath,
			string(e.Status),
			humanize.IBytes(uint64(e.SourceSize)),
			humanize.IBytes(uint64(e.DestSize)),
		})
	}
	table.Render()

	counts := session.Counts()
	fmt.Printf("\n%d new, %d modified, %d deleted\n", counts.New, counts.Modified, counts.Deleted)
}

// writePlan selects every changed entry and hands the resulting operation
// plan to the transfer subsystem as JSON.
func writePlan(engine *scan.Engine, session *scan.Session, path string) error {
	changed := session.Changed()
	paths := make([]string, 0, len(changed))
	for _, e := range changed {
		paths = append(paths, e.RelPath)
	}

	plan, err := engine.ApplySync(session.ID(), scan.NewSelectionSet(paths...))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	fmt.Printf("plan written to %s (%d copies, %d removes)\n", path, len(plan.Copies), len(plan.Removes))
	return nil
}
