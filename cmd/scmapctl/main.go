package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"scmap-manager/catalog"
	"scmap-manager/config"
	"scmap-manager/core"
	"scmap-manager/modstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scmapctl",
		Short: "Headless client for the Sven Co-op map catalog",
		Long: `scmapctl crawls the map database into a local index, searches it,
shows map details and manages downloaded map archives.`,
		SilenceUsage: true,
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build the local catalog index if it does not exist yet",
		RunE:  runBuild,
	}
	buildCmd.Flags().Bool("refresh", false, "Re-crawl and merge even when an index exists")

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the local catalog index",
		Args:  cobra.ArbitraryArgs,
		RunE:  runSearch,
	}
	searchCmd.Flags().Int("page", 1, "Result page (1-based)")
	searchCmd.Flags().Bool("json", false, "Output JSON")

	detailCmd := &cobra.Command{
		Use:   "detail <title>",
		Short: "Show the detail record of a map",
		Args:  cobra.ExactArgs(1),
		RunE:  runDetail,
	}
	detailCmd.Flags().Bool("json", false, "Output JSON")

	downloadCmd := &cobra.Command{
		Use:   "download <title>",
		Short: "Download a map archive into the mods directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runDownload,
	}
	downloadCmd.Flags().Int("option", 1, "Which download link to use (1-based)")

	modsCmd := &cobra.Command{
		Use:   "mods",
		Short: "List installed map archives",
		RunE:  runMods,
	}
	modsCmd.Flags().Bool("json", false, "Output JSON")

	enableCmd := &cobra.Command{
		Use:   "enable <name>...",
		Short: "Enable installed archives and extract them into the addon folder",
		Args:  cobra.MinimumNArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runSetEnabled(args, true) },
	}
	disableCmd := &cobra.Command{
		Use:   "disable <name>...",
		Short: "Disable installed archives and resync the addon folder",
		Args:  cobra.MinimumNArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runSetEnabled(args, false) },
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Move an installed archive to the recycle bin",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}

	conflictsCmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Report files shipped by more than one installed archive",
		RunE:  runConflicts,
	}
	conflictsCmd.Flags().Bool("json", false, "Output JSON")

	gameFolderCmd := &cobra.Command{
		Use:   "game-folder [path]",
		Short: "Show or set the Sven Co-op folder enabled maps are extracted into",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runGameFolder,
	}

	rootCmd.AddCommand(buildCmd, searchCmd, detailCmd, downloadCmd, modsCmd, enableCmd, disableCmd, deleteCmd, conflictsCmd, gameFolderCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func open() (*core.Core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return core.Open(cfg, cfg.NewLogger(), modstore.ArchiveExtractor{})
}

// loadIndex loads the catalog, crawling it first when needed. A crawl whose
// index could not be saved is still usable; the save error is only reported.
func loadIndex(ctx context.Context, c *core.Core) error {
	entries, err := c.Catalog.BuildOrLoadIndex(ctx)
	if err != nil && entries != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		return nil
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runBuild(cmd *cobra.Command, _ []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c.Builder.OnProgress = func(p catalog.ProgressInfo) {
		fmt.Fprintf(os.Stderr, "\r[%d/%d] %s", p.Current, p.Total, p.Message)
	}

	refresh, _ := cmd.Flags().GetBool("refresh")
	build := c.Catalog.BuildOrLoadIndex
	if refresh {
		build = c.Catalog.Rebuild
	}
	entries, err := build(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if entries == nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	fmt.Printf("%d maps in %s\n", len(entries), c.Config.IndexPath())
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := loadIndex(context.Background(), c); err != nil {
		return err
	}

	results := c.Catalog.Search(strings.Join(args, " "))
	page, _ := cmd.Flags().GetInt("page")
	total := c.Catalog.TotalPages(results)
	entries := c.Catalog.Page(results, page)

	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		return printJSON(struct {
			Page       int `json:"page"`
			TotalPages int `json:"total_pages"`
			Total      int `json:"total"`
			Entries    any `json:"entries"`
		}{page, total, len(results), entries})
	}

	for _, e := range entries {
		mark := " "
		if c.Catalog.IsDownloaded(e.PageURL) {
			mark = "*"
		}
		fmt.Printf("%s %-40s\t%s\n", mark, e.Title, e.Tags)
	}
	fmt.Printf("page %d/%d, %d results\n", page, total, len(results))
	return nil
}

func runDetail(cmd *cobra.Command, args []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := loadIndex(context.Background(), c); err != nil {
		return err
	}
	entry, ok := c.Catalog.Lookup(args[0])
	if !ok {
		return fmt.Errorf("no map titled %q in the index", args[0])
	}
	detail := c.Catalog.GetDetail(context.Background(), entry.Title, entry.PageURL)

	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		return printJSON(detail)
	}
	fmt.Printf("Title:            %s\n", detail.Title)
	fmt.Printf("Author:           %s\n", detail.Author)
	fmt.Printf("Original release: %s\n", detail.OriginalRelease)
	fmt.Printf("Posted:           %s\n", detail.PostedDate)
	fmt.Printf("Maps:             %s\n", detail.ArchiveFilename)
	for i, u := range detail.DownloadURLs {
		fmt.Printf("Download %d:       %s\n", i+1, u)
	}
	for _, u := range detail.ScreenshotURLs {
		fmt.Printf("Screenshot:       %s\n", u)
	}
	if text := modstore.PlainText(detail.Description); text != "" {
		fmt.Printf("\n%s\n", text)
	}
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := loadIndex(ctx, c); err != nil {
		return err
	}
	entry, ok := c.Catalog.Lookup(args[0])
	if !ok {
		return fmt.Errorf("no map titled %q in the index", args[0])
	}
	detail := c.Catalog.GetDetail(ctx, entry.Title, entry.PageURL)

	option, _ := cmd.Flags().GetInt("option")
	if option < 1 || option > len(detail.DownloadURLs) {
		return fmt.Errorf("%q has %d download links, option %d unavailable", entry.Title, len(detail.DownloadURLs), option)
	}

	res, err := c.Downloader.Download(ctx, modstore.DownloadRequest{
		URL:             detail.DownloadURLs[option-1],
		PageURL:         entry.PageURL,
		Title:           detail.Title,
		Author:          detail.Author,
		DescriptionHTML: detail.Description,
		ThumbnailPath:   entry.ThumbnailPath,
		Progress: func(written, total int64) {
			if total > 0 {
				fmt.Fprintf(os.Stderr, "\r%s / %s", modstore.HumanSize(written), modstore.HumanSize(total))
			} else {
				fmt.Fprintf(os.Stderr, "\r%s", modstore.HumanSize(written))
			}
		},
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s (%s)\n", res.Path, modstore.HumanSize(res.Size))
	return nil
}

func runMods(cmd *cobra.Command, _ []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	mods, err := c.Store.List()
	if err != nil {
		return err
	}
	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		return printJSON(mods)
	}
	for _, m := range mods {
		state := "off"
		if m.Enabled {
			state = "on "
		}
		fmt.Printf("%s  %-10s  %-30s  %s\n", state, m.SizeText, m.FileName, m.DisplayName)
	}
	return nil
}

func runSetEnabled(names []string, enabled bool) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	for _, name := range names {
		if err := c.Store.SetEnabled(name, enabled); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func runDelete(_ *cobra.Command, args []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Store.Delete(args[0])
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Store.CheckConflicts(c.Pool, func(p modstore.ConflictProgress) {
		fmt.Fprintf(os.Stderr, "\r[%d/%d] %s", p.Current, p.Total, p.Archive)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
		return printJSON(result)
	}

	if result.TotalConflicts == 0 {
		fmt.Println("no conflicts")
	}
	for _, g := range result.ConflictGroups {
		fmt.Printf("[%s] %s\n", g.Severity, strings.Join(g.Archives, " <-> "))
		for _, f := range g.Files {
			fmt.Printf("    %s\n", f)
		}
	}
	for _, name := range result.Unreadable {
		fmt.Printf("unreadable: %s\n", name)
	}
	return nil
}

func runGameFolder(_ *cobra.Command, args []string) error {
	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", args[0])
		}
		if err := c.Settings.SetGameFolder(args[0]); err != nil {
			return err
		}
	}
	fmt.Println(c.Settings.GameFolder())
	return nil
}
