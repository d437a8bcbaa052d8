package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/projectsync/pkg/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the local snapshot cache",
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached files and usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		size, maxSize, count := c.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Cache: %s\n", c.Dir())
		fmt.Fprintf(out, "Files: %d, %s of %s\n\n", count, humanBytes(size), humanBytes(maxSize))

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tSIZE\tLAST ACCESS\tPINNED")
		for _, e := range c.List() {
			pinned := ""
			if e.Pinned {
				pinned = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Path, humanBytes(e.Size), e.LastAccess.Local().Format(time.DateTime), pinned)
		}
		return tw.Flush()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all unpinned cached files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		n, err := c.Clear()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files.\n", n)
		return nil
	},
}

var cachePinCmd = &cobra.Command{
	Use:   "pin <path>",
	Short: "Keep a cached file from being evicted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPinned(cmd, args[0], true)
	},
}

var cacheUnpinCmd = &cobra.Command{
	Use:   "unpin <path>",
	Short: "Allow a cached file to be evicted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setPinned(cmd, args[0], false)
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict <path>",
	Short: "Remove one cached file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		if err := c.Evict(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Evicted: %s\n", args[0])
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatusCmd, cacheClearCmd, cachePinCmd, cacheUnpinCmd, cacheEvictCmd)
}

func openCache() (*cache.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.AppID == "" {
		return nil, errors.New("app ID is required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("no cache directory configured")
	}
	return cache.New(cache.ForApp(cfg.CacheDir, cfg.AppID), cfg.MaxCacheSize)
}

func setPinned(cmd *cobra.Command, path string, pinned bool) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	if err := c.Pin(path, pinned); err != nil {
		return err
	}
	verb := "Unpinned"
	if pinned {
		verb = "Pinned"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", verb, path)
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
