// Package main provides the entry point for the apicache CLI, a small
// inspection tool for disk cache directories.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coordlit/apicache"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	cacheDir    string
	ttl         time.Duration
	compression bool
	verbose     bool

	rootCmd = &cobra.Command{
		Use:           "apicache",
		Short:         "Inspect and manage API response cache directories",
		SilenceErrors: false,
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.WarnLevel)
			}
		},
	}

	lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List cached entries",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cache, err := buildCache()
			if err != nil {
				return err
			}

			entries := cache.Entries()
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Key < entries[j].Key
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tAGE\tEXPIRES")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Key,
					humanize.Bytes(uint64(e.Size)),
					humanize.Time(e.CreatedAt),
					humanize.Time(e.ExpiresAt),
				)
			}
			return w.Flush()
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cache, err := buildCache()
			if err != nil {
				return err
			}

			var totalSize int64
			for _, e := range cache.Entries() {
				totalSize += e.Size
			}

			stats := cache.Stats()
			fmt.Println("Directory:", cache.Dir())
			fmt.Println("Entries:  ", stats.ItemCount)
			fmt.Println("Size:     ", humanize.Bytes(uint64(totalSize)))
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "Print a cached value as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cache, err := buildCache()
			if err != nil {
				return err
			}

			value, ok := cache.Get(args[0])
			if !ok {
				return fmt.Errorf("no live entry for key %q", args[0])
			}

			out, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return fmt.Errorf("unable to render value: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	setCmd = &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Long:  "Store a value under a key. The value is parsed as JSON when possible and stored as a plain string otherwise.",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cache, err := buildCache()
			if err != nil {
				return err
			}

			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				value = args[1]
			}

			if !cache.Set(args[0], value, 0) {
				return fmt.Errorf("unable to store entry for key %q", args[0])
			}
			return nil
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a single entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cache, err := buildCache()
			if err != nil {
				return err
			}

			if !cache.Delete(args[0]) {
				fmt.Fprintf(os.Stderr, "no entry for key %q\n", args[0])
				return nil
			}
			fmt.Println("Deleted", args[0])
			return nil
		},
	}

	purgeCmd = &cobra.Command{
		Use:   "purge <prefix>",
		Short: "Remove every entry whose key starts with a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cache, err := buildCache()
			if err != nil {
				return err
			}

			removed := cache.InvalidateByPrefix(args[0])
			fmt.Printf("Removed %d entries\n", removed)
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry in the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cache, err := buildCache()
			if err != nil {
				return err
			}

			if !cache.Clear() {
				return fmt.Errorf("some entries in %s could not be removed", cache.Dir())
			}
			fmt.Println("Cleared", cache.Dir())
			return nil
		},
	}
)

// buildCache assembles a disk cache from the environment, the config file
// and the command line, in increasing order of precedence.
func buildCache() (*apicache.DiskCache, error) {
	cfg, err := apicache.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %v", err)
	}

	if v := viper.GetString("dir"); v != "" {
		cfg.Dir = v
	}
	if v := viper.GetDuration("ttl"); v > 0 {
		cfg.TTL = v
	}
	if viper.IsSet("compression") {
		cfg.Compression = viper.GetBool("compression")
	}

	return apicache.NewDiskCache(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "dir", "d", "", "cache directory (default: per-user cache dir)")
	rootCmd.PersistentFlags().DurationVar(&ttl, "ttl", 0, "default entry lifetime for writes")
	rootCmd.PersistentFlags().BoolVar(&compression, "compression", false, "compress large data files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	_ = viper.BindPFlag("dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("ttl", rootCmd.PersistentFlags().Lookup("ttl"))
	_ = viper.BindPFlag("compression", rootCmd.PersistentFlags().Lookup("compression"))

	rootCmd.AddCommand(lsCmd, statsCmd, getCmd, setCmd, deleteCmd, purgeCmd, clearCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "apicache")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "apicache")}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("apicache")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("apicache")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
	}
}
