package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HerbHall/upkeep/internal/backup"
	"github.com/HerbHall/upkeep/internal/server"
)

// runBackup writes a timestamped archive of the database and config file to
// the backup directory and prunes archives beyond backup.keep.
func runBackup(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	dir := fs.String("dir", "", "backup directory (default backup.dir)")
	keep := fs.Int("keep", -1, "archives to keep, 0 keeps all (default backup.keep)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if *dir == "" {
		*dir = v.GetString("backup.dir")
	}
	if *keep < 0 {
		*keep = v.GetInt("backup.keep")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	archive := filepath.Join(*dir, backup.ArchiveName(time.Now()))
	if err := backup.Backup(ctx, v.GetString("database.path"), v.ConfigFileUsed(), archive); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		return 1
	}
	fmt.Printf("backup written to %s\n", archive)

	removed, err := backup.Rotate(*dir, *keep)
	for _, p := range removed {
		fmt.Printf("removed old backup %s\n", p)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pruning old backups: %v\n", err)
		return 1
	}
	return 0
}

// runRestore unpacks an archive next to the configured database.
func runRestore(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	target := fs.String("target", "", "directory to restore into (default: the database directory)")
	force := fs.Bool("force", false, "overwrite existing files")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: upkeep restore [--target dir] [--force] <archive>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	if *target == "" {
		v, err := server.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			return 1
		}
		*target = filepath.Dir(v.GetString("database.path"))
	}

	manifest, err := backup.Restore(context.Background(), fs.Arg(0), *target, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		return 1
	}
	if manifest != nil {
		fmt.Printf("restored %s (version %s, taken %s) into %s\n",
			manifest.Database, manifest.Version, manifest.CreatedAt.Format(time.RFC3339), *target)
	} else {
		fmt.Printf("restored into %s\n", *target)
	}
	return 0
}
