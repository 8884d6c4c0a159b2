package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"linebot/internal/config"
)

// archiveEntry maps a file on disk to its name inside the backup archive.
type archiveEntry struct {
	src  string
	name string
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config file, documents folder and dedupe database",
		Long: `Creates a compressed .tar.gz archive with the config file, every file in
the documents folder and, when present, the dedupe database. Secrets from the
environment are not included.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.LoadUnvalidated(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if outputPath == "" {
				ts := time.Now().Format("20060102-150405")
				outputPath = fmt.Sprintf("linebot-backup-%s.tar.gz", ts)
			}

			entries, err := backupEntries(cfgPath, cfg)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (config: %q, documents: %s)", cfgPath, cfg.Knowledge.DocumentsDir)
			}

			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(entries))
			for _, e := range entries {
				size := int64(0)
				if info, err := os.Stat(e.src); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", e.name, humanSize(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ./linebot-backup-<timestamp>.tar.gz)")
	return cmd
}

// backupEntries lists the files to archive. Missing sources are skipped.
func backupEntries(cfgPath string, cfg *config.Config) ([]archiveEntry, error) {
	var entries []archiveEntry

	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err == nil {
			entries = append(entries, archiveEntry{src: cfgPath, name: filepath.Base(cfgPath)})
		}
	}

	if dir := cfg.Knowledge.DocumentsDir; dir != "" {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			entries = append(entries, archiveEntry{src: p, name: path.Join("documents", filepath.ToSlash(rel))})
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("walk documents: %w", err)
		}
	}

	if db := cfg.Webhook.DedupeDBPath; db != "" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if _, err := os.Stat(db + suffix); err == nil {
				entries = append(entries, archiveEntry{src: db + suffix, name: path.Join("data", filepath.Base(db)+suffix)})
			}
		}
	}

	return entries, nil
}

// createTarGz creates a .tar.gz archive from the given entries.
func createTarGz(outputPath string, entries []archiveEntry) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)

	for _, e := range entries {
		if err := addFileToTar(tarWriter, e); err != nil {
			return fmt.Errorf("add %s: %w", e.src, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	file, err := os.Open(e.src)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = strings.TrimPrefix(e.name, "/")

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	_, err = io.Copy(tw, file)
	return err
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
