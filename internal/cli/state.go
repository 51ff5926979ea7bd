package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/remotecpp-dev/remotecpp/internal/mirror"
	"github.com/remotecpp-dev/remotecpp/internal/rpath"
	"github.com/remotecpp-dev/remotecpp/internal/state"
	"github.com/spf13/cobra"
)

type StateSummary struct {
	Mode        string    `json:"mode"`
	Path        string    `json:"path"`
	Exists      bool      `json:"exists"`
	Version     uint16    `json:"version,omitempty"`
	Compression string    `json:"compression,omitempty"`
	FileSize    int       `json:"file_size,omitempty"`
	PayloadSize int       `json:"payload_size,omitempty"`
	SavedAt     time.Time `json:"saved_at,omitzero"`
	Host        string    `json:"host,omitempty"`
	Root        string    `json:"root,omitempty"`
	Directories int       `json:"directories"`
	Surfaces    int       `json:"surfaces"`
	Problem     string    `json:"problem,omitempty"`
}

func RunStateShow(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	path, err := env.cfg.StatePath()
	if err != nil {
		return err
	}

	summary := StateSummary{Mode: "state", Path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("failed to read state: %w", err)
	default:
		summary.Exists = true
		if info, err := state.Inspect(data); err == nil {
			summary.Version = info.Version
			summary.Compression = info.Compression.String()
			summary.FileSize = info.FileSize
			summary.PayloadSize = info.PayloadSize
		}
		snap, err := state.Load(data)
		if err != nil {
			summary.Problem = err.Error()
		} else {
			summary.SavedAt = snap.SavedAt
			summary.Host = snap.Host
			summary.Root = snap.Root
			summary.Directories = len(snap.Listings)
			summary.Surfaces = len(snap.Surfaces)
		}
	}

	if asJSON {
		return fileutil.PrintJSON(cmd.OutOrStdout(), summary)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state: %s\n", summary.Path)
	if !summary.Exists {
		fmt.Fprintln(out, "no state saved yet")
		return nil
	}
	fmt.Fprintf(out, "format: v%d %s, %d bytes (%d uncompressed)\n", summary.Version, summary.Compression, summary.FileSize, summary.PayloadSize)
	if summary.Problem != "" {
		fmt.Fprintf(out, "problem: %s\n", summary.Problem)
		fmt.Fprintln(out, "next: run remotecpp state clear")
		return nil
	}
	fmt.Fprintf(out, "saved: %s for %s:%s\n", summary.SavedAt.Local().Format(time.RFC3339), summary.Host, summary.Root)
	fmt.Fprintf(out, "index: directories=%d surfaces=%d\n", summary.Directories, summary.Surfaces)
	return nil
}

func RunStateClear(cmd *cobra.Command, args []string) error {
	keepMirror, err := OptionalBoolFlag(cmd, "keep-mirror", false)
	if err != nil {
		return err
	}
	all, err := OptionalBoolFlag(cmd, "all", false)
	if err != nil {
		return err
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	path, err := env.cfg.StatePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove state: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", path)
	if keepMirror {
		return nil
	}

	mirrorDir, err := env.cfg.MirrorDir()
	if err != nil {
		return err
	}
	if all || env.cfg.Root == "" {
		err = mirror.ClearAll(mirrorDir)
	} else {
		project := mirror.New(mirrorDir, env.cfg.SSH.Host, rpath.Clean(env.cfg.Root))
		mirrorDir = project.Dir()
		err = project.Clear()
	}
	if err != nil {
		return fmt.Errorf("failed to remove mirror: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", mirrorDir)
	return nil
}
