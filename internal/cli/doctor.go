package cli

import (
	"fmt"
	"strings"

	"github.com/remotecpp-dev/remotecpp/internal/doctor"
	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/spf13/cobra"
)

func RunDoctor(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	statePath, err := env.cfg.StatePath()
	if err != nil {
		return err
	}

	var report doctor.Report
	_ = withProgress("checking "+env.cfg.SSH.Host, asJSON, func() error {
		report = doctor.Run(cmd.Context(), doctor.Options{
			Config:    env.cfg,
			Transport: newTransport(env.cfg, env.logger),
			StatePath: statePath,
		})
		return nil
	})

	if asJSON {
		return fileutil.PrintJSON(cmd.OutOrStdout(), report)
	}

	out := cmd.OutOrStdout()
	status := "issues"
	if report.Healthy {
		status = "ok"
	}
	fmt.Fprintf(out, "doctor: %s\n", status)
	fmt.Fprintf(out, "target: %s:%s\n", report.Host, report.Root)
	if env.configPath != "" {
		fmt.Fprintf(out, "config: %s\n", env.configPath)
	}
	var failed []string
	for _, check := range report.Checks {
		mark := "ok"
		if !check.OK {
			mark = "FAIL"
			failed = append(failed, check.Name)
		}
		line := fmt.Sprintf("  %-4s %s", mark, check.Name)
		if check.Reason != "" {
			line += " (" + check.Reason + ")"
		}
		if check.Detail != "" {
			line += ": " + check.Detail
		}
		fmt.Fprintln(out, line)
	}
	if len(failed) > 0 {
		fmt.Fprintf(out, "failed (%d): %s\n", len(failed), SummarizePaths(failed, 5))
	}
	for _, suggestion := range report.Suggestions {
		fmt.Fprintf(out, "next: %s\n", strings.TrimSpace(suggestion))
	}
	return nil
}
