package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/ffpeaks/internal/models"
	"github.com/jmylchreest/ffpeaks/internal/repository"
	"github.com/jmylchreest/ffpeaks/internal/scheduler"
)

var (
	jobsStatus string
	jobsMode   string
	jobsLimit  int
	jobsOffset int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and prune the transcode history",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withJobRepo(cmd.Context(), func(repo repository.TranscodeJobRepository) error {
			filter := repository.JobFilter{Mode: jobsMode, Offset: jobsOffset, Limit: jobsLimit}
			if jobsStatus != "" {
				st := models.JobStatus(jobsStatus)
				if !st.Valid() {
					return fmt.Errorf("invalid status %q", jobsStatus)
				}
				filter.Status = &st
			}
			jobs, total, err := repo.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), jobs, total)
		})
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show JOB_ID",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withJobRepo(cmd.Context(), func(repo repository.TranscodeJobRepository) error {
			job, err := repo.GetByJobID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		})
	},
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished jobs older than history.retention",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withJobRepo(cmd.Context(), func(repo repository.TranscodeJobRepository) error {
			pruner, err := scheduler.NewPruner(repo, cfg.History)
			if err != nil {
				return err
			}
			deleted, err := pruner.WithLogger(logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d job(s)\n", deleted)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsPruneCmd)

	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status (running, completed, failed)")
	jobsListCmd.Flags().StringVar(&jobsMode, "mode", "", "filter by mode (streaming, standard, peaks_only)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", repository.DefaultPageSize, "maximum jobs to show")
	jobsListCmd.Flags().IntVar(&jobsOffset, "offset", 0, "jobs to skip")
}

func withJobRepo(ctx context.Context, fn func(repository.TranscodeJobRepository) error) error {
	db, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(repository.NewTranscodeJobRepository(db.DB))
}

func printJobs(w io.Writer, jobs []*models.TranscodeJob, total int64) error {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		started := "-"
		if j.StartedAt != nil {
			started = humanize.Time(*j.StartedAt)
		}
		rows = append(rows, []string{
			j.JobID,
			string(j.Status),
			j.Mode,
			started,
			(time.Duration(j.DurationMs) * time.Millisecond).String(),
			j.Output,
		})
	}

	out := renderTable(
		[]string{"Job ID", "Status", "Mode", "Started", "Duration", "Output"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
	if _, err := fmt.Fprintln(w, out); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d job(s)\n", len(jobs), total)
	return err
}

func printJob(w io.Writer, j *models.TranscodeJob) {
	fmt.Fprintf(w, "job:       %s\n", j.JobID)
	fmt.Fprintf(w, "status:    %s\n", j.Status)
	fmt.Fprintf(w, "mode:      %s\n", j.Mode)
	fmt.Fprintf(w, "command:   %s\n", j.Command)
	fmt.Fprintf(w, "inputs:    %s\n", strings.Join(j.Inputs, ", "))
	if j.Output != "" {
		fmt.Fprintf(w, "output:    %s\n", j.Output)
	}
	if j.StartedAt != nil {
		fmt.Fprintf(w, "started:   %s (%s)\n", j.StartedAt.Format(time.RFC3339), humanize.Time(*j.StartedAt))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(w, "completed: %s\n", j.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "duration:  %s\n", time.Duration(j.DurationMs)*time.Millisecond)
	fmt.Fprintf(w, "media:     %.2fs processed\n", j.TimeProcessed)
	if j.Status == models.JobStatusFailed {
		fmt.Fprintf(w, "exit code: %d\n", j.ExitCode)
		fmt.Fprintf(w, "error:     %s\n", lastLines(j.LastError, 5))
	}
	if j.PeaksPath != "" {
		fmt.Fprintf(w, "peaks:     %s\n", j.PeaksPath)
	}
	for _, warn := range j.Warnings {
		fmt.Fprintf(w, "warning:   %s\n", warn)
	}
}
