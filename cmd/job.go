package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/engine"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage lead scrape jobs",
	Long:  "Commands for creating, starting, cancelling, and inspecting lead scrape jobs.",
}

// -- job create --

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		params := engine.JobParams{}
		params.Platform, _ = cmd.Flags().GetString("platform")
		params.Country, _ = cmd.Flags().GetString("country")
		params.City, _ = cmd.Flags().GetString("city")
		params.CityCode, _ = cmd.Flags().GetString("city-code")
		params.Cuisine, _ = cmd.Flags().GetString("cuisine")
		params.LeadsLimit, _ = cmd.Flags().GetInt("limit")
		params.PageOffset, _ = cmd.Flags().GetInt("page-offset")

		job, err := env.Engine.CreateJob(ctx, params, env.Catalog.For(params.Platform))
		if err != nil {
			return eris.Wrap(err, "job create")
		}

		fmt.Printf("Created job %s (%s, %s) with %d steps.\n", job.ID, job.Platform, job.City, job.TotalSteps)
		return nil
	},
}

// -- job start --

var jobStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Start a draft job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Engine.StartJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "job start")
		}

		fmt.Printf("Job %s is now %s.\n", job.ID, job.Status)
		return nil
	},
}

// -- job cancel --

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Engine.CancelJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "job cancel")
		}

		fmt.Printf("Job %s cancelled.\n", job.ID)
		return nil
	},
}

// -- job show --

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with per-step counters and derived stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jws, err := env.Engine.GetJobWithStats(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "job show")
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jws)
		}

		formatJobDetail(os.Stdout, jws)
		return nil
	},
}

// -- job list --

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		platform, _ := cmd.Flags().GetString("platform")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			Status:   model.JobStatus(status),
			Platform: platform,
			Limit:    limit,
		}

		jobs, err := env.Store.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "job list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobList(os.Stdout, jobs)
		return nil
	},
}

func init() {
	jobCreateCmd.Flags().String("platform", "", "target platform (required)")
	jobCreateCmd.Flags().String("country", "", "country name")
	jobCreateCmd.Flags().String("city", "", "city name (required)")
	jobCreateCmd.Flags().String("city-code", "", "platform-specific city code")
	jobCreateCmd.Flags().String("cuisine", "", "cuisine filter")
	jobCreateCmd.Flags().Int("limit", 100, "max leads to extract")
	jobCreateCmd.Flags().Int("page-offset", 0, "listing page offset to start from")
	_ = jobCreateCmd.MarkFlagRequired("platform")
	_ = jobCreateCmd.MarkFlagRequired("city")

	jobShowCmd.Flags().Bool("json", false, "emit raw JSON instead of a summary")

	jobListCmd.Flags().String("status", "", "filter by job status (draft, pending, in_progress, ...)")
	jobListCmd.Flags().String("platform", "", "filter by platform")
	jobListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobCmd.AddCommand(jobCreateCmd)
	jobCmd.AddCommand(jobStartCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobListCmd)
	rootCmd.AddCommand(jobCmd)
}

// formatJobList writes a tabular list of jobs to out.
func formatJobList(out io.Writer, jobs []model.LeadScrapeJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPLATFORM\tCITY\tSTATUS\tSTEP\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t----\t------\t----\t-------")

	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			truncateID(j.ID),
			j.Platform,
			j.City,
			j.Status,
			j.CurrentStep,
			j.TotalSteps,
			j.CreatedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

// formatJobDetail writes a job summary followed by its step table.
func formatJobDetail(out io.Writer, jws *engine.JobWithStats) {
	j := jws.Job
	fmt.Fprintf(out, "Job:      %s\n", j.ID)
	fmt.Fprintf(out, "Platform: %s\n", j.Platform)
	fmt.Fprintf(out, "City:     %s", j.City)
	if j.Country != "" {
		fmt.Fprintf(out, ", %s", j.Country)
	}
	fmt.Fprintln(out)
	if j.Cuisine != "" {
		fmt.Fprintf(out, "Cuisine:  %s\n", j.Cuisine)
	}
	fmt.Fprintf(out, "Status:   %s (step %d of %d, %d%% complete)\n", j.Status, j.CurrentStep, j.TotalSteps, jws.Progress)
	fmt.Fprintf(out, "Stats:    %d extracted, %d passed, %d failed\n\n", jws.Stats.Extracted, jws.Stats.Passed, jws.Stats.Failed)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tNAME\tTYPE\tSTATUS\tRECEIVED\tPROCESSED\tPASSED\tFAILED")
	for _, s := range jws.Steps {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			s.StepNumber, s.Name, s.Type, s.Status,
			s.LeadsReceived, s.LeadsProcessed, s.LeadsPassed, s.LeadsFailed,
		)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID for tabular display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
