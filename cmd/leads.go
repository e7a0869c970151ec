package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadgen-cli/internal/engine"
	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and transition leads within a job",
	Long:  "Commands for listing leads at a step and applying bulk transitions: pass, retry, extract, delete, convert.",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list <job-id>",
	Short: "List leads at a step with resolved display status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stepNumber, _ := cmd.Flags().GetInt("step")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		dupes, _ := cmd.Flags().GetString("duplicates")

		filter := store.LeadFilter{Limit: limit}
		if dupes != "" {
			b, err := strconv.ParseBool(dupes)
			if err != nil {
				return eris.Wrap(err, "leads list: parse --duplicates")
			}
			filter.Duplicates = &b
		}

		views, err := env.Engine.ListStepLeads(ctx, args[0], stepNumber, model.LeadStatus(status), filter)
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(views) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadList(os.Stdout, views)
		return nil
	},
}

// -- leads pass --

var leadsPassCmd = &cobra.Command{
	Use:   "pass <job-id> <lead-id>...",
	Short: "Pass leads from a step to the next one",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stepNumber, _ := cmd.Flags().GetInt("step")

		res, err := env.Engine.PassToNext(ctx, args[0], stepNumber, args[1:])
		if err != nil {
			return eris.Wrap(err, "leads pass")
		}

		fmt.Printf("Passed %d leads from step %d.\n", res.Passed, res.Step.StepNumber)
		if res.StepCompleted {
			fmt.Printf("Step %d completed; job is now %s at step %d.\n", res.Step.StepNumber, res.JobStatus, res.JobCurrentStep)
		}
		return nil
	},
}

// -- leads retry --

var leadsRetryCmd = &cobra.Command{
	Use:   "retry <job-id> <lead-id>...",
	Short: "Requeue failed leads at their current step",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stepNumber, _ := cmd.Flags().GetInt("step")

		res, err := env.Engine.RetryFailed(ctx, args[0], stepNumber, args[1:])
		if err != nil {
			return eris.Wrap(err, "leads retry")
		}

		fmt.Printf("Requeued %d leads at step %d.\n", res.Retried, res.Step.StepNumber)
		return nil
	},
}

// -- leads extract --

var leadsExtractCmd = &cobra.Command{
	Use:   "extract <job-id> [lead-id]...",
	Short: "Trigger extraction for a step",
	Long:  "Dispatches extraction work for the given leads, or a listing search when the first step has no leads yet. With an in-process worker the command blocks until extraction finishes.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stepNumber, _ := cmd.Flags().GetInt("step")

		ack, err := env.Engine.TriggerExtraction(ctx, args[0], stepNumber, args[1:])
		if err != nil {
			return eris.Wrap(err, "leads extract")
		}

		if ack.Search {
			fmt.Printf("Dispatched listing search %s.\n", ack.DispatchID)
		} else {
			fmt.Printf("Dispatched extraction %s for %d leads.\n", ack.DispatchID, ack.LeadCount)
		}

		if env.Pool != nil {
			env.Pool.Drain()
			fmt.Println("Extraction finished.")
		}
		return nil
	},
}

// -- leads delete --

var leadsDeleteCmd = &cobra.Command{
	Use:   "delete <job-id> <lead-id>...",
	Short: "Permanently delete leads from a job",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return eris.New("leads delete is irreversible; re-run with --yes to confirm")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Engine.DeleteLeads(ctx, args[0], args[1:])
		if err != nil {
			return eris.Wrap(err, "leads delete")
		}

		fmt.Printf("Deleted %d leads; counters adjusted on %d steps.\n", res.Deleted, len(res.Steps))
		return nil
	},
}

// -- leads convert --

var leadsConvertCmd = &cobra.Command{
	Use:   "convert <lead-id> <restaurant-id>",
	Short: "Mark a lead as converted to a restaurant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		lead, err := env.Engine.MarkConverted(ctx, args[0], args[1])
		if err != nil {
			return eris.Wrap(err, "leads convert")
		}

		fmt.Printf("Lead %s (%s) converted to restaurant %s.\n", lead.ID, lead.RestaurantName, args[1])
		return nil
	},
}

// -- leads import --

var leadsImportCmd = &cobra.Command{
	Use:   "import <job-id> <csv-file>",
	Short: "Bulk import leads from a CSV file",
	Long:  "Imports externally sourced leads into a job's first step from a CSV with header name,city,cuisine,phone,email,address,website. Rows already imported refresh in place; new rows count toward the step's received leads.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		candidates, err := readLeadCSV(args[1])
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Fprintln(os.Stderr, "No rows to import.")
			return nil
		}

		res, err := env.Engine.ImportLeads(ctx, args[0], candidates)
		if err != nil {
			return eris.Wrap(err, "leads import")
		}

		fmt.Printf("Imported %d leads into job %s (%d refreshed).\n", res.Imported, args[0], res.Refreshed)
		return nil
	},
}

func init() {
	leadsListCmd.Flags().Int("step", 1, "step number to view")
	leadsListCmd.Flags().String("status", "", "filter by resolved display status (available, processing, failed, passed)")
	leadsListCmd.Flags().String("duplicates", "", "filter duplicates (true or false)")
	leadsListCmd.Flags().Int("limit", 100, "max number of leads to display")

	leadsPassCmd.Flags().Int("step", 1, "step number the leads are viewed at")
	leadsRetryCmd.Flags().Int("step", 1, "step number the leads failed at")
	leadsExtractCmd.Flags().Int("step", 1, "step number to extract")
	leadsDeleteCmd.Flags().Bool("yes", false, "confirm permanent deletion")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsPassCmd)
	leadsCmd.AddCommand(leadsRetryCmd)
	leadsCmd.AddCommand(leadsExtractCmd)
	leadsCmd.AddCommand(leadsDeleteCmd)
	leadsCmd.AddCommand(leadsConvertCmd)
	leadsCmd.AddCommand(leadsImportCmd)
	rootCmd.AddCommand(leadsCmd)
}

// formatLeadList writes a tabular list of lead views to out.
func formatLeadList(out io.Writer, views []engine.LeadView) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCITY\tSTATUS\tSTEP\tDUP\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t----\t---\t-------")

	for _, v := range views {
		name := v.RestaurantName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		dup := ""
		if v.IsDuplicate {
			dup = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(v.ID),
			name,
			v.City,
			v.DisplayStatus,
			v.CurrentStep,
			dup,
			v.CreatedAt.Format(time.DateTime),
		)
	}
	_ = w.Flush()
}

// readLeadCSV parses an import file into candidate leads. Column order
// is fixed; the header row is skipped. Validation happens in the engine,
// which also fills a missing city from the job.
func readLeadCSV(path string) ([]engine.CandidateLead, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = 7

	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	if len(records) > 0 && strings.EqualFold(records[0][0], "name") {
		records = records[1:]
	}

	candidates := make([]engine.CandidateLead, 0, len(records))
	for _, rec := range records {
		c := engine.CandidateLead{
			RestaurantName: strings.TrimSpace(rec[0]),
			City:           strings.TrimSpace(rec[1]),
			Phone:          strings.TrimSpace(rec[3]),
			Email:          strings.TrimSpace(rec[4]),
			Address:        strings.TrimSpace(rec[5]),
			Website:        strings.TrimSpace(rec[6]),
		}
		if cs := strings.TrimSpace(rec[2]); cs != "" {
			c.Cuisine = strings.Split(cs, ";")
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}
