package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/warp/attendance-engine/allowance"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/calendar"
)

var (
	runMonth  string
	runDriver int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute one month",
	Long:  `Compute and store the summaries of one month, for every driver or for one.`,
	Example: `  attendance-engine run --month 2025-12
  attendance-engine run --month 2025-12 --driver 42`,
	RunE: runRun,
}

var continuationCmd = &cobra.Command{
	Use:     "continuation",
	Short:   "Compare a month's stored carry-over with a replay from raw operations",
	Example: `  attendance-engine continuation --driver 42 --month 2025-11`,
	RunE:    runContinuation,
}

func init() {
	runCmd.Flags().StringVar(&runMonth, "month", "", "Month to compute, YYYY-MM (required)")
	runCmd.Flags().Int64Var(&runDriver, "driver", 0, "Only this driver")
	runCmd.MarkFlagRequired("month")

	continuationCmd.Flags().StringVar(&runMonth, "month", "", "Month to check, YYYY-MM (required)")
	continuationCmd.Flags().Int64Var(&runDriver, "driver", 0, "Driver to check (required)")
	continuationCmd.MarkFlagRequired("month")
	continuationCmd.MarkFlagRequired("driver")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(continuationCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ym, err := calendar.ParseYearMonth(runMonth)
	if err != nil {
		return err
	}

	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	var drivers []int64
	if runDriver != 0 {
		drivers = append(drivers, runDriver)
	}
	report, err := a.pipeline.RunMonth(cmd.Context(), ym, drivers...)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DRIVER\tSAVED\tFINAL\tLIVESTOCK\tTRAILER\tRESTRAINT\tERROR")
	for _, res := range report.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "%d\t-\t-\t-\t-\t-\t%v\n", res.DriverID, res.Err)
			continue
		}
		sum := res.Outcome.Summary
		fmt.Fprintf(w, "%d\t%s\t%t\t%d\t%d\t%s\t\n",
			res.DriverID, res.Outcome.Saved, sum.IsFinal(),
			sum.Allowance(allowance.Livestock).Days, sum.Allowance(allowance.Trailer).Days,
			attendance.FormatHHMM(sum.Totals().Restraint))
	}
	w.Flush()

	fmt.Printf("\n%s: %d succeeded, %d failed, %d provisional\n",
		ym, report.Succeeded(), report.Failed(), report.Provisional())
	if report.Failed() > 0 {
		return fmt.Errorf("%d driver-months failed", report.Failed())
	}
	return nil
}

func runContinuation(cmd *cobra.Command, args []string) error {
	ym, err := calendar.ParseYearMonth(runMonth)
	if err != nil {
		return err
	}

	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	check, err := a.pipeline.CheckContinuation(cmd.Context(), runDriver, ym)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALLOWANCE\tCARRIED\tREPLAYED")
	for _, t := range allowance.Types() {
		carried := "(none)"
		if st, ok := check.Carried[t]; ok && st != nil {
			carried = st.String()
		}
		replayed := check.Replayed[t].String()
		if check.Truncated[t] {
			replayed += " (run starts before the lookback)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t, carried, replayed)
	}
	w.Flush()

	if !check.Consistent {
		return fmt.Errorf("carry-over of driver %d at %s does not match a replay", runDriver, ym.Last())
	}
	fmt.Println("\nconsistent")
	return nil
}
