package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"marketsim/internal/replay"
	"marketsim/internal/store"
	"marketsim/internal/tradelog"
)

func newReplayCmd(app *App) *cobra.Command {
	var (
		cash   float64
		equity float64
		trades int
	)

	cmd := &cobra.Command{
		Use:   "replay <log.json>",
		Short: "Re-simulate a trade log and show its outcome",
		Long: `Replay a sealed trade log from its season seed and print the final
portfolio. Pass --cash, --equity or --trades to check a claimed result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			p, err := tradelog.Load(args[0])
			if err != nil {
				return err
			}

			var claim replay.Claim
			if cmd.Flags().Changed("cash") {
				claim.FinalCash = &cash
			}
			if cmd.Flags().Changed("equity") {
				claim.FinalEquity = &equity
			}
			if cmd.Flags().Changed("trades") {
				claim.TradeCount = &trades
			}

			res, err := app.verifier(nil).Verify(cmd.Context(), p, claim)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
				return res.Err()
			}
			renderResult(output, args[0], res)
			return res.Err()
		},
	}

	cmd.Flags().Float64Var(&cash, "cash", 0, "claimed final cash")
	cmd.Flags().Float64Var(&equity, "equity", 0, "claimed final equity")
	cmd.Flags().IntVar(&trades, "trades", 0, "claimed trade count")

	return cmd
}

func newVerifyCmd(app *App) *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "verify <submission.json>...",
		Short: "Verify submitted sessions in parallel",
		Long: `Verify one or more submissions. A submission is either a bare trade log
or {"payload": <log>, "claim": {"finalCash": .., "finalEquity": .., "tradeCount": ..}}.
Exits non-zero when any submission fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			subs := make([]replay.Submission, 0, len(args))
			for _, path := range args {
				sub, err := loadSubmission(path)
				if err != nil {
					return err
				}
				subs = append(subs, sub)
			}

			rep, err := app.verifier(nil).VerifyBatch(cmd.Context(), subs)
			if err != nil {
				return err
			}

			if save {
				st, err := app.openStore()
				if err != nil {
					return err
				}
				for _, res := range rep.Results {
					if err := st.SaveVerification(cmd.Context(), store.NewVerification("", res)); err != nil {
						return err
					}
				}
			}

			if output.IsJSON() {
				if err := output.JSON(rep); err != nil {
					return err
				}
			} else {
				renderReport(output, args, rep)
			}

			if rep.Failed > 0 {
				return fmt.Errorf("%d of %d submissions failed verification", rep.Failed, rep.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "record verdicts in the store")

	return cmd
}

func newValidateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <log.json>",
		Short: "Check a trade log without replaying it",
		Long:  "Check the engine version, checksum and every entry of a trade log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			p, err := tradelog.Load(args[0])
			if err != nil {
				return err
			}

			replayable, verr := tradelog.IsReplayable(p.Meta.EngineVersion, app.Config.Replay.MinSupportedVersion)
			checksumOK := tradelog.VerifyChecksum(p)
			entryErrs := tradelog.ValidateWithLimit(p, app.Config.Execution.QuantityLimit())

			if output.IsJSON() {
				if err := output.JSON(map[string]interface{}{
					"engineVersion": p.Meta.EngineVersion,
					"replayable":    replayable && verr == nil,
					"checksumValid": checksumOK,
					"entries":       len(p.TradeLogs),
					"entryErrors":   entryErrs,
				}); err != nil {
					return err
				}
			} else {
				output.Bold("Trade log %s", args[0])
				output.Printf("  Season:   %s\n", p.Meta.SeasonID)
				output.Printf("  Entries:  %d over %d ticks\n", len(p.TradeLogs), p.Meta.TotalTicks)
				printCheck(output, "Engine version "+p.Meta.EngineVersion, replayable && verr == nil)
				printCheck(output, "Checksum", checksumOK)
				printCheck(output, "Entries", len(entryErrs) == 0)
				if len(entryErrs) > 0 {
					table := NewTable(output, "INDEX", "CODE", "DETAIL")
					for _, e := range entryErrs {
						table.AddRow(strconv.Itoa(e.Index), e.Code, e.Message)
					}
					table.Render()
				}
			}

			if !(replayable && verr == nil) || !checksumOK || len(entryErrs) > 0 {
				return fmt.Errorf("trade log %s is not valid", args[0])
			}
			return nil
		},
	}
}

// loadSubmission accepts a wrapped submission or a bare payload.
func loadSubmission(path string) (replay.Submission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return replay.Submission{}, fmt.Errorf("reading submission: %w", err)
	}

	var sub replay.Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return replay.Submission{}, fmt.Errorf("parsing submission %s: %w", path, err)
	}
	if sub.Payload != nil {
		return sub, nil
	}

	p, err := tradelog.Decode(bytes.NewReader(data))
	if err != nil {
		return replay.Submission{}, fmt.Errorf("%s: %w", path, err)
	}
	return replay.Submission{Payload: p}, nil
}

func printCheck(output *Output, label string, ok bool) {
	if ok {
		output.Printf("  %s %s\n", output.Green("ok  "), label)
	} else {
		output.Printf("  %s %s\n", output.Red("FAIL"), label)
	}
}

func renderResult(output *Output, name string, res *replay.Result) {
	output.Printf("%s  %s  (%s)\n", output.Verdict(res.Code), name, FormatDuration(res.Duration))
	if res.Message != "" {
		output.Dim("  %s", res.Message)
	}
	if res.Outcome != nil {
		output.Printf("  Ticks:  %d\n", res.Outcome.Ticks)
		output.Printf("  Trades: %d\n", res.Outcome.TradeCount)
		output.Printf("  Cash:   %s\n", FormatValue(res.Outcome.Cash))
		output.Printf("  Equity: %s\n", FormatValue(res.Outcome.Equity))
	}
	if len(res.Divergences) > 0 {
		table := NewTable(output, "FIELD", "CLAIMED", "REPLAYED")
		for _, d := range res.Divergences {
			table.AddRow(d.Field, d.Expected, d.Actual)
		}
		table.Render()
	}
	for _, e := range res.EntryErrors {
		output.Dim("  entry %d: %s %s", e.Index, e.Code, e.Message)
	}
}

func renderReport(output *Output, names []string, rep *replay.Report) {
	table := NewTable(output, "SUBMISSION", "SEASON", "RESULT", "TIME", "DETAIL")
	for i, res := range rep.Results {
		table.AddRow(
			names[i],
			TruncateString(res.SeasonID, 24),
			output.Verdict(res.Code),
			FormatDuration(res.Duration),
			TruncateString(res.Message, 48),
		)
	}
	table.Render()
	output.Println()

	codes := make([]string, 0, len(rep.ByCode))
	for code := range rep.ByCode {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	lines := []string{
		fmt.Sprintf("Total:    %d", rep.Total),
		fmt.Sprintf("Verified: %d", rep.Verified),
		fmt.Sprintf("Failed:   %d", rep.Failed),
	}
	for _, code := range codes {
		lines = append(lines, fmt.Sprintf("  %-16s %d", code, rep.ByCode[code]))
	}
	output.Box("Verification Report", lines)
}
