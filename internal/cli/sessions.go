package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"marketsim/internal/execution"
	"marketsim/internal/fixedpoint"
	"marketsim/internal/replay"
	"marketsim/internal/store"
)

func newSessionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Browse stored sessions and verdicts",
	}

	cmd.AddCommand(newSessionsListCmd(app))
	cmd.AddCommand(newSessionsShowCmd(app))
	cmd.AddCommand(newSessionsVerifyCmd(app))
	cmd.AddCommand(newSessionsVerificationsCmd(app))
	cmd.AddCommand(newSessionsExportCmd(app))

	return cmd
}

func newSessionsListCmd(app *App) *cobra.Command {
	var filter store.SessionFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.openStore()
			if err != nil {
				return err
			}

			sessions, err := st.ListSessions(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(sessions)
			}
			if len(sessions) == 0 {
				output.Dim("No sessions stored")
				return nil
			}

			table := NewTable(output, "ID", "SEASON", "TICKS", "TRADES", "EQUITY", "CREATED")
			for _, s := range sessions {
				table.AddRow(
					s.ID,
					TruncateString(s.SeasonID, 24),
					strconv.Itoa(s.TotalTicks),
					strconv.Itoa(s.TradeCount),
					FormatValue(fixedpoint.Value(s.FinalEquity)),
					FormatDateTime(s.CreatedAt),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.SeasonID, "season", "", "only sessions of this season")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of sessions")

	return cmd
}

func newSessionsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its fills",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.openStore()
			if err != nil {
				return err
			}

			sess, err := st.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			trades, err := st.GetTrades(cmd.Context(), sess.ID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"session": sess,
					"trades":  trades,
				})
			}

			output.Box("Session "+sess.ID, []string{
				fmt.Sprintf("Season:   %s", sess.SeasonID),
				fmt.Sprintf("Engine:   %s", sess.EngineVersion),
				fmt.Sprintf("Ticks:    %d", sess.TotalTicks),
				fmt.Sprintf("Trades:   %d", sess.TradeCount),
				fmt.Sprintf("Cash:     %s", FormatValue(fixedpoint.Value(sess.FinalCash))),
				fmt.Sprintf("Equity:   %s", FormatValue(fixedpoint.Value(sess.FinalEquity))),
				fmt.Sprintf("Checksum: %s", TruncateString(sess.Checksum, 19)),
				fmt.Sprintf("Created:  %s", FormatDateTime(sess.CreatedAt)),
			})
			if len(trades) == 0 {
				return nil
			}

			output.Println()
			renderTrades(output, trades)
			return nil
		},
	}
}

func renderTrades(output *Output, trades []execution.Trade) {
	table := NewTable(output, "TICK", "SIDE", "TYPE", "INSTRUMENT", "QTY", "PRICE", "FEE", "P&L")
	for _, t := range trades {
		pnl := ""
		if t.Profit != 0 {
			pnl = output.ColoredString(changeColor(t.Profit.Float()), FormatPnL(t.Profit))
		}
		table.AddRow(
			strconv.Itoa(t.Tick),
			string(t.Side),
			string(t.OrderType),
			strconv.Itoa(t.InstrumentID),
			strconv.FormatInt(t.Quantity, 10),
			FormatValue(t.Price),
			FormatValue(t.Fee),
			pnl,
		)
	}
	table.Render()
}

func newSessionsVerifyCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <session-id>",
		Short: "Replay a stored session against its recorded outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.openStore()
			if err != nil {
				return err
			}

			sess, err := st.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cash := fixedpoint.Value(sess.FinalCash).Float()
			equity := fixedpoint.Value(sess.FinalEquity).Float()
			trades := sess.TradeCount
			claim := replay.Claim{FinalCash: &cash, FinalEquity: &equity, TradeCount: &trades}

			res, err := app.verifier(nil).Verify(cmd.Context(), sess.Payload, claim)
			if err != nil {
				return err
			}
			if err := st.SaveVerification(cmd.Context(), store.NewVerification(sess.ID, res)); err != nil {
				return err
			}

			if output.IsJSON() {
				if err := output.JSON(res); err != nil {
					return err
				}
				return res.Err()
			}
			renderResult(output, sess.ID, res)
			return res.Err()
		},
	}
}

func newSessionsVerificationsCmd(app *App) *cobra.Command {
	var filter store.VerificationFilter

	cmd := &cobra.Command{
		Use:   "verifications",
		Short: "List recorded verdicts with per-code totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.openStore()
			if err != nil {
				return err
			}

			verifications, err := st.GetVerifications(cmd.Context(), filter)
			if err != nil {
				return err
			}
			stats, err := st.VerificationStats(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"verifications": verifications,
					"stats":         stats,
				})
			}

			if len(verifications) == 0 {
				output.Dim("No verifications recorded")
				return nil
			}

			table := NewTable(output, "SESSION", "SEASON", "RESULT", "TIME", "DETAIL", "AT")
			for _, v := range verifications {
				table.AddRow(
					orDash(v.SessionID),
					TruncateString(v.SeasonID, 24),
					output.Verdict(v.Code),
					FormatDuration(v.Duration),
					TruncateString(v.Message, 40),
					FormatDateTime(v.CreatedAt),
				)
			}
			table.Render()
			output.Println()

			codes := make([]string, 0, len(stats))
			for code := range stats {
				codes = append(codes, code)
			}
			sort.Strings(codes)
			lines := make([]string, 0, len(codes))
			for _, code := range codes {
				lines = append(lines, fmt.Sprintf("%-16s %d", code, stats[code]))
			}
			output.Box("All Verdicts", lines)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.SessionID, "session", "", "only verdicts for this session")
	cmd.Flags().StringVar(&filter.SeasonID, "season", "", "only verdicts for this season")
	cmd.Flags().StringVar(&filter.Code, "code", "", "only verdicts with this result code")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of verdicts")

	return cmd
}
