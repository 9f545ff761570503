package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"marketsim/internal/execution"
	"marketsim/internal/market"
)

// tradeRow is one fill in a CSV export.
type tradeRow struct {
	SessionID  string `csv:"session_id"`
	TradeID    string `csv:"trade_id"`
	OrderID    string `csv:"order_id"`
	Tick       int    `csv:"tick"`
	Instrument int    `csv:"instrument_id"`
	Code       string `csv:"code"`
	Side       string `csv:"side"`
	OrderType  string `csv:"order_type"`
	Quantity   int64  `csv:"quantity"`
	Price      string `csv:"price"`
	Fee        string `csv:"fee"`
	Profit     string `csv:"profit"`
}

func tradeRows(sessionID string, trades []execution.Trade) []*tradeRow {
	codes := make(map[int]string)
	for _, inst := range market.DefaultCatalog() {
		codes[inst.ID] = inst.Code
	}

	rows := make([]*tradeRow, len(trades))
	for i, t := range trades {
		rows[i] = &tradeRow{
			SessionID:  sessionID,
			TradeID:    t.ID,
			OrderID:    t.OrderID,
			Tick:       t.Tick,
			Instrument: t.InstrumentID,
			Code:       codes[t.InstrumentID],
			Side:       string(t.Side),
			OrderType:  string(t.OrderType),
			Quantity:   t.Quantity,
			Price:      t.Price.String(),
			Fee:        t.Fee.String(),
			Profit:     t.Profit.String(),
		}
	}
	return rows
}

func writeTradesCSV(w io.Writer, sessionID string, trades []execution.Trade) error {
	return gocsv.Marshal(tradeRows(sessionID, trades), w)
}

func newSessionsExportCmd(app *App) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export a session's fills as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if out == "" || out == "-" {
				return writeTradesCSV(cmd.OutOrStdout(), sess.ID, trades)
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := writeTradesCSV(f, sess.ID, trades); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			NewOutput(cmd).Success("Exported %d fills to %s", len(trades), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	return cmd
}
