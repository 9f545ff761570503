package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"marketsim/internal/execution"
	"marketsim/internal/fixedpoint"
	"marketsim/internal/metrics"
	"marketsim/internal/notify"
	"marketsim/internal/resilience"
	"marketsim/internal/simulation"
	"marketsim/internal/store"
	"marketsim/internal/stream"
	"marketsim/internal/tradelog"
)

type simulateResult struct {
	SessionID string             `json:"sessionId"`
	SeasonID  string             `json:"seasonId"`
	Outcome   simulation.Outcome `json:"outcome"`
	Checksum  string             `json:"checksum"`
	LogPath   string             `json:"logPath,omitempty"`
	Saved     bool               `json:"saved"`
	Payload   *tradelog.Payload  `json:"payload,omitempty"`

	NotificationsDropped int                              `json:"notificationsDropped,omitempty"`
	Sinks                []resilience.CircuitBreakerStats `json:"sinks,omitempty"`
}

func newSimulateCmd(app *App) *cobra.Command {
	var (
		season      string
		ticks       int
		interval    time.Duration
		outPath     string
		scriptPath  string
		metricsAddr string
		save        bool
		interactive bool
		watch       []string
		streamAddr  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a trading session",
		Long: `Run a seeded trading session and write its sealed trade log.

Intents come from a script (a JSON array of trade log entries, each applied
at its tick) or, with --interactive, from stdin one per line:

  BUY 1 10                 market buy of 10 units of instrument 1
  SELL 2 5 limit 35500     limit sell
  SHORT 14 3 stopLoss 90   stop-loss short
  COVER 14 3`,
		Example: `  marketsim simulate --season season-2026-10 --ticks 720 --interval 0 --out session.json
  marketsim simulate --script intents.json --save
  marketsim simulate --interactive --interval 500ms
  marketsim simulate --interval 1s --watch SMSG,BTC --stream-addr :8090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := app.Config

			if !cmd.Flags().Changed("ticks") {
				ticks = cfg.Simulation.TotalTicks
			}
			if !cmd.Flags().Changed("interval") {
				interval = cfg.Simulation.TickInterval
			}
			if ticks <= 0 {
				return fmt.Errorf("--ticks must be positive")
			}

			var script []tradelog.Entry
			if scriptPath != "" {
				var err error
				if script, err = loadScript(scriptPath); err != nil {
					return err
				}
			}

			opts := simulation.OptionsFromConfig(cfg)
			if season != "" {
				opts.SeasonID = season
			}
			sim := simulation.New(opts)

			notifier, err := notify.FromConfig(cfg, app.Logger)
			if err != nil {
				return err
			}
			defer notifier.Close()
			notifier.SetSession(sim.SessionID)

			var rec *metrics.Recorder
			if metricsAddr == "" && cfg.Metrics.Enabled {
				metricsAddr = cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				rec = metrics.New()
				mux := http.NewServeMux()
				mux.Handle("/metrics", rec.Handler())
				stop := app.serveHTTP("metrics", metricsAddr, mux)
				defer stop()
			}

			var hub *stream.Hub
			var watchers sync.WaitGroup
			if len(watch) > 0 || streamAddr != "" {
				hub = stream.NewHub()
			}
			if len(watch) > 0 {
				if err := watchQuotes(hub, sim, watch, cmd.ErrOrStderr(), &watchers); err != nil {
					return err
				}
				app.Logger.Debug().Strs("codes", hub.SubscribedCodes()).Msg("watching quotes")
			}
			if hub != nil {
				hub.Start(cmd.Context())
			}
			if streamAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/quotes", stream.WebSocketHandler(hub, app.Logger))
				stop := app.serveHTTP("quote stream", streamAddr, mux)
				defer stop()
			}

			feed := newScriptFeed(script)
			feed.submitThrough(sim, 1, app)

			var trades []*execution.Trade
			runner := simulation.NewRunner(sim,
				simulation.WithInterval(interval),
				simulation.WithTotalTicks(ticks),
				simulation.WithNotifier(notifier),
				simulation.WithNotifyQueue(cfg.Notifications.QueueSize, cfg.Notifications.DrainWait),
				simulation.WithMetrics(rec),
				simulation.WithLogger(app.Logger),
				simulation.WithStepHook(func(res simulation.StepResult) {
					trades = append(trades, res.Trades...)
					feed.submitThrough(sim, res.Tick+1, app)
					if hub != nil {
						hub.PublishAll(stream.QuotesOf(res.Tick, sim.Instruments))
					}
				}),
			)

			if interactive {
				go readIntents(cmd.Context(), cmd.InOrStdin(), runner.Intents(), cmd.ErrOrStderr())
			}

			payload := runner.Run(cmd.Context())
			out := sim.Outcome()
			if hub != nil {
				hub.Stop()
				watchers.Wait()
			}

			result := simulateResult{
				SessionID: sim.SessionID,
				SeasonID:  sim.SeasonID,
				Outcome:   out,
				Checksum:  payload.Checksum,

				NotificationsDropped: runner.Dropped(),
				Sinks:                notifier.Stats(),
			}

			if outPath != "" {
				if err := tradelog.Save(outPath, payload); err != nil {
					return err
				}
				result.LogPath = outPath
			} else if output.IsJSON() {
				result.Payload = payload
			}

			if save {
				if err := saveSession(cmd, app, sim.SessionID, payload, out, trades); err != nil {
					return err
				}
				result.Saved = true
			}

			if output.IsJSON() {
				return output.JSON(result)
			}

			renderInstruments(output, sim)
			output.Println()
			renderOutcome(output, result, fixedpoint.FromInt(opts.InitialCapital))
			renderDelivery(output, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&season, "season", "", "season id seeding the market (default: config, else random)")
	cmd.Flags().IntVar(&ticks, "ticks", 0, "number of ticks to run (default: config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "wall-clock time per tick, 0 runs flat out (default: config)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the sealed trade log to this file")
	cmd.Flags().StringVar(&scriptPath, "script", "", "JSON file of trade log entries to apply")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&streamAddr, "stream-addr", "", "serve live quotes over websocket at /quotes on this address")
	cmd.Flags().BoolVar(&save, "save", false, "persist the session and its fills to the store")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "read intents from stdin while the session runs")
	cmd.Flags().StringSliceVarP(&watch, "watch", "w", nil, "stream quotes for these instrument codes to stderr (\"*\" for all)")

	return cmd
}

func saveSession(cmd *cobra.Command, app *App, id string, p *tradelog.Payload, out simulation.Outcome, trades []*execution.Trade) error {
	st, err := app.openStore()
	if err != nil {
		return err
	}
	if err := st.SaveSession(cmd.Context(), store.NewSession(id, p, out)); err != nil {
		return err
	}
	return st.SaveTrades(cmd.Context(), id, trades)
}

// watchQuotes subscribes to each code and prints its quotes to w until the
// hub stops.
func watchQuotes(hub *stream.Hub, sim *simulation.Context, codes []string, w io.Writer, wg *sync.WaitGroup) error {
	known := make(map[string]bool, len(sim.Instruments))
	for _, inst := range sim.Instruments {
		known[inst.Code] = true
	}

	normalized := make([]string, len(codes))
	for i, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != stream.All && !known[code] {
			return fmt.Errorf("unknown instrument code %q", code)
		}
		normalized[i] = code
	}

	var mu sync.Mutex
	for _, code := range normalized {
		ch := hub.Subscribe(code)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for q := range ch {
				mu.Lock()
				quoteColor(q).Fprintf(w, "t=%-5d %-8s %14s %8s\n", q.Tick, q.Code, FormatPrice(q.Price), FormatPercent(q.ChangePct()))
				mu.Unlock()
			}
		}()
	}
	return nil
}

var (
	quoteUp     = color.New(color.FgGreen)
	quoteDown   = color.New(color.FgRed)
	quoteFlat   = color.New(color.Reset)
	quoteHalted = color.New(color.FgYellow, color.Faint)
)

// quoteColor picks the watch-line color. color.NoColor turns it off when
// stdout is not a terminal.
func quoteColor(q stream.Quote) *color.Color {
	switch change := q.ChangePct(); {
	case q.Halted:
		return quoteHalted
	case change > 0:
		return quoteUp
	case change < 0:
		return quoteDown
	default:
		return quoteFlat
	}
}

// loadScript reads a JSON array of entries and orders it by tick.
func loadScript(path string) ([]tradelog.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	var entries []tradelog.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing script %s: %w", path, err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Tick < entries[j].Tick })
	return entries, nil
}

// scriptFeed hands scripted entries to the simulation just before the tick
// they are stamped with.
type scriptFeed struct {
	entries []tradelog.Entry
	next    int
}

func newScriptFeed(entries []tradelog.Entry) *scriptFeed {
	return &scriptFeed{entries: entries}
}

func (f *scriptFeed) submitThrough(sim *simulation.Context, tick int, app *App) {
	for f.next < len(f.entries) && f.entries[f.next].Tick <= tick {
		e := f.entries[f.next]
		f.next++
		if err := sim.Submit(e); err != nil {
			app.Logger.Warn().Err(err).Int("tick", e.Tick).Msg("script entry refused")
		}
	}
}

// readIntents parses stdin lines into intents until EOF or cancellation.
func readIntents(ctx context.Context, r io.Reader, intents chan<- tradelog.Entry, errw io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseIntent(line)
		if err != nil {
			fmt.Fprintf(errw, "ignored %q: %v\n", line, err)
			continue
		}
		select {
		case intents <- e:
		case <-ctx.Done():
			return
		}
	}
}

// parseIntent reads "SIDE INSTRUMENT QTY [ORDERTYPE PRICE]".
func parseIntent(line string) (tradelog.Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 && len(fields) != 5 {
		return tradelog.Entry{}, fmt.Errorf("want SIDE INSTRUMENT QTY [ORDERTYPE PRICE]")
	}

	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return tradelog.Entry{}, fmt.Errorf("instrument id: %w", err)
	}
	qty, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return tradelog.Entry{}, fmt.Errorf("quantity: %w", err)
	}

	e := tradelog.Entry{
		Type:      strings.ToUpper(fields[0]),
		StockID:   id,
		Quantity:  qty,
		OrderType: string(execution.OrderMarket),
	}
	if len(fields) == 5 {
		price, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return tradelog.Entry{}, fmt.Errorf("price: %w", err)
		}
		e.OrderType = fields[3]
		e.LimitPrice = &price
	}
	if _, err := e.Order(); err != nil {
		return tradelog.Entry{}, err
	}
	return e, nil
}

func renderInstruments(output *Output, sim *simulation.Context) {
	table := NewTable(output, "ID", "CODE", "KIND", "SECTOR", "PRICE", "DAY")
	for _, inst := range sim.Instruments {
		change := 0.0
		if inst.DailyOpen > 0 {
			change = (inst.Price - inst.DailyOpen) / inst.DailyOpen * 100
		}
		price := FormatPrice(inst.Price)
		if inst.Halted {
			price += " " + output.Yellow("halted")
		}
		table.AddRow(
			strconv.Itoa(inst.ID),
			inst.Code,
			string(inst.Kind),
			string(inst.Sector),
			price,
			output.FormatChange(change),
		)
	}
	table.Render()
}

func renderOutcome(output *Output, res simulateResult, capital fixedpoint.Value) {
	out := res.Outcome
	pnl := fixedpoint.Sub(out.Equity, capital)

	lines := []string{
		fmt.Sprintf("Session:  %s", res.SessionID),
		fmt.Sprintf("Season:   %s", res.SeasonID),
		fmt.Sprintf("Ticks:    %d", out.Ticks),
		fmt.Sprintf("Trades:   %d (%d pending)", out.TradeCount, out.Pending),
		fmt.Sprintf("Cash:     %s", FormatValue(out.Cash)),
		fmt.Sprintf("Equity:   %s", FormatValue(out.Equity)),
		fmt.Sprintf("P&L:      %s", output.ColoredString(changeColor(pnl.Float()), FormatPnL(pnl))),
		fmt.Sprintf("Checksum: %s", TruncateString(res.Checksum, 19)),
	}
	if res.LogPath != "" {
		lines = append(lines, fmt.Sprintf("Log:      %s", res.LogPath))
	}
	if res.Saved {
		lines = append(lines, "Saved:    yes")
	}
	output.Box("Session Summary", lines)
}

// renderDelivery reports notification sinks that lost or failed events.
func renderDelivery(output *Output, res simulateResult) {
	if res.NotificationsDropped > 0 {
		output.Warning("%d notifications dropped, the send queue was full", res.NotificationsDropped)
	}
	for _, st := range res.Sinks {
		if st.TotalFailures == 0 && st.TotalRejected == 0 {
			continue
		}
		output.Warning("%s sink: %.1f%% of sends failed, %d rejected, circuit %s",
			st.Name, st.FailureRate(), st.TotalRejected, st.State)
	}
}
