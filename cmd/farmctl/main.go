package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"farmtrace/anchoring"
	blockchain "farmtrace/blockchain/client"
	"farmtrace/config"
	"farmtrace/internal/logger"
	"farmtrace/internal/messaging/producer"
	"farmtrace/internal/models"
	"farmtrace/statemachine/journey"
	"farmtrace/statemachine/order"
	"farmtrace/storage/store"
	"farmtrace/tracking"

	"github.com/alecthomas/kong"
)

// Globals are shared by every command.
type Globals struct {
	LedgerConfig string        `help:"Ledger client configuration." default:"./config/client_config.yml" type:"path" name:"ledger-config"`
	Timeout      time.Duration `help:"Bound on each ledger call." default:"30s"`
	LogLevel     string        `help:"Log level." default:"warn" enum:"debug,info,warn,error"`
	JSON         bool          `help:"Print JSON instead of text."`

	out io.Writer      `kong:"-"`
	log *logger.Logger `kong:"-"`
}

// errEphemeralLedger rejects reads that would only ever see this process's empty simulated ledger.
var errEphemeralLedger = errors.New("the simulated ledger starts empty in every process and cannot answer reads; point --ledger-config at a chainmaker or fabric ledger")

func (g *Globals) service() (*anchoring.Service, func(), error) {
	client, cfg, err := blockchain.NewLedgerClientFromFile(g.LedgerConfig, g.log)
	if err != nil {
		return nil, nil, err
	}
	return anchoring.NewService(client, cfg.ExplorerURLTemplate, g.log), func() { _ = client.Close() }, nil
}

// readService builds the service for commands that report ledger state.
func (g *Globals) readService() (*anchoring.Service, func(), error) {
	cfg, err := config.LoadBlockchainConfig(g.LedgerConfig, g.log)
	if err != nil {
		return nil, nil, err
	}
	if blockchain.BlockchainType(cfg.BlockchainType) == blockchain.Simulated {
		return nil, nil, errEphemeralLedger
	}
	return g.service()
}

func (g *Globals) print(v any, text func(w io.Writer)) error {
	if g.JSON {
		enc := json.NewEncoder(g.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(g.out)
	return nil
}

type HashCmd struct {
	BatchID string `arg:"" help:"Batch identifier."`
}

func (c *HashCmd) Run(g *Globals) error {
	h := anchoring.BatchIdentifierHash(c.BatchID)
	return g.print(map[string]string{"batch_id": c.BatchID, "hash": h}, func(w io.Writer) {
		fmt.Fprintln(w, h)
	})
}

type VerifyCmd struct {
	BatchID string `arg:"" help:"Batch identifier."`
}

func (c *VerifyCmd) Run(g *Globals) error {
	svc, done, err := g.readService()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()
	status := svc.CheckOrganicStatus(ctx, c.BatchID)
	if !status.Verified {
		return fmt.Errorf("organic status of %s could not be verified: %w", c.BatchID, status.Err)
	}
	return g.print(map[string]any{
		"batch_id":       c.BatchID,
		"is_organic":     status.IsOrganic,
		"activity_count": status.ActivityCount,
	}, func(w io.Writer) {
		verdict := "NOT ORGANIC"
		if status.IsOrganic {
			verdict = "ORGANIC"
		}
		fmt.Fprintf(w, "%s: %s (%d activities on ledger)\n", c.BatchID, verdict, status.ActivityCount)
	})
}

type HistoryCmd struct {
	BatchID string `arg:"" help:"Batch identifier."`
}

func (c *HistoryCmd) Run(g *Globals) error {
	svc, done, err := g.readService()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()
	records, err := svc.FetchBatchActivities(ctx, c.BatchID)
	if err != nil {
		return err
	}
	return g.print(records, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTYPE\tPRODUCT\tQTY\tORGANIC\tTX\tBLOCK")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
				r.Timestamp.Format(time.RFC3339), r.ActivityType, r.ProductName, r.Quantity, r.IsOrganic, r.TxRef, r.BlockRef)
		}
		tw.Flush()
	})
}

type TotalCmd struct{}

func (c *TotalCmd) Run(g *Globals) error {
	svc, done, err := g.readService()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()
	total := svc.TotalActivities(ctx)
	if !total.Known {
		return total.Err
	}
	return g.print(map[string]uint64{"total_activities": total.Count}, func(w io.Writer) {
		fmt.Fprintln(w, total.String())
	})
}

type JourneyCmd struct {
	State    string `arg:"" optional:"" help:"Current batch state." default:"idle"`
	Activity string `help:"Show where this activity leads."`
}

func (c *JourneyCmd) Run(g *Globals) error {
	state, ok := journey.ParseState(strings.ToLower(c.State))
	if !ok {
		return fmt.Errorf("unknown state %q (known: %s)", c.State, joinStates(journey.States()))
	}
	allowed := journey.AllowedActivities(state)
	out := map[string]any{
		"state":    state,
		"label":    journey.HumanLabel(state),
		"complete": journey.IsComplete(state),
		"allowed":  allowed,
	}
	var next journey.State
	if c.Activity != "" {
		a, ok := journey.ParseActivity(strings.ToUpper(c.Activity))
		if !ok {
			return fmt.Errorf("unknown activity %q", c.Activity)
		}
		next = journey.NextState(state, a)
		out["next"] = next
		out["legal"] = journey.CanDoActivity(state, a)
	}
	return g.print(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s)\n", state, journey.HumanLabel(state))
		if len(allowed) == 0 {
			fmt.Fprintln(w, "no further activities")
		} else {
			names := make([]string, len(allowed))
			for i, a := range allowed {
				names[i] = string(a)
			}
			fmt.Fprintf(w, "allowed: %s\n", strings.Join(names, ", "))
		}
		if c.Activity != "" {
			fmt.Fprintf(w, "%s -> %s\n", strings.ToUpper(c.Activity), next)
		}
	})
}

type OrderCmd struct {
	State string `arg:"" optional:"" help:"Current order state." default:"pending"`
	Event string `help:"Show where this event leads."`
}

func (c *OrderCmd) Run(g *Globals) error {
	state, ok := order.ParseState(strings.ToLower(c.State))
	if !ok {
		return fmt.Errorf("unknown order state %q", c.State)
	}
	out := map[string]any{
		"state":   state,
		"label":   order.HumanLabel(state),
		"final":   order.IsFinalState(state),
		"allowed": order.AllowedEvents(state),
	}
	if c.Event != "" {
		e, ok := order.ParseEvent(strings.ToUpper(c.Event))
		if !ok {
			return fmt.Errorf("unknown order event %q", c.Event)
		}
		out["next"] = order.NextState(state, e)
		out["legal"] = order.CanTransition(state, e)
	}
	return g.print(out, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s) final=%t allowed=%v\n", state, order.HumanLabel(state), order.IsFinalState(state), order.AllowedEvents(state))
		if next, ok := out["next"]; ok {
			fmt.Fprintf(w, "%s -> %s\n", strings.ToUpper(c.Event), next)
		}
	})
}

type AnchorCmd struct {
	BatchID  string  `arg:"" help:"Batch identifier."`
	Activity string  `arg:"" help:"Activity type, e.g. SEEDING."`
	Product  string  `help:"Product name."`
	Quantity float64 `help:"Quantity."`
	Organic  bool    `help:"Mark the activity as organic." negatable:""`
	Evidence string  `help:"Evidence reference, e.g. a photo hash."`
}

func (c *AnchorCmd) Run(g *Globals) error {
	svc, done, err := g.service()
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()
	res := svc.RecordActivity(ctx, c.BatchID, anchoring.ActivityData{
		ActivityType: journey.Activity(strings.ToUpper(c.Activity)),
		ProductName:  c.Product,
		Quantity:     c.Quantity,
		IsOrganic:    c.Organic,
		EvidenceRef:  c.Evidence,
	})
	switch res.Outcome {
	case anchoring.OutcomeConfirmed:
		return g.print(res, func(w io.Writer) {
			fmt.Fprintf(w, "confirmed tx=%s block=%s\n", res.TxRef, res.BlockRef)
			if res.ExplorerURL != "" {
				fmt.Fprintln(w, res.ExplorerURL)
			}
		})
	case anchoring.OutcomeAmbiguous:
		return fmt.Errorf("submitted but not confirmed; check `farmctl history %s` before retrying: %w", c.BatchID, res.Err)
	default:
		return res.Err
	}
}

type EnqueueCmd struct {
	TrackingConfig string   `help:"Tracking service configuration." default:"./config/tracking.defaults.yml" type:"path" name:"tracking-config"`
	BatchID        string   `arg:"" help:"Batch identifier."`
	Activities     []string `arg:"" help:"Activities in order, starting from sowing."`
	Organic        bool     `help:"Mark every activity as organic." default:"true" negatable:""`
}

func (c *EnqueueCmd) Run(g *Globals) error {
	cfg, err := config.LoadTrackingConfig(c.TrackingConfig, g.log)
	if err != nil {
		return err
	}
	if cfg.KafkaProducer.IsMock() {
		return fmt.Errorf("enqueue needs a Kafka broker; %s has none configured", c.TrackingConfig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()
	taskStore, err := store.New(ctx, cfg.Database, g.log)
	if err != nil {
		return err
	}
	defer taskStore.Close()
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaProducer, g.log)
	if err != nil {
		return err
	}
	defer kafkaProducer.Close()

	svc := tracking.NewService(taskStore, kafkaProducer, cfg.BatchProcessor, g.log)
	defer svc.Close()

	batch := models.NewBatch(c.BatchID, models.CropInfo{})
	var receipts []*tracking.Receipt
	for _, name := range c.Activities {
		a, ok := journey.ParseActivity(strings.ToUpper(name))
		if !ok {
			return fmt.Errorf("unknown activity %q", name)
		}
		receipt, err := svc.RecordActivity(ctx, batch, models.Activity{Type: a, IsOrganic: c.Organic})
		if err != nil {
			return err
		}
		receipts = append(receipts, receipt)
	}
	return g.print(receipts, func(w io.Writer) {
		for i, r := range receipts {
			fmt.Fprintf(w, "%s\t%s\t%s\n", strings.ToUpper(c.Activities[i]), r.State, r.RequestID)
		}
	})
}

type CLI struct {
	Globals

	Hash    HashCmd    `cmd:"" help:"Print the ledger key of a batch."`
	Verify  VerifyCmd  `cmd:"" help:"Read a batch's organic status from the ledger."`
	History HistoryCmd `cmd:"" help:"Print a batch's ledger history."`
	Total   TotalCmd   `cmd:"" help:"Print the ledger's global activity count."`
	Journey JourneyCmd `cmd:"" help:"Show the activities allowed from a batch state."`
	Order   OrderCmd   `cmd:"" help:"Show the events allowed from an order state."`
	Anchor  AnchorCmd  `cmd:"" help:"Anchor one activity and wait for confirmation. Against the simulated ledger this is a dry run."`
	Enqueue EnqueueCmd `cmd:"" help:"Queue a batch journey for the anchoring engine."`
}

func joinStates(states []journey.State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func newParser(cli *CLI, out io.Writer) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("farmctl"),
		kong.Description("Inspect and anchor farm batch activities."),
		kong.UsageOnError(),
		kong.Writers(out, os.Stderr),
	)
}

func run(args []string, out io.Writer) error {
	var cli CLI
	parser, err := newParser(&cli, out)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	log, err := logger.New("development", cli.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	cli.out = out
	cli.log = log.Named("farmctl")

	return kctx.Run(&cli.Globals)
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "farmctl: %v\n", err)
		os.Exit(1)
	}
}
