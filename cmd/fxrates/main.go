package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
	"github.com/dalfonso89/currency-dashboard/internal/models"
	"github.com/dalfonso89/currency-dashboard/internal/normalize"
	"github.com/dalfonso89/currency-dashboard/internal/platform"
	"github.com/dalfonso89/currency-dashboard/internal/service"
)

const usage = `Usage: fxrates [flags] <command>

Commands:
  rates       latest rates against --base
  history     daily --target rates against --base for the last --days days
  currencies  supported currencies
  convert     convert --amount of --base into --target
  providers   configured upstream providers

Flags:
`

// options holds the parsed command line
type options struct {
	command string
	base    string
	target  string
	days    int
	amount  string
	search  string
	sort    string
	limit   int
	timeout time.Duration
	verbose bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "configuration: %v\n", err)
		return 1
	}

	log := logger.Discard()
	if opts.verbose {
		log = logger.NewWithWriter("debug", stderr)
	}
	dashboard := service.NewDashboard(cfg, log)

	ctx, stop := platform.NewShutdownContext(context.Background())
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := execute(ctx, dashboard, opts, stdout); err != nil {
		fmt.Fprintf(stderr, "fxrates %s: %v\n", opts.command, err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options

	flags := pflag.NewFlagSet("fxrates", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.base, "base", "b", "USD", "base currency")
	flags.StringVarP(&opts.target, "target", "t", "EUR", "target currency for history and convert")
	flags.IntVarP(&opts.days, "days", "d", 30, "history window in days")
	flags.StringVarP(&opts.amount, "amount", "a", "1", "amount to convert")
	flags.StringVarP(&opts.search, "search", "q", "", "only show currencies containing this text")
	flags.StringVar(&opts.sort, "sort", string(normalize.OrderByCode), "rates order: code or rate")
	flags.IntVarP(&opts.limit, "limit", "n", 0, "maximum rows to print, 0 for all")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log provider activity to stderr")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return opts, fmt.Errorf("expected exactly one command")
	}

	opts.command = flags.Arg(0)
	opts.base = strings.ToUpper(opts.base)
	opts.target = strings.ToUpper(opts.target)
	if opts.limit < 0 {
		return opts, fmt.Errorf("--limit must not be negative")
	}
	if opts.sort != string(normalize.OrderByCode) && opts.sort != string(normalize.OrderByRate) {
		return opts, fmt.Errorf("--sort must be %q or %q", normalize.OrderByCode, normalize.OrderByRate)
	}
	return opts, nil
}

func execute(ctx context.Context, dashboard *service.Dashboard, opts options, stdout io.Writer) error {
	writer := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	switch opts.command {
	case "rates":
		table, err := dashboard.GetSnapshotTable(ctx, opts.base, normalize.FilterOptions{
			Search:      opts.search,
			Order:       normalize.Order(opts.sort),
			Limit:       opts.limit,
			ExcludeBase: true,
		})
		if err != nil {
			return err
		}
		printRates(writer, table)
	case "history":
		if opts.days < 1 || opts.days > dashboard.MaxHistoryDays() {
			return fmt.Errorf("%w: --days must be between 1 and %d", apperrors.ErrValidation, dashboard.MaxHistoryDays())
		}
		table, err := dashboard.GetSeriesTable(ctx, opts.base, opts.target, opts.days)
		if err != nil {
			return err
		}
		printSeries(writer, table)
	case "currencies":
		catalog, fallback := dashboard.GetCatalog(ctx)
		printCatalog(writer, catalog, fallback, opts.search, opts.limit)
	case "convert":
		amount, err := decimal.NewFromString(opts.amount)
		if err != nil {
			return fmt.Errorf("%w: --amount must be a number", apperrors.ErrValidation)
		}
		conversion, err := dashboard.Convert(ctx, opts.base, opts.target, amount)
		if err != nil {
			return err
		}
		printConversion(writer, conversion)
	case "providers":
		fmt.Fprintln(writer, "NAME\tPRIORITY\tAVAILABLE\tFIXED BASE\tRANGE\tERROR")
		for _, status := range dashboard.GetProviderStatus() {
			fmt.Fprintf(writer, "%s\t%d\t%t\t%s\t%t\t%s\n",
				status.Name, status.Priority, status.Available, status.FixedBase, status.SupportsRange, status.Error)
		}
	default:
		return fmt.Errorf("unknown command %q", opts.command)
	}
	return nil
}

func printRates(w io.Writer, table models.RateTable) {
	fmt.Fprintf(w, "Base %s via %s, as of %s\n\n", table.Base, table.Provider, table.AsOf.Format(time.RFC3339))
	fmt.Fprintln(w, "CURRENCY\tRATE")
	for _, row := range table.Rows {
		fmt.Fprintf(w, "%s\t%s\n", row.Currency, formatRate(row.Rate))
	}
}

func printSeries(w io.Writer, table models.TimeSeriesTable) {
	fmt.Fprintf(w, "%s/%s\n\n", table.Base, table.Target)
	fmt.Fprintln(w, "DATE\tRATE")
	for _, row := range table.Rows {
		fmt.Fprintf(w, "%s\t%s\n", row.Date, formatRate(row.Rate))
	}
	if len(table.Missing) > 0 {
		fmt.Fprintf(w, "\nmissing: %s\n", strings.Join(table.Missing, ", "))
	}
}

func printCatalog(w io.Writer, catalog models.CurrencyCatalog, fallback bool, search string, limit int) {
	if fallback {
		fmt.Fprintln(w, "(provider catalog unavailable, showing built-in list)")
	}
	search = strings.ToUpper(search)
	printed := 0
	for _, entry := range normalize.CatalogEntries(catalog) {
		if search != "" && !strings.Contains(strings.ToUpper(entry.Label), search) {
			continue
		}
		if limit > 0 && printed == limit {
			break
		}
		fmt.Fprintf(w, "%s\t%s\n", entry.Code, entry.Name)
		printed++
	}
}

func printConversion(w io.Writer, conversion models.Conversion) {
	fmt.Fprintf(w, "%s %s = %s %s\n", conversion.Amount.String(), conversion.From, conversion.Converted.StringFixed(2), conversion.To)
	fmt.Fprintf(w, "rate\t%s\n", conversion.Rate.String())
	fmt.Fprintf(w, "provider\t%s\n", conversion.Provider)
	fmt.Fprintf(w, "as of\t%s\n", conversion.AsOf.Format(time.RFC3339))
}

func formatRate(rate float64) string {
	return decimal.NewFromFloat(rate).Round(6).String()
}
