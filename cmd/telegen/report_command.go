package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/langobservatory/telegen/internal/config"
	"github.com/langobservatory/telegen/internal/record"
	"github.com/langobservatory/telegen/internal/store"
)

const (
	defaultReportFormat = "text"
	defaultReportLimit  = 10
	maxReportLimit      = 200
	reportSchemaVersion = "report.v1"
)

type reportDocument struct {
	SchemaVersion string            `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Storage       reportStorageInfo `json:"storage"`
	Filters       reportFilterInfo  `json:"filters"`
	Summary       reportSummaryInfo `json:"summary"`
	Models        []store.ModelStat `json:"models"`
	Recent        []reportTraceInfo `json:"recent_traces"`
}

type reportStorageInfo struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
}

type reportFilterInfo struct {
	Provider string     `json:"provider,omitempty"`
	Model    string     `json:"model,omitempty"`
	Status   string     `json:"status,omitempty"`
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Limit    int        `json:"limit"`
}

type reportSummaryInfo struct {
	TotalRequests     int64   `json:"total_requests"`
	ErrorCount        int64   `json:"error_count"`
	ErrorRate         float64 `json:"error_rate"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalTokens       int64   `json:"total_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
	TopModel          string  `json:"top_model,omitempty"`
}

type reportTraceInfo struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Status      string    `json:"status"`
	TotalTokens int       `json:"total_tokens"`
	CostUSD     float64   `json:"cost_usd"`
	LatencyMS   int       `json:"latency_ms"`
}

func runReport(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("report", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", defaultReportFormat, "Output format: text or json")
	provider := flagSet.String("provider", "", "Provider filter")
	model := flagSet.String("model", "", "Model filter")
	status := flagSet.String("status", "", "Status filter: success, error, or pending")
	fromRaw := flagSet.String("from", "", "Report start time (RFC3339 or YYYY-MM-DD)")
	toRaw := flagSet.String("to", "", "Report end time (RFC3339 or YYYY-MM-DD)")
	limit := flagSet.Int("limit", defaultReportLimit, "Recent trace count (1-200)")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "report does not accept positional arguments")
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("report", *format, defaultReportFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	if *limit <= 0 || *limit > maxReportLimit {
		fmt.Fprintf(errOut, "limit must be between 1 and %d\n", maxReportLimit)
		return 2
	}
	statusFilter, err := parseStatusFilter(*status)
	if err != nil {
		fmt.Fprintf(errOut, "invalid status: %v\n", err)
		return 2
	}

	from, err := parseReportTime(*fromRaw, false)
	if err != nil {
		fmt.Fprintf(errOut, "invalid from: %v\n", err)
		return 2
	}
	to, err := parseReportTime(*toRaw, true)
	if err != nil {
		fmt.Fprintf(errOut, "invalid to: %v\n", err)
		return 2
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		fmt.Fprintln(errOut, "invalid range: to must be greater than or equal to from")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}

	seedStore, err := openSeedStore(cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize seed store: %v\n", err)
		return 1
	}
	defer closeSeedStoreWithWarning(seedStore, errOut)

	filter := store.Filter{
		Provider: strings.TrimSpace(*provider),
		Model:    strings.TrimSpace(*model),
		Status:   statusFilter,
		From:     from,
		To:       to,
		Limit:    *limit,
	}

	report, err := buildReport(context.Background(), seedStore, cfg, filter)
	if err != nil {
		fmt.Fprintf(errOut, "failed to build report: %v\n", err)
		return 1
	}

	if err := writeReport(out, normalizedFormat, report); err != nil {
		fmt.Fprintf(errOut, "failed to write report: %v\n", err)
		return 1
	}

	return 0
}

func parseStatusFilter(raw string) (record.Status, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return "", nil
	case string(record.StatusSuccess), string(record.StatusError), string(record.StatusPending):
		return record.Status(value), nil
	default:
		return "", fmt.Errorf("expected success, error, or pending")
	}
}

func parseReportTime(raw string, endOfDay bool) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, nil
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02" {
			parsed, err := time.ParseInLocation(layout, value, time.UTC)
			if err == nil {
				if endOfDay {
					return parsed.Add(24*time.Hour - time.Nanosecond), nil
				}
				return parsed, nil
			}
			continue
		}
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD")
}

func buildReport(ctx context.Context, seedStore store.Store, cfg config.Config, filter store.Filter) (reportDocument, error) {
	var (
		summary *store.Summary
		models  []store.ModelStat
		recent  *store.Page
	)

	var (
		queryErr error
		mu       sync.Mutex
		wg       sync.WaitGroup
	)

	runQuery := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				mu.Lock()
				if queryErr == nil {
					queryErr = err
				}
				mu.Unlock()
			}
		}()
	}

	aggregateFilter := filter
	aggregateFilter.Limit = 0
	aggregateFilter.Cursor = ""

	runQuery(func() error {
		var err error
		summary, err = seedStore.Summary(ctx, aggregateFilter)
		return err
	})
	runQuery(func() error {
		var err error
		models, err = seedStore.ModelStats(ctx, aggregateFilter)
		return err
	})
	runQuery(func() error {
		var err error
		recent, err = seedStore.ListTraces(ctx, filter)
		return err
	})

	wg.Wait()
	if queryErr != nil {
		return reportDocument{}, queryErr
	}
	if summary == nil {
		summary = &store.Summary{}
	}
	if recent == nil {
		recent = &store.Page{}
	}

	topModel := ""
	topModelRequests := int64(0)
	for _, model := range models {
		if model.RequestCount > topModelRequests || (model.RequestCount == topModelRequests && strings.TrimSpace(model.Model) < strings.TrimSpace(topModel)) {
			topModelRequests = model.RequestCount
			topModel = model.Model
		}
	}
	errorRate := 0.0
	if summary.TraceCount > 0 {
		errorRate = float64(summary.ErrorCount) / float64(summary.TraceCount)
	}

	recentRows := make([]reportTraceInfo, 0, len(recent.Items))
	for _, item := range recent.Items {
		if item == nil {
			continue
		}
		totalTokens := 0
		if item.Usage != nil {
			totalTokens = item.Usage.TotalTokens
		}
		recentRows = append(recentRows, reportTraceInfo{
			ID:          item.ID,
			Timestamp:   item.Time(),
			Provider:    item.Provider,
			Model:       item.Model,
			Status:      string(item.Status),
			TotalTokens: totalTokens,
			CostUSD:     item.Cost,
			LatencyMS:   item.LatencyMS,
		})
	}

	storagePath := ""
	if strings.TrimSpace(cfg.Storage.Driver) == "sqlite" {
		storagePath = cfg.Storage.Path
	}

	return reportDocument{
		SchemaVersion: reportSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Storage: reportStorageInfo{
			Driver: cfg.Storage.Driver,
			Path:   storagePath,
		},
		Filters: reportFilterInfo{
			Provider: filter.Provider,
			Model:    filter.Model,
			Status:   string(filter.Status),
			From:     reportOptionalTime(filter.From),
			To:       reportOptionalTime(filter.To),
			Limit:    filter.Limit,
		},
		Summary: reportSummaryInfo{
			TotalRequests:     summary.TraceCount,
			ErrorCount:        summary.ErrorCount,
			ErrorRate:         errorRate,
			TotalInputTokens:  summary.TotalInputTokens,
			TotalOutputTokens: summary.TotalOutputTokens,
			TotalTokens:       summary.TotalTokens,
			TotalCostUSD:      summary.TotalCostUSD,
			AvgLatencyMS:      summary.AvgLatencyMS,
			TopModel:          topModel,
		},
		Models: models,
		Recent: recentRows,
	}, nil
}

func writeReport(out io.Writer, format string, report reportDocument) error {
	switch format {
	case "json":
		return writeReportJSON(out, report)
	default:
		return writeReportText(out, report)
	}
}

func writeReportJSON(out io.Writer, report reportDocument) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

func writeReportText(out io.Writer, report reportDocument) error {
	fmt.Fprintln(out, "Telegen Report")

	metadataWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(metadataWriter, "Schema version\t%s\n", report.SchemaVersion)
	fmt.Fprintf(metadataWriter, "Generated at\t%s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(metadataWriter, "Storage driver\t%s\n", report.Storage.Driver)
	if strings.TrimSpace(report.Storage.Path) != "" {
		fmt.Fprintf(metadataWriter, "Storage path\t%s\n", report.Storage.Path)
	}
	fmt.Fprintf(metadataWriter, "Filter provider\t%s\n", valueOr(report.Filters.Provider, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter model\t%s\n", valueOr(report.Filters.Model, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter status\t%s\n", valueOr(report.Filters.Status, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter from\t%s\n", timePtrOr(report.Filters.From, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter to\t%s\n", timePtrOr(report.Filters.To, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter limit\t%d\n", report.Filters.Limit)
	if err := metadataWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nSummary")
	summaryWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(summaryWriter, "Total requests\t%d\n", report.Summary.TotalRequests)
	fmt.Fprintf(summaryWriter, "Errors\t%d (%.1f%%)\n", report.Summary.ErrorCount, report.Summary.ErrorRate*100)
	fmt.Fprintf(summaryWriter, "Total input tokens\t%d\n", report.Summary.TotalInputTokens)
	fmt.Fprintf(summaryWriter, "Total output tokens\t%d\n", report.Summary.TotalOutputTokens)
	fmt.Fprintf(summaryWriter, "Total tokens\t%d\n", report.Summary.TotalTokens)
	fmt.Fprintf(summaryWriter, "Total cost (USD)\t%.6f\n", report.Summary.TotalCostUSD)
	fmt.Fprintf(summaryWriter, "Avg latency (ms)\t%.2f\n", report.Summary.AvgLatencyMS)
	fmt.Fprintf(summaryWriter, "Top model\t%s\n", valueOr(report.Summary.TopModel, "(none)"))
	if err := summaryWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nModels")
	if len(report.Models) == 0 {
		fmt.Fprintln(out, "(no model data)")
	} else {
		modelWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(modelWriter, "MODEL\tREQUESTS\tTOTAL_TOKENS\tTOTAL_COST_USD\tAVG_LATENCY_MS")
		for _, row := range report.Models {
			fmt.Fprintf(modelWriter, "%s\t%d\t%d\t%.6f\t%.2f\n", valueOr(row.Model, "(unknown)"), row.RequestCount, row.TotalTokens, row.TotalCostUSD, row.AvgLatencyMS)
		}
		if err := modelWriter.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nRecent Traces")
	if len(report.Recent) == 0 {
		fmt.Fprintln(out, "(no traces)")
		return nil
	}
	traceWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(traceWriter, "TIMESTAMP\tPROVIDER\tMODEL\tSTATUS\tTOTAL_TOKENS\tCOST_USD\tLATENCY_MS\tTRACE_ID")
	for _, row := range report.Recent {
		fmt.Fprintf(
			traceWriter,
			"%s\t%s\t%s\t%s\t%d\t%.6f\t%d\t%s\n",
			timeOr(row.Timestamp, "(unknown)"),
			valueOr(row.Provider, "(unknown)"),
			valueOr(row.Model, "(unknown)"),
			valueOr(row.Status, "(unknown)"),
			row.TotalTokens,
			row.CostUSD,
			row.LatencyMS,
			row.ID,
		)
	}
	return traceWriter.Flush()
}

func reportOptionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func timeOr(value time.Time, fallback string) string {
	if value.IsZero() {
		return fallback
	}
	return value.UTC().Format(time.RFC3339)
}

func timePtrOr(value *time.Time, fallback string) string {
	if value == nil {
		return fallback
	}
	return value.UTC().Format(time.RFC3339)
}
