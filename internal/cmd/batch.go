package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/observability"
	"github.com/namelens/ratelane/internal/output"
	"github.com/namelens/ratelane/internal/server/handlers"
)

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Send a list of requests through the scheduler",
	Long: `Read requests from a YAML file and send them concurrently through one
scheduler, so they share buckets and the global limit.

The file holds a list of requests:
  - id: gateway
    method: GET
    path: /gateway
  - method: POST
    path: /channels/123456789012345678/messages
    body: {content: "hello"}`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("concurrency", 4, "Concurrent requests")
	batchCmd.Flags().Bool("fail-fast", false, "Stop scheduling new requests after the first failure")
	batchCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	batchCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	batchCmd.Flags().String("out-dir", "", "Write output to a directory")
}

func runBatch(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}

	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return err
	}
	if concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	failFast, err := cmd.Flags().GetBool("fail-fast")
	if err != nil {
		return err
	}

	specs, err := readBatchRequests(args[0])
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return errors.New("no requests found in batch file")
	}

	ctx := cmd.Context()
	cfg, err := loadedConfig(ctx)
	if err != nil {
		return err
	}
	manager, err := newScheduler(cfg, schedulerSettings{})
	if err != nil {
		return err
	}
	defer manager.Close()

	batch := &core.BatchResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	batch.Results = runBatchRequests(ctx, manager, specs, concurrency, failFast)
	batch.CompletedAt = time.Now().UTC()
	batch.Tally()

	rendered, err := output.NewFormatter(format).FormatBatch(batch)
	if err != nil {
		return err
	}

	if outDir != "" {
		dir, err := ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = filepath.Join(dir, fmt.Sprintf("batch.%s.%s", batch.RunID, outputExtension(format)))
	}
	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
		return err
	}

	logThroughput(batch)
	if batch.Failed > 0 {
		return fmt.Errorf("%d of %d requests failed", batch.Failed, len(specs))
	}
	return nil
}

type batchJob struct {
	index int
	spec  core.RequestSpec
}

// runBatchRequests sends specs with a fixed worker pool. Results keep the
// input order; requests never scheduled because of fail-fast are left nil.
func runBatchRequests(ctx context.Context, submitter handlers.Submitter, specs []core.RequestSpec, concurrency int, failFast bool) []*core.RequestResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*core.RequestResult, len(specs))
	jobs := make(chan batchJob)

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for job := range jobs {
			result := dispatch(ctx, submitter, job.spec)
			results[job.index] = result
			if failFast && !result.Succeeded() {
				cancel()
			}
		}
	}

	if concurrency > len(specs) {
		concurrency = len(specs)
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go worker()
	}

sendLoop:
	for i, spec := range specs {
		select {
		case <-ctx.Done():
			break sendLoop
		case jobs <- batchJob{index: i, spec: spec}:
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

func readBatchRequests(path string) ([]core.RequestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var specs []core.RequestSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}

	for i := range specs {
		specs[i].Method = strings.ToUpper(strings.TrimSpace(specs[i].Method))
		if specs[i].Method == "" {
			specs[i].Method = "GET"
		}
		if err := validateMethod(specs[i].Method); err != nil {
			return nil, fmt.Errorf("request %d: %w", i+1, err)
		}
		specs[i].Path = strings.TrimSpace(specs[i].Path)
		if !strings.HasPrefix(specs[i].Path, "/") {
			return nil, fmt.Errorf("request %d: path must start with /", i+1)
		}
		specs[i].Body = normalizeYAML(specs[i].Body)
	}
	return specs, nil
}

// normalizeYAML converts map[any]any nodes so bodies can be JSON encoded.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeYAML(item)
		}
		return v
	case map[any]any:
		converted := make(map[string]any, len(v))
		for key, item := range v {
			converted[fmt.Sprint(key)] = normalizeYAML(item)
		}
		return converted
	case []any:
		for i, item := range v {
			v[i] = normalizeYAML(item)
		}
		return v
	default:
		return value
	}
}

func logThroughput(batch *core.BatchResult) {
	if observability.CLILogger == nil {
		return
	}
	elapsed := batch.CompletedAt.Sub(batch.StartedAt)
	total := batch.Succeeded + batch.Failed
	rate := 0.0
	if elapsed > 0 {
		rate = float64(total) / elapsed.Seconds()
	}
	observability.CLILogger.Info("Batch complete",
		zap.String("run_id", batch.RunID),
		zap.Int("requests", total),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
		zap.Int("rate_limited", batch.RateLimited),
		zap.Duration("elapsed", elapsed),
		zap.Float64("requests_per_second", rate))
}
