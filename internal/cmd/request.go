package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/observability"
	"github.com/namelens/ratelane/internal/output"
)

var requestCmd = &cobra.Command{
	Use:   "request <method> <path>",
	Short: "Send one request through the scheduler",
	Long: `Send a single request through the scheduler and print the result.

The path is relative to the configured API and version, for example:
  ratelane request GET /gateway
  ratelane request POST /channels/123456789012345678/messages --body '{"content":"hi"}'`,
	Args: cobra.ExactArgs(2),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().String("body", "", "JSON request body")
	requestCmd.Flags().String("body-file", "", "Read the JSON request body from a file")
	requestCmd.Flags().StringArray("query", nil, "Query parameter as key=value (repeatable)")
	requestCmd.Flags().StringArray("header", nil, "Extra header as Key: Value (repeatable)")
	requestCmd.Flags().String("reason", "", "Audit log reason")
	requestCmd.Flags().Bool("no-auth", false, "Send without the Authorization header")
	requestCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	requestCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	requestCmd.Flags().String("out-dir", "", "Write output to a directory")
}

func runRequest(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}

	spec, err := requestSpecFromFlags(cmd, args[0], args[1])
	if err != nil {
		return err
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

	result := dispatch(ctx, manager, spec)
	observability.CLILogger.Debug("Request finished",
		zap.String("method", result.Method),
		zap.String("path", result.Path),
		zap.Int("status", result.Status),
		zap.Int64("duration_ms", result.DurationMS))

	rendered, err := output.FormatResult(format, result)
	if err != nil {
		return err
	}

	if outDir != "" {
		dir, err := ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = filepath.Join(dir, sanitizeFilename(result.Method+"-"+result.Path)+"."+outputExtension(format))
	}
	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
		return err
	}
	if !result.Succeeded() {
		return &requestFailure{result: result}
	}
	return nil
}

func requestSpecFromFlags(cmd *cobra.Command, method, path string) (core.RequestSpec, error) {
	spec := core.RequestSpec{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		Path:   strings.TrimSpace(path),
	}
	if err := validateMethod(spec.Method); err != nil {
		return spec, err
	}
	if !strings.HasPrefix(spec.Path, "/") {
		return spec, fmt.Errorf("path must start with /: %s", spec.Path)
	}

	body, _ := cmd.Flags().GetString("body")
	bodyFile, _ := cmd.Flags().GetString("body-file")
	if body != "" && bodyFile != "" {
		return spec, errors.New("--body and --body-file are mutually exclusive")
	}
	if bodyFile != "" {
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return spec, fmt.Errorf("read body file: %w", err)
		}
		body = string(data)
	}
	if strings.TrimSpace(body) != "" {
		var decoded any
		if err := json.Unmarshal([]byte(body), &decoded); err != nil {
			return spec, fmt.Errorf("body must be valid JSON: %w", err)
		}
		spec.Body = decoded
	}

	queries, _ := cmd.Flags().GetStringArray("query")
	for _, raw := range queries {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return spec, fmt.Errorf("invalid query %q (expected key=value)", raw)
		}
		if spec.Query == nil {
			spec.Query = map[string]string{}
		}
		spec.Query[strings.TrimSpace(key)] = value
	}

	headers, _ := cmd.Flags().GetStringArray("header")
	for _, raw := range headers {
		key, value, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return spec, fmt.Errorf("invalid header %q (expected Key: Value)", raw)
		}
		if spec.Headers == nil {
			spec.Headers = map[string]string{}
		}
		spec.Headers[http.CanonicalHeaderKey(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	spec.Reason, _ = cmd.Flags().GetString("reason")
	spec.NoAuth, _ = cmd.Flags().GetBool("no-auth")
	return spec, nil
}

func validateMethod(method string) error {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return nil
	default:
		return fmt.Errorf("unsupported method: %s", method)
	}
}

func statusSummary(result *core.RequestResult) string {
	if result.Error != "" {
		return fmt.Sprintf("%s %s failed: %s", result.Method, result.Path, result.Error)
	}
	return fmt.Sprintf("%s %s returned status %d", result.Method, result.Path, result.Status)
}
