package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/fx"

	"github.com/wippyai/asset-runtime/app"
	"github.com/wippyai/asset-runtime/assets"
	"github.com/wippyai/asset-runtime/config"
	"github.com/wippyai/asset-runtime/resource"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to JSON config file")
		dir         = flag.String("dir", "", "Asset directory (overrides config)")
		bucket      = flag.String("s3-bucket", "", "S3 bucket (overrides config)")
		loads       = flag.String("load", "", "Assets to load (comma-separated paths)")
		shader      = flag.String("run", "", "Shader asset to run after loading")
		shaderArgs  = flag.String("args", "", "Shader arguments (comma-separated integers)")
		metrics     = flag.String("metrics", "", "Metrics listen address (overrides config)")
		watchDir    = flag.Bool("watch", false, "Reload assets when their files change")
		serve       = flag.Bool("serve", false, "Keep running until interrupted")
		timeout     = flag.Duration("timeout", 30*time.Second, "How long to wait for each load")
		logLevel    = flag.String("log", "", "Log level (overrides config)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.Source.Dir = *dir
		cfg.Source.S3.Bucket = ""
	}
	if *bucket != "" {
		cfg.Source.S3.Bucket = *bucket
		cfg.Source.Dir = ""
	}
	if *metrics != "" {
		cfg.Metrics.Addr = *metrics
	}
	if *watchDir {
		cfg.Watch.Enabled = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		// Logs would tear the TUI.
		cfg.Log.Level = "fatal"
		if err := runInteractive(cfg, splitList(*loads)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *loads == "" && *shader == "" && !*serve {
		fmt.Fprintln(os.Stderr, "Usage: assetctl [-config file] [-dir path | -s3-bucket name] -load a.png,b.txt")
		fmt.Fprintln(os.Stderr, "       assetctl -load kernel.wasm -run kernel.wasm -args 3,4")
		fmt.Fprintln(os.Stderr, "       assetctl -serve -watch -metrics :9090")
		fmt.Fprintln(os.Stderr, "       assetctl -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(cfg, splitList(*loads), *shader, *shaderArgs, *timeout, *serve); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(cfg *config.Config, paths []string, shader, shaderArgs string, timeout time.Duration, serve bool) (err error) {
	var rt *app.Runtime
	fxApp := app.New(cfg, fx.Populate(&rt))
	if err := fxApp.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), fxApp.StartTimeout())
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), fxApp.StopTimeout())
		defer cancel()
		if stopErr := fxApp.Stop(stopCtx); err == nil && stopErr != nil {
			err = fmt.Errorf("stop: %w", stopErr)
		}
	}()

	if shader != "" && !contains(paths, shader) {
		paths = append(paths, shader)
	}

	handles := make(map[string]*resource.Handle[resource.Resource], len(paths))
	for _, p := range paths {
		handles[p] = rt.Loader.Load(p)
	}
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	failed := 0
	for _, p := range paths {
		if !handles[p].WaitForValidity(timeout) {
			failed++
		}
	}
	printSnapshot(rt.Manager)

	if shader != "" {
		if err := runShader(handles[shader], shaderArgs); err != nil {
			return err
		}
	}

	if serve {
		if addr := rt.MetricsAddr(); addr != nil {
			fmt.Printf("\nMetrics: http://%s%s\n", addr, cfg.Metrics.Path)
		}
		fmt.Println("Serving, press Ctrl+C to stop")
		<-fxApp.Done()
		return nil
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d assets failed to load", failed, len(paths))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func printSnapshot(m *resource.Manager) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTRATEGY\tREFS")
	for _, info := range m.Snapshot() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.ID, info.Status, info.Strategy, info.References)
	}
	tw.Flush()

	st := m.Stats()
	fmt.Printf("\nloads=%d reloads=%d unloads=%d failures=%d collected=%d\n",
		st.Loads, st.Reloads, st.Unloads, st.Failures, st.Collected)
}

func runShader(h *resource.Handle[resource.Resource], argStr string) error {
	if !h.Available() {
		return fmt.Errorf("shader %s not loaded", h.ID())
	}
	s, ok := h.Get().(*assets.Shader)
	if !ok {
		return fmt.Errorf("%s is not a shader", h.ID())
	}

	args, err := parseArgs(argStr)
	if err != nil {
		return err
	}
	results, err := s.Run(context.Background(), args...)
	if err != nil {
		return fmt.Errorf("run %s: %w", s.Entry(), err)
	}
	fmt.Printf("\n%s(%s) = %v\n", s.Entry(), argStr, results)
	return nil
}

func parseArgs(s string) ([]uint64, error) {
	var out []uint64
	for _, a := range splitList(s) {
		v, err := strconv.ParseInt(a, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid argument %q: %w", a, err)
		}
		out = append(out, api.EncodeI32(int32(v)))
	}
	return out, nil
}
