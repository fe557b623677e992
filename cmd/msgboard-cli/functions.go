package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JustVugg/msgboard/internal/app"
	"github.com/JustVugg/msgboard/internal/config"
	"github.com/JustVugg/msgboard/internal/form"
	"github.com/JustVugg/msgboard/internal/forwarder"
	"github.com/JustVugg/msgboard/internal/logging"
)

const (
	defaultBoardURL   = "http://localhost:3000"
	defaultStorePath  = config.DefaultStoragePath
	defaultDaemonAddr = config.DefaultDaemonListen
)

// Server management functions
func startServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a := app.New(cfg, logger)
	if err := a.Listen(); err != nil {
		return err
	}

	if cfg.Server.HotReload && configPath != "" {
		if err := config.Watch(configPath, logger, ctx.Done(), a.Reload); err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	logger.Info("msgboard starting",
		zap.Stringer("web", a.Server().Addr()),
		zap.Stringer("daemon", a.Daemon().Addr()),
	)

	return a.Run(ctx)
}

func checkStatus(w io.Writer, baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(strings.TrimSuffix(baseURL, "/") + "/_board/health")
	if err != nil {
		return fmt.Errorf("web front is not reachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if gjson.ValidBytes(body) {
		w.Write(format(body, false))
	} else {
		fmt.Fprintln(w, string(body))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("msgboard is unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}

// Config management
func validateConfig(configPath string) error {
	_, err := config.Load(configPath)
	return err
}

func initializeConfig(w io.Writer, template, output string, force bool) error {
	var content string

	switch template {
	case "basic":
		content = basicTemplate
	case "full":
		content = fullTemplate
	default:
		return fmt.Errorf("unknown template %q (want basic or full)", template)
	}

	if !force {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", output)
		}
	}

	if err := os.WriteFile(output, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s configuration: %s\n", template, output)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "1. Edit the configuration file")
	fmt.Fprintln(w, "2. Run: msgboard validate -c", output)
	fmt.Fprintln(w, "3. Run: msgboard start -c", output)
	return nil
}

func showConfig(w io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}

// Record functions
func readStore(path string) (gjson.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gjson.Result{}, err
	}

	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("store %s is not valid JSON", path)
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return gjson.Result{}, fmt.Errorf("store %s is not a JSON object", path)
	}
	return doc, nil
}

func listRecords(w io.Writer, storePath string, last int, color bool) error {
	doc, err := readStore(storePath)
	if err != nil {
		return err
	}

	type entry struct {
		key string
		raw string
	}

	var entries []entry
	doc.ForEach(func(key, value gjson.Result) bool {
		entries = append(entries, entry{key: key.String(), raw: value.Raw})
		return true
	})

	// timestamp keys sort chronologically as strings
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	if last > 0 && last < len(entries) {
		entries = entries[len(entries)-last:]
	}

	for _, e := range entries {
		fmt.Fprintln(w, e.key)
		w.Write(format([]byte(e.raw), color))
	}
	fmt.Fprintf(w, "%d record(s)\n", len(entries))
	return nil
}

func getRecord(w io.Writer, storePath, query string, color bool) error {
	doc, err := readStore(storePath)
	if err != nil {
		return err
	}

	res := doc.Get(query)
	if !res.Exists() {
		return fmt.Errorf("no match for %q", query)
	}

	if res.IsObject() || res.IsArray() {
		w.Write(format([]byte(res.Raw), color))
		return nil
	}

	fmt.Fprintln(w, res.String())
	return nil
}

// escapeKey turns a record timestamp into a gjson path matching only that
// key. Timestamps contain a '.', which gjson reads as a separator.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(`\.*?|#@!=<>%`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Submission functions
func sendSubmission(w io.Writer, addr string, args []string, raw bool) error {
	payload, err := buildPayload(args, raw)
	if err != nil {
		return err
	}

	if len(payload) > config.DefaultMaxDatagramSize {
		fmt.Fprintf(w, "Warning: payload is %d bytes, a daemon with default settings keeps only the first %d\n",
			len(payload), config.DefaultMaxDatagramSize)
	}

	if err := forwarder.NewUDPSender(addr).Send(payload); err != nil {
		return err
	}

	fmt.Fprintf(w, "Sent %d bytes to %s\n", len(payload), addr)
	return nil
}

func buildPayload(args []string, raw bool) ([]byte, error) {
	if raw {
		if len(args) != 1 {
			return nil, errors.New("--raw takes exactly one argument")
		}
		return []byte(args[0]), nil
	}

	fields := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		// the daemon unescapes before splitting, so these would split again
		if !form.Splittable(k, v) {
			return nil, fmt.Errorf("field %q: names cannot contain '&' or '=' and values cannot contain '&' (use --raw to send as is)", k)
		}
		fields[k] = v
	}
	return form.Encode(fields), nil
}

// Utility functions
func format(data []byte, color bool) []byte {
	out := pretty.PrettyOptions(data, &pretty.Options{
		Width:    80,
		Indent:   "    ",
		SortKeys: true,
	})
	if color {
		out = pretty.Color(out, pretty.TerminalStyle)
	}
	return out
}
