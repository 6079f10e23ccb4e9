// Command jsondb reads and writes a JSON document tree stored in a SQL
// database.
//
// Usage:
//
//	jsondb [flags] <command> [args]
//
// The database and the indexed properties come from a YAML file given with
// -config; -driver and -dsn override it. Run "jsondb schema" to print the
// JSON Schema of the file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maruel/jsondb/internal/config"
	"github.com/maruel/jsondb/internal/ingest"
	"github.com/maruel/jsondb/internal/jsondb"
	"github.com/maruel/jsondb/internal/sqldb"
)

var errNotFound = errors.New("not found")

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "jsondb: %v\n", err)
		if errors.Is(err, errNotFound) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

const usage = `Usage: jsondb [flags] <command> [args]

Commands:
  init                      create the jsondb table
  drop                      drop the jsondb table
  get [flags] <path>        print the JSON at path
  set <path> <json|->       replace the subtree at path
  update <path> <json|->    merge an object into path
  push <path> <json|->      store a document under a new key, print the key
  delete <path>             remove the subtree at path
  exists <path>             print whether anything is stored at path
  ids <collection> <property> <value>
                            print the keys of children whose property equals value
  import [flags] <collection> <file|->
                            import JSON Lines
  watch [flags] <dir>       import .json and .jsonl files as they change
  key                       print a new push key
  schema                    print the JSON Schema of the config file
  version                   print version information

Flags:
`

func mainImpl() error {
	configPath := flag.String("config", "", "YAML configuration file")
	driver := flag.String("driver", "", "Database driver (sqlite, sqlite3, pgx); overrides the config")
	dsn := flag.String("dsn", "", "Database DSN; overrides the config")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cmd, args := args[0], args[1:]
	switch cmd {
	case "version":
		printVersion()
		return nil
	case "key":
		fmt.Println(jsondb.CreateKey())
		return nil
	case "schema":
		b, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Printf("%s\n", b)
		return err
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load(nil)
	}
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["driver"] {
		cfg.Database.Driver = *driver
	}
	if set["dsn"] {
		cfg.Database.DSN = *dsn
	}
	if set["log-level"] {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	ll.Set(level)

	indexes, err := cfg.IndexList()
	if err != nil {
		return err
	}
	db, err := sqldb.Open(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	store, err := jsondb.New(ctx, db, jsondb.WithIndexes(indexes...), jsondb.WithLogger(logger))
	if err != nil {
		return err
	}
	if cfg.Database.CreateTables && cmd != "drop" {
		if err := store.CreateTables(ctx); err != nil {
			return err
		}
	}
	return run(ctx, store, cfg, cmd, args, os.Stdin, os.Stdout)
}

// run executes one command against store.
func run(ctx context.Context, store *jsondb.Store, cfg *config.Config, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	switch cmd {
	case "init":
		if err := wantArgs(cmd, args, 0); err != nil {
			return err
		}
		return store.CreateTables(ctx)
	case "drop":
		if err := wantArgs(cmd, args, 0); err != nil {
			return err
		}
		return store.DropTables(ctx)
	case "get":
		return cmdGet(ctx, store, args, stdout)
	case "set", "update", "push":
		if err := wantArgs(cmd, args, 2); err != nil {
			return err
		}
		body := io.Reader(strings.NewReader(args[1]))
		if args[1] == "-" {
			body = stdin
		}
		switch cmd {
		case "set":
			return store.Set(ctx, args[0], body)
		case "update":
			return store.Update(ctx, args[0], body)
		default:
			key, err := store.Push(ctx, args[0], body)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout, key)
			return err
		}
	case "delete", "exists":
		if err := wantArgs(cmd, args, 1); err != nil {
			return err
		}
		var ok bool
		var err error
		if cmd == "delete" {
			ok, err = store.Delete(ctx, args[0])
		} else {
			ok, err = store.Exists(ctx, args[0])
		}
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, ok)
		return err
	case "ids":
		if err := wantArgs(cmd, args, 3); err != nil {
			return err
		}
		ids, err := store.FetchIDsByPropertyValue(ctx, args[0], args[1], scalarValue(args[2]))
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(ids))
		for id := range ids {
			keys = append(keys, id)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if _, err := fmt.Fprintln(stdout, k); err != nil {
				return err
			}
		}
		return nil
	case "import":
		return cmdImport(ctx, store, cfg, args, stdin, stdout)
	case "watch":
		return cmdWatch(ctx, store, cfg, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func wantArgs(cmd string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: want %d arguments, got %d", cmd, n, len(args))
	}
	return nil
}

func cmdGet(ctx context.Context, store *jsondb.Store, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	pretty := fs.Bool("pretty", false, "Indent the output")
	depth := fs.Int("depth", -1, "Omit nodes deeper than this many levels")
	limit := fs.Int("limit", -1, "Keep only the first N children")
	order := fs.String("order", "asc", "Child order (asc, desc)")
	startAt := fs.String("start-at", "", "First child key, inclusive")
	startAfter := fs.String("start-after", "", "First child key, exclusive")
	endAt := fs.String("end-at", "", "Last child key, inclusive")
	endBefore := fs.String("end-before", "", "Last child key, exclusive")
	callback := fs.String("callback", "", "Wrap the output in a JavaScript call")
	filter := fs.String("filter", "", "Child filter such as 'age>=9&&name<u3'")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs("get", fs.Args(), 1); err != nil {
		return err
	}
	o, err := jsondb.ParseOrder(*order)
	if err != nil {
		return err
	}
	opts := jsondb.NewGetOptions().
		SetPrettyPrint(*pretty).
		SetOrder(o).
		SetStartAt(*startAt).
		SetStartAfter(*startAfter).
		SetEndAt(*endAt).
		SetEndBefore(*endBefore).
		SetCallback(*callback)
	if *depth >= 0 {
		opts.SetDepth(*depth)
	}
	if *limit >= 0 {
		opts.SetLimitToFirst(*limit)
	}
	if *filter != "" {
		f, err := parseFilter(*filter)
		if err != nil {
			return err
		}
		opts.SetFilter(f)
	}
	path := fs.Arg(0)
	st, err := store.Get(ctx, path, opts)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("%s: %w", path, errNotFound)
	}
	if _, err := st.WriteTo(stdout); err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout)
	return err
}

func cmdImport(ctx context.Context, store *jsondb.Store, cfg *config.Config, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	mode := fs.String("mode", "push", "push, or field:<name> to key documents by a property")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs("import", fs.Args(), 2); err != nil {
		return err
	}
	m, err := ingest.ParseMode(*mode)
	if err != nil {
		return err
	}
	in := stdin
	if name := fs.Arg(1); name != "-" {
		f, err := os.Open(name) //nolint:gosec // G304: file named on the command line
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	res, err := ingest.NewImporter(store, cfg.Import, slog.Default()).Import(ctx, in, fs.Arg(0), m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s: %d documents in %s\n", res.Batch, res.Written, res.Duration.Round(time.Millisecond))
	return err
}

func cmdWatch(ctx context.Context, store *jsondb.Store, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	root := fs.String("root", "/", "Path below which files are imported")
	mode := fs.String("mode", "push", "Import mode of .jsonl files: push, or field:<name>")
	metrics := fs.String("metrics", "", "Address to serve Prometheus metrics on, such as localhost:9090")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := wantArgs("watch", fs.Args(), 1); err != nil {
		return err
	}
	if _, err := jsondb.ParsePath(*root); err != nil {
		return err
	}
	m, err := ingest.ParseMode(*mode)
	if err != nil {
		return err
	}
	debounce, err := cfg.DebounceDuration()
	if err != nil {
		return err
	}
	if *metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              *metrics,
			Handler:           mux,
			BaseContext:       func(_ net.Listener) context.Context { return ctx },
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.InfoContext(ctx, "Serving metrics", "addr", *metrics)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "Metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	w := &ingest.Watcher{
		Dir:      fs.Arg(0),
		Root:     *root,
		Mode:     m,
		Debounce: debounce,
		Importer: ingest.NewImporter(store, cfg.Import, slog.Default()),
	}
	slog.InfoContext(ctx, "Watching", "dir", w.Dir, "root", w.Root, "debounce", debounce)
	return w.Run(ctx)
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("jsondb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
