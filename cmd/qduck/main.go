package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/queryduck/queryduck-go/internal/config"
	"github.com/queryduck/queryduck-go/internal/loopback"
	"github.com/queryduck/queryduck-go/internal/storage"
	"github.com/queryduck/queryduck-go/internal/transport"
	"github.com/queryduck/queryduck-go/pkg/collection"
	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/repository"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// Version is the CLI version.
var Version = "0.1.0"

var (
	configPath string

	cfg  *config.Config
	repo *repository.Repository

	queryLimit int
	queryAll   bool
	queryBlobs bool

	exportOutput string

	serveListen string
	serveData   string
	serveEngine string
	servePrefix string
)

var rootCmd = &cobra.Command{
	Use:     "qduck",
	Short:   "qduck - client for a remote statement store",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if cfg.Debug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		conn := transport.NewConnection(cfg.URL, cfg.Username, cfg.Password)
		conn.HTTPClient.Timeout = cfg.Timeout
		conn.Compression = cfg.Compression
		repo = repository.New(conn, repository.WithLogger(logger))
		return nil
	},
	SilenceUsage: true,
}

var getCmd = &cobra.Command{
	Use:   "get <reference>",
	Short: "Show a statement or blob and what the server knows about it",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var queryCmd = &cobra.Command{
	Use:   "query [key=value ...]",
	Short: "Run a query given as protocol parameters",
	Long: `Run a query given as protocol parameters, in order.

Examples:
  qduck query fetch.entity=alias:main
  qduck query join.objectfor=join1,alias:main,str:title filter.eq=alias:join1,str:Dune
  qduck query --blobs --limit 10`,
	RunE: runQuery,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every statement as JSON rows",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store JSON rows written by export",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "List the bindings of the configured schema files",
	Args:  cobra.NoArgs,
	RunE:  runBindings,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a loopback statement server",
	Long: `Run a loopback statement server that records statements and pages
through them. It evaluates no filters or joins. Without --data the
statements live in memory; otherwise --engine picks badger (a directory)
or bolt (a single statements.db file in the directory).`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./"+config.DefaultFile+" if present)")

	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0, "Rows per page (server default when 0)")
	queryCmd.Flags().BoolVar(&queryAll, "all", false, "Follow the cursor through every page")
	queryCmd.Flags().BoolVar(&queryBlobs, "blobs", false, "Query blobs instead of statements")

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (default: config listen)")
	serveCmd.Flags().StringVar(&serveData, "data", "", "Data directory (default: config data_dir, or memory)")
	serveCmd.Flags().StringVar(&serveEngine, "engine", "", "Storage engine, badger or bolt (default: config engine)")
	serveCmd.Flags().StringVar(&servePrefix, "prefix", "/api/v0", "Route prefix")

	rootCmd.AddCommand(getCmd, queryCmd, exportCmd, importCmd, bindingsCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	v, c, err := repo.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if blob, ok := v.(*value.Blob); ok {
		for _, f := range c.Files(blob) {
			fmt.Fprintln(out, f)
		}
		return nil
	}
	return printStatements(out, c)
}

func runQuery(cmd *cobra.Command, args []string) error {
	params, err := parseParams(args)
	if err != nil {
		return err
	}
	target := query.TargetStatement
	if queryBlobs {
		target = query.TargetBlob
	}
	q, err := protocol.ParamsToQuery(params, target, repo.Resolve)
	if err != nil {
		return err
	}
	q.Limit = queryLimit

	out := cmd.OutOrStdout()
	for res, err := range repo.Pages(cmd.Context(), q) {
		if err != nil {
			return err
		}
		for _, v := range res.Values {
			fmt.Fprintln(out, v)
			if blob, ok := v.(*value.Blob); ok {
				for _, f := range res.Collection.Files(blob) {
					fmt.Fprintf(out, "\t%s\n", f)
				}
			}
		}
		if !queryAll {
			if res.More {
				fmt.Fprintln(cmd.ErrOrStderr(), "more results available, use --all to fetch them")
			}
			break
		}
	}
	return nil
}

// parseParams turns "key=value" arguments into ordered parameters.
func parseParams(args []string) (protocol.Params, error) {
	params := make(protocol.Params, 0, len(args))
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", arg)
		}
		params = append(params, protocol.Param{Key: key, Value: val})
	}
	return params, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	rows, err := repo.Export(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("writing rows: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d statements\n", len(rows))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var rows []protocol.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	if err := repo.Import(cmd.Context(), rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d statements\n", len(rows))
	return nil
}

func runBindings(cmd *cobra.Command, args []string) error {
	paths, err := cfg.SchemaPaths()
	if err != nil {
		return err
	}
	schemas, err := repository.LoadSchemaFiles(paths)
	if err != nil {
		return err
	}
	b, err := repo.BindingsFromSchemas(schemas)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range b.Names() {
		v, err := b.Get(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\n", name, v)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	listen := cfg.Listen
	if serveListen != "" {
		listen = serveListen
	}
	dataDir := cfg.DataDir
	if serveData != "" {
		dataDir = serveData
	}

	engine := cfg.Engine
	if serveEngine != "" {
		engine = serveEngine
	}

	s, err := storage.Open(engine, dataDir)
	if err != nil {
		return err
	}
	defer s.Close()

	return loopback.NewServer(loopback.NewStore(s), listen, servePrefix).Start()
}

// printStatements writes one line per resolved statement: reference,
// subject, predicate and object.
func printStatements(w io.Writer, c *collection.Collection) error {
	for _, st := range c.Statements() {
		t, ok := st.Triple()
		if !ok {
			continue
		}
		fields := []string{st.String()}
		for pos := range 3 {
			s, err := value.Serialize(t.At(pos))
			if err != nil {
				return err
			}
			fields = append(fields, s)
		}
		fmt.Fprintln(w, strings.Join(fields, "\t"))
	}
	return nil
}
