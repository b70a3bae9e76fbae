package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/graphrepair/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// migrateOptions 迁移命令的公共参数
type migrateOptions struct {
	configPath string
	dbType     string
	dbURL      string
	positional []string
}

// parseMigrateFlags 解析子命令之后的参数，数字参数可位于标志之前或之后
func parseMigrateFlags(name string, args []string, out io.Writer) (*migrateOptions, error) {
	opts := &migrateOptions{}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		opts.positional = append(opts.positional, args[0])
		args = args[1:]
	}

	fs := flag.NewFlagSet("migrate "+name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&opts.dbURL, "db-url", "", "Database connection URL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.positional = append(opts.positional, fs.Args()...)
	return opts, nil
}

// newMigrator 优先使用 --db-type/--db-url，否则从配置加载
func newMigrator(opts *migrateOptions, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if opts.dbType != "" && opts.dbURL != "" {
		return migration.NewMigratorFromURL(opts.dbType, opts.dbURL, logger)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.dbType != "" {
		cfg.Database.Driver = opts.dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// runMigrate 处理 migrate 命令及其子命令
func runMigrate(args []string) {
	if err := migrate(args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		if errors.Is(err, migration.ErrUnknownCommand) {
			fmt.Fprint(os.Stderr, migration.Usage)
		}
		os.Exit(1)
	}
}

func migrate(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(stdout, migration.Usage)
		return fmt.Errorf("missing subcommand")
	}
	sub := args[0]
	if sub == "help" || sub == "-h" || sub == "--help" {
		fmt.Fprint(stdout, migration.Usage)
		return nil
	}

	opts, err := parseMigrateFlags(sub, args[1:], stderr)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m, err := newMigrator(opts, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	return cli.Run(ctx, sub, opts.positional)
}
