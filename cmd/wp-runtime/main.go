package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/cboxdk/wp-runtime-manager/internal/app"
	"github.com/cboxdk/wp-runtime-manager/internal/binaries"
	"github.com/cboxdk/wp-runtime-manager/internal/config"
	"github.com/cboxdk/wp-runtime-manager/internal/installer"
	"github.com/cboxdk/wp-runtime-manager/internal/storage"
	"github.com/cboxdk/wp-runtime-manager/internal/supervisor"
)

const (
	Version = "1.0.0-dev"
)

// CLI represents the command line interface
type CLI struct {
	args []string
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

var commandOrder = []string{"serve", "start", "check", "install", "apps", "validate", "example-config", "version", "help"}

func main() {
	cli := &CLI{args: os.Args[1:]}
	commands := cli.commands()

	if len(cli.args) == 0 {
		cli.printUsage(commands)
		os.Exit(1)
	}

	commandName := cli.args[0]

	if commandName == "--help" || commandName == "-h" {
		cli.printUsage(commands)
		return
	}

	// Bare flags run the server
	if _, exists := commands[commandName]; !exists {
		if strings.HasPrefix(commandName, "--") {
			commandName = "serve"
		} else {
			fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", commandName)
			cli.printUsage(commands)
			os.Exit(1)
		}
	} else {
		cli.args = cli.args[1:]
	}

	cmd := commands[commandName]
	if err := cmd.Run(cli.args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (cli *CLI) commands() map[string]*Command {
	return map[string]*Command{
		"serve":          {Name: "serve", Description: "Run the manager with the HTTP API and metrics", Usage: "serve [--config path] [--log-level level]", Run: cli.serveCommand},
		"start":          {Name: "start", Description: "Start one WordPress app and supervise it until interrupted", Usage: "start --app id --path dir [--config path]", Run: cli.startCommand},
		"check":          {Name: "check", Description: "Report which runtime binaries can be found", Usage: "check [--config path]", Run: cli.checkCommand},
		"install":        {Name: "install", Description: "Install missing runtime dependencies", Usage: "install [--config path] [--yes]", Run: cli.installCommand},
		"apps":           {Name: "apps", Description: "List registered apps and their ports", Usage: "apps [--config path]", Run: cli.appsCommand},
		"validate":       {Name: "validate", Description: "Validate configuration file", Usage: "validate [--config path] [--verbose]", Run: cli.validateCommand},
		"example-config": {Name: "example-config", Description: "Generate example configuration file", Usage: "example-config [--output path]", Run: cli.exampleConfigCommand},
		"version":        {Name: "version", Description: "Show version information", Usage: "version", Run: cli.versionCommand},
		"help":           {Name: "help", Description: "Show help information", Usage: "help [command]", Run: cli.helpCommand},
	}
}

func (cli *CLI) printUsage(commands map[string]*Command) {
	fmt.Printf("WordPress Runtime Manager v%s\n", Version)
	fmt.Println("Runs PHP and MySQL side by side for local WordPress sites.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Printf("  %s <command> [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("COMMANDS:")

	for _, name := range commandOrder {
		if cmd, exists := commands[name]; exists {
			fmt.Printf("  %-15s %s\n", cmd.Name, cmd.Description)
		}
	}

	fmt.Println()
	fmt.Println("GLOBAL OPTIONS:")
	fmt.Println("  --help, -h       Show help information")
	fmt.Println()
	fmt.Println("Use \"wp-runtime help <command>\" for more information about a command.")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Printf("  %s serve --config ./wp-runtime.yaml\n", os.Args[0])
	fmt.Printf("  %s start --app blog --path /srv/sites/blog\n", os.Args[0])
	fmt.Printf("  %s check\n", os.Args[0])
}

func (cli *CLI) parseFlags(args []string, flags map[string]*string) []string {
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			// --flag=value
			if strings.Contains(flagName, "=") {
				parts := strings.SplitN(flagName, "=", 2)
				if flagVar, exists := flags[parts[0]]; exists {
					*flagVar = parts[1]
					continue
				}
			}

			// --flag value, or a bare boolean flag
			if flagVar, exists := flags[flagName]; exists {
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
					*flagVar = args[i+1]
					i++
				} else {
					*flagVar = "true"
				}
				continue
			}
		}

		remaining = append(remaining, arg)
	}

	return remaining
}

func wantsHelp(remaining []string) bool {
	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// loadConfig reads path, or falls back to zero-config defaults when it is empty
func (cli *CLI) loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.LoadDefault()
		if err != nil {
			return nil, fmt.Errorf("failed to load default configuration: %w", err)
		}
		return cfg, nil
	}

	if err := cli.validateConfigPath(path); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (cli *CLI) serveCommand(args []string) error {
	var configPath, logLevel string

	flags := map[string]*string{
		"config":    &configPath,
		"log-level": &logLevel,
	}

	if wantsHelp(cli.parseFlags(args, flags)) {
		cli.printServeHelp()
		return nil
	}

	cfg, err := cli.loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Server.Enabled = true
	if configPath == "" {
		cfg.Server.API.Enabled = true
	}
	if result := config.GetValidationResult(cfg); !result.Valid {
		return result
	}

	return cli.runManager(cfg, logLevel, nil)
}

func (cli *CLI) startCommand(args []string) error {
	var configPath, logLevel, appID, appPath, serve string

	flags := map[string]*string{
		"config":    &configPath,
		"log-level": &logLevel,
		"app":       &appID,
		"path":      &appPath,
		"serve":     &serve,
	}

	if wantsHelp(cli.parseFlags(args, flags)) {
		cli.printStartHelp()
		return nil
	}

	if appID == "" || appPath == "" {
		return fmt.Errorf("both --app and --path are required")
	}

	cfg, err := cli.loadConfig(configPath)
	if err != nil {
		return err
	}
	// Foreground mode only serves HTTP on request
	cfg.Server.Enabled = serve == "true"

	return cli.runManager(cfg, logLevel, []app.AppSpec{{ID: appID, Path: appPath}})
}

// runManager runs until SIGINT or SIGTERM
func (cli *CLI) runManager(cfg *config.Config, logLevel string, autostart []app.AppSpec) error {
	logger, err := cli.createLogger(cfg.Logging, logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	manager, err := app.NewManager(cfg, logger, Version)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	manager.Autostart(autostart...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fields := []zap.Field{
		zap.String("version", Version),
		zap.String("user_data_dir", cfg.Runtime.UserDataDir),
		zap.Int("autostart_apps", len(autostart)),
	}
	if cfg.Server.Enabled {
		fields = append(fields, zap.String("server_address", cfg.Server.BindAddress))
	}
	logger.Info("Starting WordPress Runtime Manager", fields...)

	for _, spec := range autostart {
		fmt.Printf("Starting %s from %s (Ctrl+C to stop)\n", spec.ID, spec.Path)
	}

	if err := manager.Run(ctx); err != nil {
		logger.Error("Manager stopped with error", zap.Error(err))
		return fmt.Errorf("manager stopped with error: %w", err)
	}

	logger.Info("WordPress Runtime Manager stopped")
	return nil
}

func (cli *CLI) checkCommand(args []string) error {
	var configPath string

	flags := map[string]*string{
		"config": &configPath,
	}

	if wantsHelp(cli.parseFlags(args, flags)) {
		fmt.Println("USAGE: wp-runtime check [--config path]")
		fmt.Println("Report which interpreter, database and cli tool binaries can be found.")
		return nil
	}

	cfg, err := cli.loadConfig(configPath)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	check := sup.CheckBinaries()
	cli.printBinaryCheck(check)

	if !check.Available {
		fmt.Println("\nRun \"wp-runtime install\" to install the missing dependencies.")
		return fmt.Errorf("%d required binaries missing", len(check.Missing))
	}
	return nil
}

func (cli *CLI) printBinaryCheck(check supervisor.BinaryCheck) {
	kinds := make([]string, 0, len(check.Resolved))
	for kind := range check.Resolved {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	fmt.Println("BINARIES:")
	for _, kind := range kinds {
		fmt.Printf("  ✅ %-16s %s\n", kind, check.Resolved[kind])
	}
	for _, kind := range check.Missing {
		fmt.Printf("  ❌ %-16s not found\n", kind)
	}
}

func (cli *CLI) installCommand(args []string) error {
	var configPath, logLevel, yes string

	flags := map[string]*string{
		"config":    &configPath,
		"log-level": &logLevel,
		"yes":       &yes,
	}

	if wantsHelp(cli.parseFlags(args, flags)) {
		cli.printInstallHelp()
		return nil
	}

	cfg, err := cli.loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := cli.createLogger(cfg.Logging, logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	var prompter installer.Prompter = installer.TerminalPrompter{In: os.Stdin, Out: os.Stdout}
	if yes == "true" {
		prompter = acceptPrompter{}
	}

	sup, err := supervisor.New(cfg, logger, supervisor.WithPrompter(prompter))
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("🔧 Installing runtime dependencies...")
	result := sup.InstallDependencies(ctx)

	for _, kind := range result.Installed {
		fmt.Printf("  ✅ %s\n", kind)
	}
	for _, kind := range result.Skipped {
		fmt.Printf("  ❌ %s\n", kind)
	}
	for _, msg := range result.Errors {
		fmt.Printf("  ⚠️  %s\n", msg)
	}
	if len(result.Instructions) > 0 {
		fmt.Println("\nRun these commands to finish the installation:")
		for _, instruction := range result.Instructions {
			fmt.Printf("  %s\n", instruction)
		}
	}

	switch {
	case result.Success:
		fmt.Println("\n✅ All dependencies are installed")
		return nil
	case result.Declined:
		return fmt.Errorf("installation declined")
	default:
		return fmt.Errorf("some dependencies could not be installed")
	}
}

// acceptPrompter answers yes to the system-wide install prompt
type acceptPrompter struct{}

func (acceptPrompter) ChooseInstallMode(context.Context, []binaries.Kind) (installer.InstallMode, error) {
	return installer.ModeSystemWide, nil
}

func (cli *CLI) appsCommand(args []string) error {
	var configPath string

	flags := map[string]*string{
		"config": &configPath,
	}

	if wantsHelp(cli.parseFlags(args, flags)) {
		fmt.Println("USAGE: wp-runtime apps [--config path]")
		fmt.Println("List registered apps with their last allocated ports.")
		return nil
	}

	cfg, err := cli.loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer store.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	apps, err := store.Apps().ListApps(ctx)
	if err != nil {
		return fmt.Errorf("failed to list apps: %w", err)
	}

	if len(apps) == 0 {
		fmt.Println("No apps registered")
		return nil
	}

	fmt.Printf("%-20s %-10s %-8s %-8s %s\n", "ID", "TYPE", "PHP", "MYSQL", "PATH")
	for _, a := range apps {
		php, db := "-", "-"
		if a.Ports != nil {
			php = fmt.Sprint(a.Ports.Interpreter)
			db = fmt.Sprint(a.Ports.Database)
		}
		fmt.Printf("%-20s %-10s %-8s %-8s %s\n", a.ID, a.Type, php, db, a.Path)
	}
	return nil
}

func (cli *CLI) validateCommand(args []string) error {
	var configPath, verboseFlag string

	flags := map[string]*string{
		"config":  &configPath,
		"verbose": &verboseFlag,
	}

	if wantsHelp(cli.parseFlags(args, flags)) {
		cli.printValidateHelp()
		return nil
	}
	verbose := verboseFlag == "true"

	var cfg *config.Config
	if configPath == "" {
		fmt.Println("🔍 Validating zero-config mode defaults")
		cfg = config.Default()
	} else {
		if err := cli.validateConfigPath(configPath); err != nil {
			return err
		}

		fmt.Printf("🔍 Validating configuration file: %s\n", configPath)
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		cfg = config.Default()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	result := config.GetValidationResult(cfg)
	cli.printValidationResults(result, verbose)

	if !result.Valid {
		fmt.Printf("\n❌ Configuration validation failed with %d error(s)\n", len(result.Errors))
		return fmt.Errorf("configuration validation failed")
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\n⚠️  Found %d warning(s) - configuration is valid but could be improved\n", len(result.Warnings))
	}

	cli.printConfigurationSummary(cfg)

	fmt.Println("\n✅ Configuration validation completed successfully!")
	return nil
}

// printValidationResults prints detailed validation results
func (cli *CLI) printValidationResults(result *config.ValidationResult, verbose bool) {
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Println("✅ Configuration passes all validation checks")
		return
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\n❌ VALIDATION ERRORS (%d):\n", len(result.Errors))
		for i, err := range result.Errors {
			fmt.Printf("  %d. Field: %s\n", i+1, err.Field)
			fmt.Printf("     Error: %s\n", err.Message)
			if err.Suggestion != "" {
				fmt.Printf("     Fix: %s\n", err.Suggestion)
			}
			if verbose && err.Value != nil {
				fmt.Printf("     Current value: %v\n", err.Value)
			}
			fmt.Println()
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\n⚠️  VALIDATION WARNINGS (%d):\n", len(result.Warnings))
		for i, warning := range result.Warnings {
			fmt.Printf("  %d. Field: %s\n", i+1, warning.Field)
			fmt.Printf("     Warning: %s\n", warning.Message)
			if warning.Suggestion != "" {
				fmt.Printf("     Suggestion: %s\n", warning.Suggestion)
			}
			if verbose && warning.Value != nil {
				fmt.Printf("     Current value: %v\n", warning.Value)
			}
			fmt.Println()
		}
	}
}

// printConfigurationSummary prints a summary of valid configuration
func (cli *CLI) printConfigurationSummary(cfg *config.Config) {
	fmt.Println("\n📋 CONFIGURATION SUMMARY:")

	fmt.Printf("🗂  Runtime:\n")
	fmt.Printf("   Resources: %s\n", cfg.Runtime.ResourcesDir)
	fmt.Printf("   User Data: %s\n", cfg.Runtime.UserDataDir)
	fmt.Printf("   Database Name: %s\n", cfg.Runtime.DatabaseName)
	fmt.Printf("   Content Root: %s\n", cfg.Runtime.ContentRootName)
	fmt.Printf("   System Lookup: %s\n", cfg.Runtime.SystemLookup)
	if cfg.Runtime.AutoInstall {
		fmt.Printf("   Auto Install: ✅ Enabled\n")
	} else {
		fmt.Printf("   Auto Install: ⚠️  Disabled\n")
	}

	fmt.Printf("\n🔌 Ports:\n")
	fmt.Printf("   Interpreter: %d, Database: %d\n", cfg.Ports.InterpreterDefault, cfg.Ports.DatabaseDefault)
	fmt.Printf("   Scan Window: %d, Max Attempts: %d, Pair Retries: %d\n",
		cfg.Ports.ScanWindow, cfg.Ports.MaxAttempts, cfg.Ports.PairRetries)

	fmt.Printf("\n⏱  Timeouts:\n")
	fmt.Printf("   Database Ready: %s (poll %s)\n", cfg.Timeouts.DatabaseReady, cfg.Timeouts.ReadinessPoll)
	fmt.Printf("   Interpreter Stop: %s, Database Shutdown: %s\n", cfg.Timeouts.InterpreterStop, cfg.Timeouts.DatabaseShutdown)

	fmt.Printf("\n🌐 Server:\n")
	fmt.Printf("   Bind Address: %s\n", cfg.Server.BindAddress)
	fmt.Printf("   Metrics Path: %s\n", cfg.Server.MetricsPath)
	fmt.Printf("   Health Path: %s\n", cfg.Server.HealthPath)
	if cfg.Server.API.Enabled {
		fmt.Printf("   REST API: ✅ %s\n", cfg.Server.API.BasePath)
	} else {
		fmt.Printf("   REST API: ⚠️  Disabled\n")
	}
	if cfg.Server.Auth.Enabled {
		fmt.Printf("   Authentication: ✅ API key\n")
	} else {
		fmt.Printf("   Authentication: ⚠️  Disabled\n")
	}

	fmt.Printf("\n💾 Storage:\n")
	fmt.Printf("   Database: %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("   Event Retention: %s\n", cfg.Storage.EventRetention)

	if cfg.Telemetry.Enabled {
		fmt.Printf("\n🔭 Telemetry: ✅ Enabled (%s exporter)\n", cfg.Telemetry.Exporter.Type)
		fmt.Printf("   Service: %s v%s (%s)\n", cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
		fmt.Printf("   Sampling Rate: %.1f%%\n", cfg.Telemetry.Sampling.Rate*100)
	} else {
		fmt.Printf("\n🔭 Telemetry: ⚠️  Disabled\n")
	}
}

func (cli *CLI) versionCommand(args []string) error {
	fmt.Printf("WordPress Runtime Manager version %s\n", Version)
	fmt.Println("Built with Go")
	fmt.Println("https://github.com/cboxdk/wp-runtime-manager")
	return nil
}

func (cli *CLI) helpCommand(args []string) error {
	if len(args) == 0 {
		cli.printUsage(cli.commands())
		return nil
	}

	switch args[0] {
	case "serve":
		cli.printServeHelp()
	case "start":
		cli.printStartHelp()
	case "install":
		cli.printInstallHelp()
	case "validate":
		cli.printValidateHelp()
	case "example-config":
		cli.printExampleConfigHelp()
	default:
		if cmd, ok := cli.commands()[args[0]]; ok {
			fmt.Printf("USAGE: wp-runtime %s\n", cmd.Usage)
			fmt.Println(cmd.Description)
			return nil
		}
		fmt.Printf("Unknown command: %s\n\n", args[0])
		cli.printUsage(cli.commands())
	}

	return nil
}

func (cli *CLI) exampleConfigCommand(args []string) error {
	var outputPath = "wp-runtime.yaml"

	flags := map[string]*string{
		"output": &outputPath,
	}

	if wantsHelp(cli.parseFlags(args, flags)) {
		cli.printExampleConfigHelp()
		return nil
	}

	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("file already exists: %s (use a different path or remove the existing file)", outputPath)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to render example config: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Example configuration written to: %s\n", outputPath)
	fmt.Println("Edit the file to match your environment and use:")
	fmt.Printf("  wp-runtime validate --config %s\n", outputPath)
	return nil
}

func (cli *CLI) validateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	return nil
}

// createLogger builds the process logger. A non-empty levelOverride wins over
// the configured level.
func (cli *CLI) createLogger(cfg config.LoggingConfig, levelOverride string) (*zap.Logger, error) {
	level := cfg.Level
	if levelOverride != "" {
		level = levelOverride
	}

	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "", "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", level)
	}

	zapConfig := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)

	if cfg.OutputPath != "" {
		zapConfig.OutputPaths = []string{cfg.OutputPath}
	}
	return zapConfig.Build()
}

func (cli *CLI) printServeHelp() {
	fmt.Println("USAGE: wp-runtime serve [options]")
	fmt.Println("Run the manager with the REST API, health and metrics endpoints.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path      Configuration file path (default: zero-config mode)")
	fmt.Println("  --log-level level  Log level: debug, info, warn, error (default: from config)")
	fmt.Println("  --help, -h         Show this help message")
	fmt.Println()
	fmt.Println("SIGNALS:")
	fmt.Println("  SIGINT/SIGTERM    Stop every app and shut down")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  wp-runtime serve")
	fmt.Println("  wp-runtime serve --config ./wp-runtime.yaml --log-level debug")
}

func (cli *CLI) printStartHelp() {
	fmt.Println("USAGE: wp-runtime start --app id --path dir [options]")
	fmt.Println("Start PHP and MySQL for one WordPress site and keep them running until interrupted.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --app id           App identifier (letters, digits, '-', '_' and '.')")
	fmt.Println("  --path dir         Absolute path to the WordPress document root")
	fmt.Println("  --serve            Also serve the REST API and metrics")
	fmt.Println("  --config path      Configuration file path (default: zero-config mode)")
	fmt.Println("  --log-level level  Log level: debug, info, warn, error (default: from config)")
	fmt.Println("  --help, -h         Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  wp-runtime start --app blog --path /srv/sites/blog")
	fmt.Println("  wp-runtime start --app shop --path /srv/sites/shop --serve")
}

func (cli *CLI) printInstallHelp() {
	fmt.Println("USAGE: wp-runtime install [options]")
	fmt.Println("Install the PHP interpreter, MySQL server and WP-CLI when they are missing.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --yes              Accept the system-wide install prompt without asking")
	fmt.Println("  --config path      Configuration file path (default: zero-config mode)")
	fmt.Println("  --log-level level  Log level: debug, info, warn, error (default: from config)")
	fmt.Println("  --help, -h         Show this help message")
}

func (cli *CLI) printValidateHelp() {
	fmt.Println("USAGE: wp-runtime validate [options]")
	fmt.Println("Validate configuration file without starting anything.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path  Configuration file path (default: zero-config mode)")
	fmt.Println("  --verbose      Show detailed validation output including current values")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  wp-runtime validate")
	fmt.Println("  wp-runtime validate --config ./wp-runtime.yaml --verbose")
}

func (cli *CLI) printExampleConfigHelp() {
	fmt.Println("USAGE: wp-runtime example-config [options]")
	fmt.Println("Write the default configuration as YAML.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --output path  Output file path (default: wp-runtime.yaml)")
	fmt.Println("  --help, -h     Show this help message")
}
