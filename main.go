// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/goassist/internal/app"
	"github.com/petervdpas/goassist/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

const cfgName = "assist.json"

func main() {
	flag.Parse()

	if *version {
		printVersion()
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch command := args[0]; command {
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: run command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: goassist run <directory>")
			os.Exit(1)
		}
		runSession(args[1])

	case "init":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: init command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: goassist init <directory>")
			os.Exit(1)
		}
		initDir(args[1])

	case "version":
		printVersion()

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("goassist v%s\n", appVersion)
}

func resolveDir(arg string, create bool) string {
	absDir, err := filepath.Abs(arg)
	if err != nil {
		log.Fatalf("Invalid directory: %v", err)
	}
	if create {
		if err := os.MkdirAll(absDir, 0o755); err != nil {
			log.Fatalf("Create directory: %v", err)
		}
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Directory does not exist: %s", absDir)
	}
	return absDir
}

func runSession(dirArg string) {
	absDir := resolveDir(dirArg, false)

	cfgPath := filepath.Join(absDir, cfgName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config: %s\n", cfgPath)
	}

	printBanner(absDir, cfgPath, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Options{
		Dir:     absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

func initDir(dirArg string) {
	absDir := resolveDir(dirArg, true)
	cfgPath := filepath.Join(absDir, cfgName)

	cfg := config.Default()
	if existing, err := config.LoadPartial(cfgPath); err == nil {
		cfg = existing
	}
	cfg = app.PromptInteractive(os.Stdin, os.Stdout, absDir, cfgPath, cfg)
	if err := config.Save(cfgPath, cfg); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	fmt.Printf("Saved %s\n", cfgPath)
}

func showUsage() {
	fmt.Println("goassist - co-browsing assist for a captured session")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goassist run <directory>    Run a session from the directory")
	fmt.Println("  goassist init <directory>   Create or edit the directory's config")
	fmt.Println("  goassist version            Show version information")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run <directory>")
	fmt.Printf("        Connects to the assist backend configured in %s,\n", cfgName)
	fmt.Println("        creating a default config when none exists")
	fmt.Println()
	fmt.Println("  init <directory>")
	fmt.Println("        Interactive setup of backend, project and debug settings")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                  goassist session runner               ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Run Directory:  %s\n", dir)
	fmt.Printf("Config File:    %s\n", cfgPath)
	fmt.Printf("Signaling:      %s\n", cfg.Backend.SignalURL())
	fmt.Printf("Peer broker:    %s\n", cfg.Backend.PeerURL())
	if cfg.Storage.Path != "" {
		fmt.Printf("Session store:  %s\n", cfg.StorePath(dir))
	}
	fmt.Println()

	if cfg.Debug.HTTPAddr != "" {
		_, url := app.NormalizeLocalViewer(cfg.Debug.HTTPAddr)
		fmt.Printf("Debug endpoint: %s/api/status\n", url)
		fmt.Println()
	}

	fmt.Println("Starting session... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
