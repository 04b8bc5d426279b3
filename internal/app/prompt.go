// internal/app/prompt.go
package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/goassist/internal/config"
)

// PromptInteractive walks through the settings a new run directory needs.
// Invalid answers fall back to defaults.
func PromptInteractive(in io.Reader, out io.Writer, dir, cfgPath string, cfg config.Config) config.Config {
	r := bufio.NewReader(in)

	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out, "Goassist interactive setup")
	fmt.Fprintf(out, " Run folder  : %s\n", dir)
	fmt.Fprintf(out, " Config file : %s\n", cfgPath)
	fmt.Fprintln(out, "────────────────────────────────────────")
	fmt.Fprintln(out)

	cfg.Backend.Host = askString(r, out, "Assist backend host", cfg.Backend.Host)
	cfg.Backend.Secure = askBool(r, out, "Use TLS (wss)", cfg.Backend.Secure)
	cfg.Session.ProjectKey = askString(r, out, "Project key", cfg.Session.ProjectKey)
	cfg.Session.UserID = askString(r, out, "User id (empty=anonymous)", cfg.Session.UserID)
	cfg.Session.CommitSec = askInt(r, out, "Seconds between batches", cfg.Session.CommitSec)
	cfg.Media.NoVideo = askBool(r, out, "Audio only", cfg.Media.NoVideo)
	cfg.Debug.HTTPAddr = askString(r, out, "Debug HTTP addr (empty=off)", cfg.Debug.HTTPAddr)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Invalid config: %v\nKeeping defaults.\n", err)
		return config.Default()
	}
	return cfg
}

func askString(in *bufio.Reader, out io.Writer, label, def string) string {
	fmt.Fprintf(out, "%s [%s]: ", label, def)
	s, _ := in.ReadString('\n')
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func askInt(in *bufio.Reader, out io.Writer, label string, def int) int {
	for {
		fmt.Fprintf(out, "%s [%d]: ", label, def)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(s)
		if s == "" {
			return def
		}
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(out, "Please enter a number.")
	}
}

func askBool(in *bufio.Reader, out io.Writer, label string, def bool) bool {
	defStr := "n"
	if def {
		defStr = "y"
	}
	for {
		fmt.Fprintf(out, "%s [y/n] (default=%s): ", label, defStr)
		s, err := in.ReadString('\n')
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			return def
		}
		switch s {
		case "y", "yes", "true", "1":
			return true
		case "n", "no", "false", "0":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(out, "Please enter y or n.")
	}
}
