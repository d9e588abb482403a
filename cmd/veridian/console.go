package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// runConsole reads operator commands from stdin until EOF or "quit".
func runConsole(a *app, in io.Reader, out io.Writer) {
	fmt.Fprintf(out, "%sveridian console%s - type 'help' for commands\n", ColorBold, ColorReset)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "quit", "exit":
			return
		case "help":
			printConsoleHelp(out)
		case "stats":
			printStats(a, out)
		case "sources":
			printSources(a, out)
		case "changes":
			printChanges(a, out)
		case "api-status":
			printAPIStatus(a, out)
		case "force":
			if len(fields) < 2 {
				fmt.Fprintf(out, "%susage: force <source-id>%s\n", ColorYellow, ColorReset)
				continue
			}
			forceCheck(a, fields[1], out)
		case "test-api":
			testAPI(a, out)
		default:
			fmt.Fprintf(out, "%sunknown command: %s%s (try 'help')\n", ColorRed, fields[0], ColorReset)
		}
	}
}

func printConsoleHelp(out io.Writer) {
	fmt.Fprintln(out, "  stats              engine, feedback, and monitor counters")
	fmt.Fprintln(out, "  sources            monitored regulatory sources")
	fmt.Fprintln(out, "  changes            recently seen regulatory changes")
	fmt.Fprintln(out, "  api-status         registered endpoints by category")
	fmt.Fprintln(out, "  force <source-id>  scrape one source now")
	fmt.Fprintln(out, "  test-api           probe the local health endpoint")
	fmt.Fprintln(out, "  quit               stop the server")
}

func printStats(a *app, out io.Writer) {
	ps := a.engine.Stats()
	fmt.Fprintf(out, "patterns:  entities=%d buffered=%d total_points=%d discovered=%d significant=%d\n",
		ps.Entities, ps.BufferedPoints, ps.TotalPoints, ps.TotalPatterns, ps.Significant)

	fs := a.feedback.Stats()
	fmt.Fprintf(out, "feedback:  entities=%d buffered=%d models=%d updates=%d\n",
		fs.Entities, fs.Buffered, fs.Models, fs.ModelsUpdated)

	ms := a.monitor.Stats()
	fmt.Fprintf(out, "monitor:   cycles=%d inserted=%d duplicated=%d failed=%d\n",
		ms.Cycles, ms.Inserted, ms.Duplicated, ms.Failed)
}

func printSources(a *app, out io.Writer) {
	for _, src := range a.monitor.Sources() {
		state := ColorGreen + "ok" + ColorReset
		if src.Quarantined {
			state = ColorRed + "quarantined" + ColorReset
		} else if !src.Active {
			state = ColorYellow + "inactive" + ColorReset
		}
		fmt.Fprintf(out, "%-12s %-30s failures=%d %s\n",
			src.ID, src.Name, src.ConsecutiveFailures, state)
	}
}

func printAPIStatus(a *app, out io.Writer) {
	fmt.Fprintf(out, "listening on %s:%s\n", a.settings.DisplayHost, a.settings.APIPort)
	cats := a.registry.Categories()
	keys := make([]string, 0, len(cats))
	total := 0
	for name, eps := range cats {
		keys = append(keys, name)
		total += len(eps)
	}
	sort.Strings(keys)
	for _, name := range keys {
		fmt.Fprintf(out, "  %-14s %d endpoints\n", name, len(cats[name]))
	}
	fmt.Fprintf(out, "%d endpoints total\n", total)
}

func printChanges(a *app, out io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes, err := a.changes.Recent(ctx, 20)
	if err != nil {
		fmt.Fprintf(out, "%serror: %v%s\n", ColorRed, err, ColorReset)
		return
	}
	if len(changes) == 0 {
		fmt.Fprintln(out, "no changes recorded yet")
		return
	}
	for _, c := range changes {
		fmt.Fprintf(out, "[%s/%s] %s %s\n", c.SourceID, c.Severity, c.Title,
			c.LastSeenAt.Format(time.RFC3339))
	}
}

// resolveSourceID accepts either a full source id or a unique prefix, so
// "force sec" reaches sec_edgar.
func resolveSourceID(a *app, arg string) string {
	var match string
	for _, src := range a.monitor.Sources() {
		if src.ID == arg {
			return arg
		}
		if strings.HasPrefix(src.ID, arg) {
			if match != "" {
				return arg // ambiguous prefix, let ForceCheck report it
			}
			match = src.ID
		}
	}
	if match != "" {
		return match
	}
	return arg
}

func forceCheck(a *app, sourceID string, out io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := a.monitor.ForceCheck(ctx, resolveSourceID(a, sourceID))
	if err != nil {
		fmt.Fprintf(out, "%scheck failed: %v%s\n", ColorRed, err, ColorReset)
		return
	}
	fmt.Fprintf(out, "%s%s: inserted=%d duplicated=%d failed=%d%s\n",
		ColorGreen, result.SourceID, result.Inserted, result.Duplicated, result.Failed, ColorReset)
}

func testAPI(a *app, out io.Writer) {
	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://localhost:%s/api/health", a.settings.APIPort)
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(out, "%sapi unreachable: %v%s\n", ColorRed, err, ColorReset)
		return
	}
	resp.Body.Close()
	fmt.Fprintf(out, "%sGET /api/health -> %d%s\n", ColorCyan, resp.StatusCode, ColorReset)
}
