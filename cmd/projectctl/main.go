package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ArthurBarre/site-forge-clone/internal/config"
	"github.com/ArthurBarre/site-forge-clone/internal/hosting"
	"github.com/ArthurBarre/site-forge-clone/internal/logger"
)

// projectctl is an operator tool for the hosting platform: it lists the
// account's projects and bulk-deletes the throwaway ones a development
// session leaves behind. Deletion always asks for confirmation.
func main() {
	command := flag.String("command", "list", "command (list|delete|prune)")
	project := flag.String("project", "", "project id or name for delete")
	prefix := flag.String("prefix", "", "name prefix filter for prune")
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New("projectctl", logger.LevelFromEnv())
	client := hosting.NewClient(cfg.HostingAPIURL, cfg.HostingToken, &http.Client{Timeout: 15 * time.Second}, log)
	if !client.Enabled() {
		log.Error("hosting token not configured")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *command {
	case "list":
		if err := list(ctx, client); err != nil {
			log.Error("listing projects failed", "error", err)
			os.Exit(1)
		}
	case "delete":
		if *project == "" {
			log.Error("delete requires -project")
			os.Exit(1)
		}
		if !*yes && !confirm(fmt.Sprintf("Delete project %q and all its deployments?", *project)) {
			fmt.Println("aborted")
			return
		}
		if err := client.DeleteProject(ctx, *project); err != nil {
			log.Error("deleting project failed", "project", *project, "error", err)
			os.Exit(1)
		}
		fmt.Printf("deleted %s\n", *project)
	case "prune":
		if err := prune(ctx, client, *prefix, *yes); err != nil {
			log.Error("pruning projects failed", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}
}

func list(ctx context.Context, client *hosting.Client) error {
	projects, err := client.ListProjects(ctx)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("no projects")
		return nil
	}
	for _, p := range projects {
		fmt.Printf("%-30s %s\n", p.ID, p.Name)
	}
	fmt.Printf("%d project(s)\n", len(projects))
	return nil
}

func prune(ctx context.Context, client *hosting.Client, prefix string, yes bool) error {
	projects, err := client.ListProjects(ctx)
	if err != nil {
		return err
	}
	var targets []hosting.Project
	for _, p := range projects {
		if prefix == "" || strings.HasPrefix(p.Name, prefix) {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		fmt.Println("nothing to prune")
		return nil
	}
	for _, p := range targets {
		fmt.Printf("  %s (%s)\n", p.Name, p.ID)
	}
	if !yes && !confirm(fmt.Sprintf("Delete these %d project(s)?", len(targets))) {
		fmt.Println("aborted")
		return nil
	}
	for _, p := range targets {
		if err := client.DeleteProject(ctx, p.ID); err != nil {
			return fmt.Errorf("deleting %s: %w", p.Name, err)
		}
		fmt.Printf("deleted %s\n", p.Name)
	}
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
