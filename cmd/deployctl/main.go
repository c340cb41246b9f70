package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/splax/deploydeck/internal/logparse"
	apiclient "github.com/splax/deploydeck/pkg/api/client"
	"github.com/splax/deploydeck/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

const defaultAPI = "http://localhost:4000"

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "token":
		err = commandToken(args)
	case "login":
		err = commandLogin(args)
	case "projects":
		err = commandProjects(args)
	case "deployments":
		err = commandDeployments(args)
	case "latest":
		err = commandLatest(args)
	case "logs":
		err = commandLogs(args)
	case "health":
		err = commandHealth(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commandToken mints a viewer token signed with the dashboard secret.
func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	viewer := fs.String("viewer", "", "Viewer name recorded in the token")
	projects := fs.String("projects", "", "Comma separated project slugs (empty grants all)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	save := fs.Bool("save", false, "Store the token in the CLI config")
	fs.Parse(args)

	if strings.TrimSpace(*viewer) == "" {
		return errors.New("--viewer is required")
	}
	secret, err := readSecret()
	if err != nil {
		return err
	}
	token, err := jwt.GenerateToken(strings.TrimSpace(*viewer), splitList(*projects), secret, *ttl)
	if err != nil {
		return err
	}
	if *save {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.AccessToken = token
		if err := saveConfig(cfg); err != nil {
			return err
		}
	}
	fmt.Println(token)
	return nil
}

func readSecret() (string, error) {
	if s := strings.TrimSpace(os.Getenv("DASHBOARD_JWT_SECRET")); s != "" {
		return s, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("DASHBOARD_JWT_SECRET is not set")
	}
	fmt.Fprint(os.Stderr, "Dashboard JWT secret: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprint(os.Stderr, "\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(bytes))
	if secret == "" {
		return "", errors.New("secret is empty")
	}
	return secret, nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPI+")")
	token := fs.String("token", "", "Viewer token (supply to avoid prompt)")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = strings.TrimSpace(*apiBase)
	}
	value := strings.TrimSpace(*token)
	if value == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Token (empty for none): ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		value = strings.TrimSpace(string(bytes))
	}
	cfg.AccessToken = value

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.ListProjects(ctx); err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("saved credentials for %s\n", cfg.APIBaseURL)
	return nil
}

func commandProjects(args []string) error {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	fs.Parse(args)

	client, err := configuredClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	projects, err := client.ListProjects(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tREPOSITORY\tBRANCH\tDOMAINS")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Slug, p.Name, p.Repository, p.Branch, strings.Join(p.Domains, ","))
	}
	return tw.Flush()
}

func filterFlags(fs *flag.FlagSet) func() (apiclient.Filter, error) {
	project := fs.String("project", "", "Project slug")
	limit := fs.Int("limit", 20, "Maximum number of rows")
	start := fs.String("start", "", "Earliest timestamp (RFC3339 or epoch)")
	end := fs.String("end", "", "Latest timestamp (RFC3339 or epoch)")
	return func() (apiclient.Filter, error) {
		f := apiclient.Filter{Project: *project, Limit: *limit}
		if strings.TrimSpace(*start) != "" {
			t, ok := logparse.ParseTime(*start)
			if !ok {
				return f, fmt.Errorf("invalid --start %q", *start)
			}
			f.Start = t
		}
		if strings.TrimSpace(*end) != "" {
			t, ok := logparse.ParseTime(*end)
			if !ok {
				return f, fmt.Errorf("invalid --end %q", *end)
			}
			f.End = t
		}
		return f, nil
	}
}

func commandDeployments(args []string) error {
	fs := flag.NewFlagSet("deployments", flag.ExitOnError)
	filter := filterFlags(fs)
	fs.Parse(args)
	f, err := filter()
	if err != nil {
		return err
	}

	client, err := configuredClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, _, err := client.ListDeployments(ctx, f)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACKED\tPROJECT\tSTATUS\tBRANCH\tCOMMIT\tAUTHOR\tDURATION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.TrackedAt, r.ProjectSlug, r.Status, r.Branch, shortCommit(r.CommitHash), r.Author, r.Duration)
	}
	return tw.Flush()
}

func commandLatest(args []string) error {
	fs := flag.NewFlagSet("latest", flag.ExitOnError)
	project := fs.String("project", "", "Project slug")
	fs.Parse(args)

	client, err := configuredClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rec, err := client.LatestDeployment(ctx, *project)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("no deployments recorded")
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func commandLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	filter := filterFlags(fs)
	fs.Parse(args)
	f, err := filter()
	if err != nil {
		return err
	}

	client, err := configuredClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, _, err := client.ListLogs(ctx, f)
	if err != nil {
		return err
	}
	for _, e := range entries {
		status := "-"
		if e.StatusCode != nil {
			status = fmt.Sprint(*e.StatusCode)
		}
		fmt.Printf("%s %s %s %s %s%s\n", e.Timestamp, e.ProjectSlug, status, e.Method, e.Host, e.Path)
	}
	return nil
}

func commandHealth(args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	fs.Parse(args)

	client, err := configuredClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := client.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Println(status)
	return nil
}

func configuredClient() (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newClient(cfg)
}

func newClient(cfg cliConfig) (*apiclient.Client, error) {
	token := cfg.AccessToken
	if env := strings.TrimSpace(os.Getenv("DEPLOYCTL_TOKEN")); env != "" {
		token = env
	}
	return apiclient.New(cfg.APIBaseURL, apiclient.WithToken(token))
}

func shortCommit(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: envAPI()}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = envAPI()
	}
	return cfg, nil
}

func envAPI() string {
	if v := strings.TrimSpace(os.Getenv("DEPLOYCTL_API")); v != "" {
		return v
	}
	return defaultAPI
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "deploydeck", "config.json"), nil
}

func printUsage() {
	fmt.Printf("deployctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	deployctl token --viewer <name> [--projects a,b] [--ttl 24h] [--save]
	deployctl login [--api http://localhost:4000] [--token <jwt>]
	deployctl projects
	deployctl deployments [--project slug] [--limit N] [--start ts] [--end ts]
	deployctl latest [--project slug]
	deployctl logs [--project slug] [--limit N] [--start ts] [--end ts]
	deployctl health
	deployctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
