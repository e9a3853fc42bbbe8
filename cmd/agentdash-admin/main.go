// ABOUTME: Admin CLI for an agentdash server
// ABOUTME: Uses the JSON API with an API key to manage keys, grants, users and invites

package main

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
                        _      _           _                    _           _
  __ _  __ _  ___ _ __ | |_ __| | __ _ ___| |__         __ _  __| |_ __ ___ (_)_ __
 / _' |/ _' |/ _ \ '_ \| __/ _' |/ _' / __| '_ \ _____ / _' |/ _' | '_ ' _ \| | '_ \
| (_| | (_| |  __/ | | | || (_| | (_| \__ \ | | |_____| (_| | (_| | | | | | | | | | |
 \__,_|\__, |\___|_| |_|\__\__,_|\__,_|___/_| |_|      \__,_|\__,_|_| |_| |_|_|_| |_|
       |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := getEnv("AGENTDASH_URL", "http://localhost:8080")
	client := NewClient(baseURL, getToken())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "me":
		err = cmdMe(ctx, client)
	case "status":
		err = cmdStatus(ctx, client, baseURL)
	case "plans":
		err = cmdPlans(ctx, client)
	case "keys":
		err = cmdKeys(ctx, client, args)
	case "grants":
		err = cmdGrants(ctx, client, args)
	case "users":
		err = cmdUsers(ctx, client, args)
	case "invite":
		err = cmdInvite(ctx, client, args)
	case "audit":
		err = cmdAudit(ctx, client, args)
	case "diagnostics", "diag":
		err = cmdDiagnostics(ctx, client)
	case "sweep":
		err = cmdSweep(ctx, client)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: agentdash-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  me                          Show the identity behind your API key")
	fmt.Println("  status                      Show server health and your identity")
	fmt.Println("  plans                       List subscription plans")
	fmt.Println("  keys [list]                 List your API keys")
	fmt.Println("  keys create --name N        Create an API key (--scopes read,write)")
	fmt.Println("  keys revoke <id>            Revoke an API key")
	fmt.Println("  grants [list]               List admin grants (--active, --user <id>)")
	fmt.Println("  grants issue --user <id>    Grant temporary admin (--reason, --ttl 30m)")
	fmt.Println("  grants revoke <id>          Revoke an admin grant")
	fmt.Println("  grants break-glass          Grant yourself emergency admin (--reason)")
	fmt.Println("  users [list]                List users (--q, --role, --status)")
	fmt.Println("  users role <id> <role>      Change a user's role")
	fmt.Println("  users status <id> <status>  Suspend or reactivate a user")
	fmt.Println("  invite --email E            Invite a team member (--role viewer)")
	fmt.Println("  audit                       Show recent audit entries (--action, --limit)")
	fmt.Println("  diagnostics                 Show database and cache diagnostics")
	fmt.Println("  sweep                       Remove expired sessions and invites")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  AGENTDASH_URL       Server URL (default: http://localhost:8080)")
	fmt.Println("  AGENTDASH_TOKEN     API key (default: read from the token file)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  agentdash-admin me")
	fmt.Println("  agentdash-admin grants issue --user 4f1c... --reason 'billing fix' --ttl 30m")
	fmt.Println("  agentdash-admin invite --email sam@example.com --role editor")
	fmt.Println()
}

func requireToken(c *Client) error {
	if c.token == "" {
		return fmt.Errorf("AGENTDASH_TOKEN environment variable or token file is required")
	}
	return nil
}

// parseFlags splits args into "--name value" flags and positionals. Flags
// listed in boolFlags take no value.
func parseFlags(args []string, boolFlags ...string) (map[string]string, []string, error) {
	flags := make(map[string]string)
	var positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if isBoolFlag(name, boolFlags) {
			flags[name] = "true"
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		flags[name] = value
	}
	return flags, positional, nil
}

func isBoolFlag(name string, boolFlags []string) bool {
	for _, f := range boolFlags {
		if f == name {
			return true
		}
	}
	return false
}

func cmdMe(ctx context.Context, c *Client) error {
	if err := requireToken(c); err != nil {
		return err
	}

	var s sessionInfo
	if err := c.Get(ctx, "/api/session", nil, &s); err != nil {
		return fmt.Errorf("fetching session: %w", err)
	}
	if s.Profile == nil {
		return fmt.Errorf("not authenticated: %s", s.Reason)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	cyan.Println("  Identity")
	cyan.Println("  --------")
	fmt.Printf("  User ID:   %s\n", s.Profile.ID)
	fmt.Printf("  Email:     %s\n", s.Profile.Email)
	fmt.Printf("  Name:      %s\n", s.Profile.Name)
	fmt.Printf("  Role:      %s\n", s.Profile.Role)
	fmt.Printf("  Status:    %s\n", s.Profile.Status)
	if s.IsAdmin {
		green.Println("  Admin:     yes")
	} else {
		fmt.Println("  Admin:     no")
	}
	if s.Grant != nil {
		fmt.Printf("  Grant:     %s (expires %s)\n", s.Grant.ID, s.Grant.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	return nil
}

func cmdStatus(ctx context.Context, c *Client, baseURL string) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		yellow.Printf("  Server:   ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		green.Printf("  Server:   ")
		fmt.Printf("healthy at %s\n", baseURL)
	} else {
		yellow.Printf("  Server:   ")
		color.Red("unhealthy (status %d)\n", resp.StatusCode)
	}

	if c.token == "" {
		yellow.Printf("  Identity: ")
		fmt.Println("(no token - set AGENTDASH_TOKEN)")
		fmt.Println()
		return nil
	}

	var s sessionInfo
	if err := c.Get(ctx, "/api/session", nil, &s); err != nil || s.Profile == nil {
		yellow.Printf("  Identity: ")
		if err == nil {
			err = fmt.Errorf("%s", s.Reason)
		}
		color.Red("auth failed (%v)\n", err)
	} else {
		green.Printf("  Identity: ")
		fmt.Printf("%s (%s)\n", s.Profile.Email, s.Profile.Role)
	}
	fmt.Println()
	return nil
}

func cmdPlans(ctx context.Context, c *Client) error {
	if err := requireToken(c); err != nil {
		return err
	}

	var resp struct {
		Plans []plan `json:"plans"`
	}
	if err := c.Get(ctx, "/api/plans", nil, &resp); err != nil {
		return fmt.Errorf("listing plans: %w", err)
	}

	printHeader("Plans")
	if len(resp.Plans) == 0 {
		fmt.Println("  (no plans)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSLUG\tNAME\tMONTHLY\tACTIVE")
	fmt.Fprintln(w, "  --\t----\t----\t-------\t------")
	for _, p := range resp.Plans {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(p.ID, 12), p.Slug, p.Name, formatPrice(p.MonthlyPriceCents, p.Currency), yesNo(p.Active))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdKeys(ctx context.Context, c *Client, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}

	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdKeysList(ctx, c)
	case "create", "add":
		return cmdKeysCreate(ctx, c, args)
	case "revoke", "delete", "rm":
		if len(args) < 1 {
			return fmt.Errorf("usage: keys revoke <key-id>")
		}
		if err := c.Delete(ctx, "/api/keys/"+url.PathEscape(args[0]), nil); err != nil {
			return fmt.Errorf("revoking key: %w", err)
		}
		color.New(color.FgGreen).Printf("✓ Revoked key: %s\n", args[0])
		return nil
	default:
		return fmt.Errorf("unknown keys subcommand: %s (use list, create, revoke)", subcmd)
	}
}

func cmdKeysList(ctx context.Context, c *Client) error {
	var resp struct {
		Keys []apiKey `json:"keys"`
	}
	if err := c.Get(ctx, "/api/keys", nil, &resp); err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}

	printHeader("API Keys")
	if len(resp.Keys) == 0 {
		fmt.Println("  (no keys)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tPREFIX\tSCOPES\tLAST USED\tSTATE")
	fmt.Fprintln(w, "  --\t----\t------\t------\t---------\t-----")
	for _, k := range resp.Keys {
		state := "active"
		switch {
		case k.RevokedAt != nil:
			state = "revoked"
		case k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()):
			state = "expired"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(k.ID, 12), k.Name, k.Prefix, strings.Join(k.Scopes, ","), formatTimePtr(k.LastUsedAt), state)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdKeysCreate(ctx context.Context, c *Client, args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	name := flags["name"]
	if name == "" {
		return fmt.Errorf("usage: keys create --name <name> [--scopes read,write] [--ttl 720h]")
	}
	scopes := splitList(flags["scopes"])
	if len(scopes) == 0 {
		scopes = []string{"read"}
	}

	body := map[string]any{"name": name, "scopes": scopes}
	if ttl := flags["ttl"]; ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid ttl: %s", ttl)
		}
		body["expires_at"] = time.Now().Add(d).UTC()
	}

	var k apiKey
	if err := c.Post(ctx, "/api/keys", body, &k); err != nil {
		return fmt.Errorf("creating key: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("✓ Created key: %s\n", k.ID)
	fmt.Printf("  Name:    %s\n", k.Name)
	fmt.Printf("  Scopes:  %s\n", strings.Join(k.Scopes, ", "))
	fmt.Println()
	yellow.Println("  Secret (shown once):")
	fmt.Println("  " + k.Secret)
	fmt.Println()
	return nil
}

func cmdGrants(ctx context.Context, c *Client, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}

	subcmd := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdGrantsList(ctx, c, args)
	case "issue", "create":
		return cmdGrantsIssue(ctx, c, args)
	case "revoke", "rm":
		if len(args) < 1 {
			return fmt.Errorf("usage: grants revoke <grant-id>")
		}
		var g grant
		if err := c.Delete(ctx, "/api/admin/grants/"+url.PathEscape(args[0]), &g); err != nil {
			return fmt.Errorf("revoking grant: %w", err)
		}
		color.New(color.FgGreen).Printf("✓ Revoked grant: %s\n", args[0])
		return nil
	case "break-glass":
		flags, _, err := parseFlags(args)
		if err != nil {
			return err
		}
		if flags["reason"] == "" {
			return fmt.Errorf("usage: grants break-glass --reason <why>")
		}
		var g grant
		if err := c.Post(ctx, "/api/grants/break-glass", map[string]string{"reason": flags["reason"]}, &g); err != nil {
			if isStatus(err, http.StatusForbidden) {
				return fmt.Errorf("break-glass is not available for this account: %w", err)
			}
			return fmt.Errorf("break-glass: %w", err)
		}
		color.New(color.FgYellow).Printf("! Break-glass grant %s active until %s\n", g.ID, g.ExpiresAt.Format(time.RFC3339))
		return nil
	default:
		return fmt.Errorf("unknown grants subcommand: %s (use list, issue, revoke, break-glass)", subcmd)
	}
}

func cmdGrantsList(ctx context.Context, c *Client, args []string) error {
	flags, _, err := parseFlags(args, "active")
	if err != nil {
		return err
	}
	q := url.Values{}
	if flags["active"] == "true" {
		q.Set("active", "true")
	}
	if u := flags["user"]; u != "" {
		q.Set("user_id", u)
	}

	var resp struct {
		Grants []grant `json:"grants"`
	}
	if err := c.Get(ctx, "/api/admin/grants", q, &resp); err != nil {
		return fmt.Errorf("listing grants: %w", err)
	}

	printHeader("Admin Grants")
	if len(resp.Grants) == 0 {
		fmt.Println("  (no grants)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tUSER\tREASON\tEXPIRES\tSTATE")
	fmt.Fprintln(w, "  --\t----\t------\t-------\t-----")
	for _, g := range resp.Grants {
		state := "active"
		switch {
		case g.RevokedAt != nil:
			state = "revoked"
		case g.ExpiresAt.Before(time.Now()):
			state = "expired"
		case g.BreakGlass:
			state = "break-glass"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(g.ID, 12), g.Email, truncate(g.Reason, 32), g.ExpiresAt.Format("Jan 02 15:04"), state)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdGrantsIssue(ctx context.Context, c *Client, args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags["user"] == "" || flags["reason"] == "" {
		return fmt.Errorf("usage: grants issue --user <id> --reason <why> [--ttl 30m]")
	}

	body := map[string]string{"user_id": flags["user"], "reason": flags["reason"]}
	if ttl := flags["ttl"]; ttl != "" {
		body["ttl"] = ttl
	}

	var g grant
	if err := c.Post(ctx, "/api/admin/grants", body, &g); err != nil {
		return fmt.Errorf("issuing grant: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Issued grant: %s\n", g.ID)
	fmt.Printf("  User:     %s\n", g.Email)
	fmt.Printf("  Reason:   %s\n", g.Reason)
	fmt.Printf("  Expires:  %s\n", g.ExpiresAt.Format(time.RFC3339))
	return nil
}

func cmdUsers(ctx context.Context, c *Client, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}

	subcmd := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdUsersList(ctx, c, args)
	case "role":
		if len(args) < 2 {
			return fmt.Errorf("usage: users role <user-id> <role>")
		}
		var p profile
		if err := c.Put(ctx, "/api/admin/users/"+url.PathEscape(args[0])+"/role", map[string]string{"role": args[1]}, &p); err != nil {
			return fmt.Errorf("changing role: %w", err)
		}
		color.New(color.FgGreen).Printf("✓ %s is now %s\n", p.Email, p.Role)
		return nil
	case "status":
		if len(args) < 2 {
			return fmt.Errorf("usage: users status <user-id> <active|suspended>")
		}
		var p profile
		if err := c.Put(ctx, "/api/admin/users/"+url.PathEscape(args[0])+"/status", map[string]string{"status": args[1]}, &p); err != nil {
			return fmt.Errorf("changing status: %w", err)
		}
		color.New(color.FgGreen).Printf("✓ %s is now %s\n", p.Email, p.Status)
		return nil
	default:
		return fmt.Errorf("unknown users subcommand: %s (use list, role, status)", subcmd)
	}
}

func cmdUsersList(ctx context.Context, c *Client, args []string) error {
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	q := url.Values{}
	for _, name := range []string{"q", "role", "status", "limit"} {
		if v := flags[name]; v != "" {
			q.Set(name, v)
		}
	}

	var resp struct {
		Users []profile `json:"users"`
	}
	if err := c.Get(ctx, "/api/admin/users", q, &resp); err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	printHeader("Users")
	if len(resp.Users) == 0 {
		fmt.Println("  (no users)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tEMAIL\tNAME\tROLE\tSTATUS")
	fmt.Fprintln(w, "  --\t-----\t----\t----\t------")
	for _, u := range resp.Users {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", truncate(u.ID, 12), u.Email, truncate(u.Name, 24), u.Role, u.Status)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdInvite(ctx context.Context, c *Client, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	if len(args) > 0 && args[0] == "create" {
		args = args[1:]
	}

	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags["email"] == "" {
		return fmt.Errorf("usage: invite --email <email> [--role admin|editor|viewer]")
	}
	role := flags["role"]
	if role == "" {
		role = "viewer"
	}

	var inv invitation
	if err := c.Post(ctx, "/api/team", map[string]string{"email": flags["email"], "role": role}, &inv); err != nil {
		return fmt.Errorf("creating invite: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	green.Println("  Invite created!")
	fmt.Println()
	cyan.Println("  Invite URL:")
	fmt.Println()
	fmt.Println("  " + inv.InviteURL)
	fmt.Println()
	yellow.Printf("  Expires: %s\n", inv.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	return nil
}

func cmdAudit(ctx context.Context, c *Client, args []string) error {
	if err := requireToken(c); err != nil {
		return err
	}
	flags, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("limit", "50")
	for _, name := range []string{"action", "actor_id", "target_type", "target_id", "since", "limit"} {
		if v := flags[name]; v != "" {
			q.Set(name, v)
		}
	}

	var resp struct {
		Entries []auditEntry `json:"entries"`
	}
	if err := c.Get(ctx, "/api/admin/audit", q, &resp); err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}

	printHeader("Audit Log")
	if len(resp.Entries) == 0 {
		fmt.Println("  (no entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET")
	fmt.Fprintln(w, "  ----\t-----\t------\t------")
	for _, e := range resp.Entries {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s:%s\n",
			e.Timestamp.Format("Jan 02 15:04:05"), truncate(e.ActorID, 12), e.Action, e.TargetType, truncate(e.TargetID, 12))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdDiagnostics(ctx context.Context, c *Client) error {
	if err := requireToken(c); err != nil {
		return err
	}

	var d diagnostics
	err := c.Get(ctx, "/api/admin/diagnostics", nil, &d)
	if err != nil && !isStatus(err, http.StatusServiceUnavailable) {
		return fmt.Errorf("fetching diagnostics: %w", err)
	}

	printHeader("Diagnostics")
	if err != nil || !d.Healthy {
		color.Red("  Database: unhealthy %s\n", d.Error)
		fmt.Println()
		return nil
	}
	color.New(color.FgGreen).Println("  Database: healthy")
	fmt.Printf("  Schema:   v%d\n", d.SchemaVersion)
	for _, name := range slices.Sorted(maps.Keys(d.Tables)) {
		fmt.Printf("  %-18s %d rows\n", name+":", d.Tables[name])
	}
	fmt.Println()
	return nil
}

func cmdSweep(ctx context.Context, c *Client) error {
	if err := requireToken(c); err != nil {
		return err
	}

	var res sweepResult
	if err := c.Post(ctx, "/api/admin/sweep", nil, &res); err != nil {
		return fmt.Errorf("sweeping: %w", err)
	}
	color.New(color.FgGreen).Printf("✓ Removed %d expired sessions and %d expired invites\n", res.Sessions, res.Invites)
	return nil
}

func printHeader(title string) {
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  " + title)
	cyan.Println("  " + strings.Repeat("-", len(title)))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatPrice(cents int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("Jan 02 15:04")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getToken returns the API key from AGENTDASH_TOKEN or the token file written
// by "agentdash bootstrap".
func getToken() string {
	if token := os.Getenv("AGENTDASH_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "agentdash", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
