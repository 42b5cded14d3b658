package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	focushttp "github.com/focusroom/focusd/internal/http"
	"github.com/focusroom/focusd/internal/sessions"
	"github.com/focusroom/focusd/internal/store"
	"github.com/focusroom/focusd/internal/watch"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check focusd server health",
	Long: `Check the health status of the focusd server and its dependencies.

Examples:
  focusctl health
  focusctl health --server http://localhost:8080`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List session templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplates,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage focus sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session",
	Long: `Create a session from a template or a generated format.

Examples:
  # Classic focus, starting in ten minutes
  focusctl sessions create --title "Morning" --host Ana --in 10m

  # Two hours of 25/5 pomodoros
  focusctl sessions create --title "Sprint" --host Ana --format pomodoro_25_5 --duration 120`,
	Args: cobra.NoArgs,
	RunE: runSessionsCreate,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session and its current stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a session now",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycle("start"),
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <id>",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE:  lifecycle("end"),
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its room",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Show a live view of a session clock",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var (
	listStatus     string
	createTitle    string
	createHost     string
	createTemplate string
	createFormat   string
	createDuration int
	createIn       time.Duration
	watchRefresh   time.Duration
)

func init() {
	sessionsListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (planned, active, ended)")

	f := sessionsCreateCmd.Flags()
	f.StringVar(&createTitle, "title", "", "session title")
	f.StringVar(&createHost, "host", "", "host display name")
	f.StringVar(&createTemplate, "template", "", "template id")
	f.StringVar(&createFormat, "format", "", "generated format (uninterrupted, pomodoro_25_5, pomodoro_15_3)")
	f.IntVar(&createDuration, "duration", 0, "total minutes for generated formats")
	f.DurationVar(&createIn, "in", 0, "schedule the session this far in the future")
	_ = sessionsCreateCmd.MarkFlagRequired("title")

	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", 15*time.Second, "how often to refetch the session")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsCreateCmd, sessionsShowCmd,
		sessionsStartCmd, sessionsEndCmd, sessionsDeleteCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var health focushttp.HealthResponse
	err := apiClient().do(cmd.Context(), http.MethodGet, "/health", nil, &health)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	if health.Version != "" {
		fmt.Fprintf(out, "Version: %s\n", health.Version)
	}
	fmt.Fprintf(out, "Telemetry: %s\n", health.Telemetry)
	for name, status := range health.Checks {
		fmt.Fprintf(out, "  %s: %s\n", name, status)
	}
	return nil
}

func runTemplates(cmd *cobra.Command, _ []string) error {
	var resp focushttp.TemplatesResponse
	if err := apiClient().do(cmd.Context(), http.MethodGet, "/api/v1/templates", nil, &resp); err != nil {
		return err
	}

	rows := make([][]string, 0, len(resp.Templates))
	for _, t := range resp.Templates {
		def := ""
		if t.IsDefault {
			def = "*"
		}
		rows = append(rows, []string{t.ID, t.Name, strconv.Itoa(len(t.Blocks)), strconv.Itoa(t.TotalMinutes()), def})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Blocks", "Minutes", "Default"}, rows, 2, 3))
	return nil
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	path := "/api/v1/sessions"
	if listStatus != "" {
		path += "?status=" + url.QueryEscape(listStatus)
	}
	var resp focushttp.SessionsResponse
	if err := apiClient().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	rows := make([][]string, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		rows = append(rows, []string{
			s.ID, s.Title, s.Host, string(s.Status),
			s.ScheduledAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(s.DurationMinutes),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Title", "Host", "Status", "Scheduled", "Minutes"}, rows, 5))
	return nil
}

func runSessionsCreate(cmd *cobra.Command, _ []string) error {
	req := sessions.CreateRequest{
		Title:           createTitle,
		Host:            createHost,
		TemplateID:      createTemplate,
		Format:          createFormat,
		DurationMinutes: createDuration,
	}
	if createIn > 0 {
		at := time.Now().Add(createIn).UTC()
		req.ScheduledAt = &at
	}

	var sess store.Session
	if err := apiClient().do(cmd.Context(), http.MethodPost, "/api/v1/sessions", req, &sess); err != nil {
		return err
	}
	printSession(cmd, &sess)
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	c := apiClient()
	sess, err := c.Session(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printSession(cmd, sess)

	var view sessions.ProgressView
	if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/sessions/"+url.PathEscape(args[0])+"/progress", nil, &view); err != nil {
		return err
	}
	p := view.Progress
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nStage %d/%d: %s (%s)\n", p.Index+1, len(view.Schedule), p.Stage.Name, p.Stage.Kind)
	fmt.Fprintf(out, "Remaining in stage: %s\n", p.RemainingText)
	fmt.Fprintf(out, "Elapsed: %s of %s (%s)\n",
		watch.FormatDuration(time.Duration(p.ElapsedSeconds)*time.Second), watch.FormatDuration(view.Schedule.Total()),
		watch.FormatPercentage(p.TotalProgress))
	return nil
}

func lifecycle(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var sess store.Session
		path := "/api/v1/sessions/" + url.PathEscape(args[0]) + "/" + action
		if err := apiClient().do(cmd.Context(), http.MethodPost, path, nil, &sess); err != nil {
			return err
		}
		printSession(cmd, &sess)
		return nil
	}
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	if err := apiClient().do(cmd.Context(), http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func runWatch(_ *cobra.Command, args []string) error {
	m := watch.NewModel(apiClient(), args[0], watch.WithRefresh(watchRefresh))
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func printSession(cmd *cobra.Command, s *store.Session) {
	rows := [][]string{
		{"ID", s.ID},
		{"Title", s.Title},
		{"Host", s.Host},
		{"Status", string(s.Status)},
		{"Format", s.Format},
		{"Template", s.TemplateID},
		{"Scheduled", s.ScheduledAt.Local().Format(time.RFC3339)},
		{"Minutes", strconv.Itoa(s.DurationMinutes)},
	}
	if s.StartTime != nil {
		rows = append(rows, []string{"Started", s.StartTime.Local().Format(time.RFC3339)})
	}
	if s.DailyRoomURL != "" {
		rows = append(rows, []string{"Room", s.DailyRoomURL})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
}
