package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"otto/internal/app"
	"otto/internal/config"
	"otto/internal/db"
	"otto/internal/engine"
	"otto/internal/repo"
	"otto/internal/sandbox"
	"otto/internal/server"
	"otto/internal/validate"
)

// errReported marks a failure whose message was already printed.
var errReported = errors.New("reported")

var rootCmd = &cobra.Command{
	Use:   "otto",
	Short: "Deploy conversational assistants from a declarative document",
	Long: `otto deploys and tears down Autopilot-style assistants described by one JSON document.
- Document: keys "assistant" and "model", plus one "field_type__<name>" per custom field type and one "task__<name>" per task.
- Validate: every problem in the document is reported in one pass; FAIL blocks a deploy, INFO and WARN do not.
- Deploy: assistant, field types, tasks (fields then samples), then the model build. Redeploying replaces every task and field type of the assistant.
- Teardown: deletes an assistant and everything under it.
- Credentials: TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN. --sandbox uses a local emulator in the workspace instead.
- History: every deploy and teardown is journaled in the workspace, see 'otto history'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Println(formatMsg("FAIL: " + err.Error()))
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OTTO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	app.BindCredentials(viper.GetViper())
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("sandbox", false, "use the local platform emulator")
	rootCmd.PersistentFlags().String("base-url", "", "platform API base URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("sandbox", rootCmd.PersistentFlags().Lookup("sandbox"))
	_ = viper.BindPFlag("base-url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(deployCmd())
	rootCmd.AddCommand(teardownCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(sandboxCmd())
}

func initCmd() *cobra.Command {
	var path string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an empty deployment document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Println(formatMsg("COMPLETED: Wrote deployment template " + path))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", config.DefaultTemplatePath, "template path")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing file")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a deployment document without deploying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.Load(args[0])
			if err != nil {
				return err
			}
			report := validate.Validate(doc)
			if viper.GetBool("json") {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printReport(os.Stdout, report)
			}
			if !report.Pass {
				if !viper.GetBool("json") {
					fmt.Println(text.FgRed.Sprint("VALIDATION FAILED.  See above for areas to improve."))
				}
				return errReported
			}
			if !viper.GetBool("json") {
				fmt.Println(text.FgGreen.Sprint("VALIDATION PASSED!"))
			}
			return nil
		},
	}
	return cmd
}

func deployCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "deploy <config>",
		Short: "Create or replace an assistant from a deployment document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				doc, err := config.Load(args[0])
				if err != nil {
					return err
				}
				asJSON := viper.GetBool("json")
				if !asJSON {
					report := validate.Validate(doc)
					printReport(os.Stdout, report)
					if report.Pass {
						fmt.Println()
						fmt.Println(text.FgGreen.Sprint("VALIDATION PASSED!"))
					}
				}
				e.Confirm = promptOverwrite(os.Stdin, os.Stdout)
				res, err := e.Deploy(ctx, doc, engine.DeployOptions{Overwrite: overwrite})
				var verr *engine.ValidationError
				switch {
				case errors.As(err, &verr):
					if asJSON {
						_ = printJSON(res)
					} else {
						fmt.Println(text.FgRed.Sprint("DEPLOY FAILED.  See above for areas to improve."))
					}
					return errReported
				case errors.Is(err, engine.ErrDeclined):
					fmt.Println(text.FgRed.Sprint("DEPLOY FAILED: Assistant already exists.  You can overwrite the current assistant or create a new one with a different name."))
					return errReported
				case err != nil:
					return err
				}
				if asJSON {
					return printJSON(res)
				}
				for _, ft := range res.FieldTypes {
					fmt.Println(formatMsg(fmt.Sprintf("COMPLETED: Custom field type %s has been created.", ft.UniqueName)))
				}
				for _, t := range res.Tasks {
					fmt.Println(formatMsg(fmt.Sprintf("COMPLETED: Task %s has been created.", t.UniqueName)))
				}
				fmt.Println(formatMsg(fmt.Sprintf("COMPLETED: Model %s has been created.", res.ModelBuild.UniqueName)))
				fmt.Println(formatMsg(fmt.Sprintf("SUCCESS!  Your Assistant '%s' has been deployed!", res.Assistant.UniqueName)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing assistant without asking")
	return cmd
}

func teardownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown <assistant_id>",
		Short: "Delete an assistant and all of its resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Teardown(ctx, args[0])
				if errors.Is(err, engine.ErrAssistantNotFound) {
					fmt.Println(formatMsg(fmt.Sprintf("FAIL: There is no assistant with the identifier %s to teardown.  Check if the Assistant exists and try again.", args[0])))
					return errReported
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(formatMsg(fmt.Sprintf("SUCCESS! The '%s' assistant and all of its related resources have been deleted.", args[0])))
				return nil
			})
		},
	}
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Show journaled deploys and teardowns"}
	list := historyListCmd()
	cmd.AddCommand(list)
	cmd.AddCommand(historyShowCmd())
	cmd.RunE = list.RunE
	cmd.Flags().AddFlagSet(list.Flags())
	return cmd
}

func historyListCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "Assistant", "Target", "Status", "Started", "Error"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.Action, run.Assistant, run.Target, colorStatus(run.Status), run.StartedAt, run.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of runs")
	return cmd
}

func historyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run_id>",
		Short: "List the steps of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("run %s not found", args[0])
				}
				if err != nil {
					return err
				}
				evts, err := r.ListRunEvents(ctx, run.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "events": evts})
				}
				fmt.Printf("%s %s %s (%s)\n", run.Action, run.Assistant, colorStatus(run.Status), run.Target)
				if run.Error != "" {
					fmt.Println(formatMsg("FAIL: " + run.Error))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Time", "Step", "Kind", "Unique name", "SID"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ResourceKind, e.UniqueName, e.SID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sandboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sandbox", Short: "Local platform emulator"}
	cmd.AddCommand(sandboxServeCmd())
	return cmd
}

func sandboxServeCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace sandbox over the platform's REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := app.NewLogger(viper.GetBool("verbose"))
			if err != nil {
				return err
			}
			defer log.Sync()
			conn, err := app.OpenWorkspace(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			var auth server.AuthConfig
			if sid, token, err := app.Credentials(viper.GetViper()); err == nil {
				auth = server.AuthConfig{AccountSID: sid, AuthToken: token}
			} else {
				log.Warn("serving without authentication", zap.Error(err))
			}
			handler, err := server.New(server.Config{Store: sandbox.New(conn), BasePath: basePath, Auth: auth, Logger: log})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving sandbox platform on http://%s%s (use --base-url http://%s%s)\n", addr, basePath, addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	log, err := app.NewLogger(viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()
	conn, err := app.OpenWorkspace(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	e, err := app.NewEngine(viper.GetViper(), conn, log)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := app.OpenWorkspace(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func promptOverwrite(in io.Reader, out io.Writer) engine.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(_ context.Context, assistant string) (bool, error) {
		fmt.Fprintf(out, "Assistant %s already exists.  "+
			"Overwriting the assistant will create a new assistant based on your configuration, which "+
			"could cause some existing resources to be deleted.\n\n"+
			"Do you want to overwrite the existing assistant (y/n)? ", assistant)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		return strings.EqualFold(strings.TrimSpace(line), "y"), nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
