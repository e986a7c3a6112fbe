package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"starforge/internal/app"
	"starforge/internal/config"
	"starforge/internal/db"
	"starforge/internal/engine"
	"starforge/internal/migrate"
	"starforge/internal/repo"
	"starforge/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Starforge CLI",
	Long: `Starforge keeps a reputation ledger for open source galaxies.
Core concepts:
- Workspace: your .starforge box holding the database; galaxy config lives in the DB.
- Galaxy: a project community with a maintainer and pooled balances.
- Sunshines: the spendable appreciation currency stakeholders allocate onto issues.
- Stars: the earned reputation minted when an issue's sunshines are forged
  (360 sunshines make one star by default) and split between the author,
  contributor, and maintainer role slots.
- Versions: release batches of patched issues; setting a version to release
  forges every patched issue in one pass.
- Event log: diary of changes, view with 'sf log tail'.`,
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
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STARFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("galaxy", "", "galaxy id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("galaxy", rootCmd.PersistentFlags().Lookup("galaxy"))
}

func registerCommands() {
	rootCmd.AddCommand(galaxyCmd())
	rootCmd.AddCommand(stakeholderCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(spaceCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func galaxyCmd() *cobra.Command {
	g := &cobra.Command{Use: "galaxy", Short: "Manage galaxies"}
	g.AddCommand(galaxyCreateCmd())
	g.AddCommand(galaxyListCmd())
	g.AddCommand(galaxyShowCmd())
	g.AddCommand(galaxyConfigCmd())
	return g
}

func galaxyCreateCmd() *cobra.Command {
	var id, name, maintainer string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create galaxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			if maintainer == "" {
				maintainer = viper.GetString("actor-id")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			g, err := e.InitGalaxy(cmd.Context(), id, name, maintainer, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(g)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "galaxy id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&maintainer, "maintainer", "", "maintainer stakeholder id (defaults to --actor-id)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func galaxyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List galaxies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListGalaxies(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Maintainer", "Sunshines", "Stars"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.Name, g.MaintainerID, g.Sunshines, g.Stars})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func galaxyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a galaxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.GetGalaxy(ctx, e.Config.Galaxy.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
}

func galaxyConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage galaxy config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show galaxy config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(galaxyConfigImportCmd())
	cfg.AddCommand(galaxyConfigInitCmd())
	return cfg
}

func galaxyConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import galaxy config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			galaxyID := cfg.Galaxy.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if galaxyID == "" {
					galaxyID = e.Config.Galaxy.ID
				}
				if err := e.Repo.UpsertGalaxyConfig(ctx, galaxyID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func galaxyConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter starforge.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			galaxyID := viper.GetString("galaxy")
			if galaxyID == "" {
				galaxyID = "my-galaxy"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(galaxyID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func stakeholderCmd() *cobra.Command {
	s := &cobra.Command{Use: "stakeholder", Short: "Manage stakeholders"}
	s.AddCommand(stakeholderCreateCmd())
	s.AddCommand(stakeholderShowCmd())
	return s
}

func stakeholderCreateCmd() *cobra.Command {
	var id, nickname, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create stakeholder",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.EnsureStakeholder(ctx, id, nickname, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "stakeholder id")
	cmd.Flags().StringVar(&nickname, "nickname", "", "nickname")
	cmd.Flags().StringVar(&role, "role", "user", "role (user, contributor, maintainer)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func stakeholderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stakeholder's balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := r.GetStakeholder(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("%s (%s)\n", s.Nickname, s.ID)
				fmt.Printf("  role:      %s\n", s.Role)
				fmt.Printf("  sunshines: %s\n", color.YellowString("%g", s.Sunshines))
				fmt.Printf("  stars:     %s\n", color.CyanString("%g", s.Stars))
				return nil
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	i := &cobra.Command{Use: "issue", Short: "Manage issues"}
	i.AddCommand(issueCreateCmd())
	i.AddCommand(issueListCmd())
	i.AddCommand(issueShowCmd())
	i.AddCommand(issueFundCmd())
	i.AddCommand(issueShineCmd())
	i.AddCommand(issueForgeCmd())
	i.AddCommand(issueTagCmd())
	i.AddCommand(issueContributorCmd())
	return i
}

func issueCreateCmd() *cobra.Command {
	var id, title, body, contributor string
	var sunshines float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.CreateIssue(ctx, engine.IssueCreateOptions{
					ID:            id,
					GalaxyID:      e.Config.Galaxy.ID,
					Title:         title,
					Body:          body,
					AuthorID:      viper.GetString("actor-id"),
					ContributorID: contributor,
					Sunshines:     sunshines,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "issue id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&body, "body", "", "issue body")
	cmd.Flags().StringVar(&contributor, "contributor", "", "contributor stakeholder id")
	cmd.Flags().Float64Var(&sunshines, "sunshines", 0, "pre-funded sunshines")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListIssues(ctx, e.Config.Galaxy.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Sunshines", "Stars", "Tags", "Forged"})
				for _, i := range items {
					forged := ""
					if i.SolarForgeTxid != nil {
						forged = "yes"
					}
					tw.AppendRow(table.Row{i.ID, i.Title, i.Sunshines, i.Stars, strings.Join(i.ListHistory, ","), forged})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func issueShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				i, err := r.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	return cmd
}

func issueFundCmd() *cobra.Command {
	var funder string
	var amount float64
	cmd := &cobra.Command{
		Use:   "fund <id>",
		Short: "Allocate sunshines onto an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if funder == "" {
				funder = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Allocate(ctx, funder, args[0], amount, viper.GetString("actor-id")); err != nil {
					return err
				}
				i, err := e.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&funder, "funder", "", "funding stakeholder (defaults to --actor-id)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "sunshines to allocate")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func issueShineCmd() *cobra.Command {
	var funder string
	var amount float64
	cmd := &cobra.Command{
		Use:   "shine <id>",
		Short: "Add shine to an issue without a funding record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if funder == "" {
				funder = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Deallocate(ctx, funder, args[0], amount, viper.GetString("actor-id")); err != nil {
					return err
				}
				i, err := e.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().StringVar(&funder, "funder", "", "spending stakeholder (defaults to --actor-id)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "sunshines to spend")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func issueForgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forge <id>",
		Short: "Convert an issue's sunshines into stars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ForgeIssue(ctx, args[0], viper.GetString("actor-id"))
				if errors.Is(err, engine.ErrAlreadyForged) {
					fmt.Println("issue already forged")
					return nil
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Forged %s sunshines into %s stars\n",
					color.YellowString("%g", res.SunshinesConsumed),
					color.CyanString("%g", res.TotalStars))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stakeholder", "Roles", "Stars"})
				for _, a := range res.Stakeholders {
					tw.AppendRow(table.Row{a.ID, strings.Join(a.Roles, ","), a.StarsAwarded})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func issueTagCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "tag <id> <patcher|closed>",
		Short: "Add or remove a lifecycle tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var err error
				switch {
				case remove && args[1] == "patcher":
					_, err = e.UnpatchIssue(ctx, args[0], actor)
				case remove:
					return fmt.Errorf("only the patcher tag can be removed")
				case args[1] == "patcher":
					_, err = e.PatchIssue(ctx, args[0], actor)
				case args[1] == "closed":
					_, err = e.CloseIssue(ctx, args[0], actor)
				default:
					return fmt.Errorf("unknown tag %q", args[1])
				}
				if err != nil {
					return err
				}
				i, err := e.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the tag instead of adding it")
	return cmd
}

func issueContributorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contributor <id> <stakeholder>",
		Short: "Assign the contributor role slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				i, err := e.SetContributor(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(i)
			})
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	v := &cobra.Command{Use: "version", Short: "Manage release versions"}
	v.AddCommand(versionCreateCmd())
	v.AddCommand(versionShowCmd())
	v.AddCommand(versionListCmd())
	v.AddCommand(versionPatchCmd())
	v.AddCommand(versionCompleteCmd())
	v.AddCommand(versionTestCmd())
	v.AddCommand(versionStatusCmd())
	v.AddCommand(versionForgeCmd())
	v.AddCommand(versionRevertCmd())
	return v
}

func versionCreateCmd() *cobra.Command {
	var id, tag string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tag == "" {
				return fmt.Errorf("--tag required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CreateVersion(ctx, engine.VersionCreateOptions{
					ID:       id,
					GalaxyID: e.Config.Galaxy.ID,
					Tag:      tag,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "version id (generated when empty)")
	cmd.Flags().StringVar(&tag, "tag", "", "version tag, e.g. v1.2.0")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func versionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a version and its patches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				v, err := r.GetVersion(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("%s [%s]\n", v.Tag, v.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Issue", "Title", "Completed", "Tested"})
				for _, p := range v.Patches {
					tw.AppendRow(table.Row{p.IssueID, p.Title, p.Completed, p.Tested})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func versionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListVersions(ctx, e.Config.Galaxy.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Tag", "Status", "Patches"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.ID, v.Tag, v.Status, len(v.Patches)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func versionPatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <version-id> <issue-id>",
		Short: "Attach an issue to a version's release batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.AttachPatch(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func versionCompleteCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "complete <version-id> <issue-id>",
		Short: "Mark a patch completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.CompletePatch(ctx, args[0], args[1], !undo, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "clear the flag instead")
	return cmd
}

func versionTestCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "test <version-id> <issue-id>",
		Short: "Mark a patch tested",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.TestPatch(ctx, args[0], args[1], !undo, viper.GetString("actor-id"))
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "clear the flag instead")
	return cmd
}

func versionStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <version-id> <complete|testing|release|archived>",
		Short: "Set a version's status (release forges the batch)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.SetVersionStatus(ctx, args[0], args[1], viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Version %s is now %s\n", out.Version.Tag, color.GreenString(out.Version.Status))
				if out.Forge != nil {
					printVersionForge(*out.Forge)
				}
				return nil
			})
		},
	}
	return cmd
}

func versionForgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forge <version-id>",
		Short: "Batch forge every patched issue in a version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ForgeVersion(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printVersionForge(res)
				return nil
			})
		},
	}
	return cmd
}

func versionRevertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revert <tag> <issue-id>",
		Short: "Remove an issue from a version addressed by tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Revert(ctx, e.Config.Galaxy.ID, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func printVersionForge(res engine.VersionForgeResult) {
	fmt.Printf("Forged %d issues: %s sunshines into %s stars\n",
		res.TotalIssuesProcessed,
		color.YellowString("%g", res.TotalSunshinesConsumed),
		color.CyanString("%g", res.TotalStarsAwarded))
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Stakeholder", "Roles", "Stars"})
	for _, a := range res.Stakeholders {
		tw.AppendRow(table.Row{a.ID, strings.Join(a.Roles, ","), a.StarsAwarded})
	}
	tw.Render()
}

func ledgerCmd() *cobra.Command {
	l := &cobra.Command{Use: "ledger", Short: "Forge records"}
	l.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List forge records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListForgeRecords(ctx, e.Config.Galaxy.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Issue", "Sunshines", "Stars", "Stakeholders", "At"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.ID, rec.IssueID, rec.SunshinesConsumed, rec.StarsMinted, strings.Join(rec.StakeholderIDs, ","), rec.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return l
}

func spaceCmd() *cobra.Command {
	s := &cobra.Command{Use: "space", Short: "Stakeholder rankings"}
	s.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show ranked stakeholder positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSpacePositions(ctx, e.Config.Galaxy.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Stakeholder", "Role", "Sunshines", "Stars"})
				for rank, p := range items {
					tw.AppendRow(table.Row{rank + 1, p.Nickname, p.Role, p.Sunshines, p.Stars})
				}
				tw.Render()
				return nil
			})
		},
	})
	return s
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Galaxy.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveGalaxyAndConfig(cmd.Context(), viper.GetString("galaxy"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("STARFORGE_JWT_SECRET"),
				AllowLegacyActorHeader: os.Getenv("STARFORGE_ALLOW_ACTOR_HEADER") == "1",
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("STARFORGE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(cmd.Context(), server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Starforge API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveGalaxyAndConfig(ctx, viper.GetString("galaxy"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
