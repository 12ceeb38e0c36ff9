package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"fmeta-go/internal/app"
	"fmeta-go/internal/config"
	"fmeta-go/internal/meta"
	"fmeta-go/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "NodeDelete", "EventProcess").
func newApp(cmd *cobra.Command, operation string, args ...string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opts := app.Options{StderrLevel: slog.LevelWarn}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts.StderrLevel = slog.LevelDebug
	}

	a, err := app.New(cmd.Context(), cfg, opts, operation, args...)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal without echo. Piped input is read as one line.
func readPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := io.ReadAll(io.LimitReader(os.Stdin, 4096))
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(string(line), "\r\n"), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func printNode(n *model.FileNode) {
	checkout := ""
	if n.CheckoutUserID.Valid {
		checkout = "  [checked out by " + n.CheckoutUserID.String + "]"
	}
	fmt.Printf("%s  %-6s  %-12s  %s%s\n", n.ID, n.Kind, n.Provider, n.Path, checkout)
}

var rootCmd = &cobra.Command{
	Use:   "fmeta",
	Short: "File identity and metadata core",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return err
		}
		// Values already set in the environment win over both files.
		return app.LoadEnv(".env", defaults["env_file"])
	},
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Gateway:     %s\n", cfg.Gateway.BaseURL)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:       %s (%s)\n", v.Name, v.Type)
		}
		fmt.Printf("Spool:       %s\n", cfg.Spool.Type)
		return nil
	},
}

// provider command
var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Inspect storage providers",
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ProviderList")
		if err != nil {
			return err
		}
		defer a.Close()

		for _, p := range a.Providers() {
			var traits []string
			if p.BuiltIn {
				traits = append(traits, "built-in")
			}
			if p.Versioned {
				traits = append(traits, "versioned:"+p.RevisionParam)
			}
			if p.PathFollowing {
				traits = append(traits, "path-following")
			}
			if p.Drafts {
				traits = append(traits, "drafts")
			}
			fmt.Printf("%-12s  %s\n", p.Name, strings.Join(traits, " "))
		}
		return nil
	},
}

var providerSetRootCmd = &cobra.Command{
	Use:   "set-root PROJECT PROVIDER ROOT",
	Short: "Set the folder a provider exposes for a project",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ProviderSetRoot", args...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.SetProviderRoot(cmd.Context(), args[0], args[1], args[2])
	},
}

// node command
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage files and folders",
}

var nodeGetCmd = &cobra.Command{
	Use:   "get-or-create PROJECT PROVIDER PATH",
	Short: "Get or create the node at PATH (trailing / for a folder)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "NodeGetOrCreate", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.GetOrCreate(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		printNode(n)
		return nil
	},
}

var nodeMkdirCmd = &cobra.Command{
	Use:   "mkdir PARENT_ID NAME",
	Short: "Create a child folder (or file with --file)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := model.KindFolder
		if file, _ := cmd.Flags().GetBool("file"); file {
			kind = model.KindFile
		}

		a, err := newApp(cmd, "NodeCreateChild", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Mkdir(cmd.Context(), args[0], args[1], kind)
		if err != nil {
			return err
		}
		printNode(n)
		return nil
	},
}

var nodeChildrenCmd = &cobra.Command{
	Use:   "children FOLDER_ID",
	Short: "List the live children of a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "NodeChildren")
		if err != nil {
			return err
		}
		defer a.Close()

		children, err := a.Children(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(children) == 0 {
			fmt.Println("No children.")
			return nil
		}
		for _, n := range children {
			printNode(n)
		}
		return nil
	},
}

var nodeTreeCmd = &cobra.Command{
	Use:   "tree NODE_ID",
	Short: "Print the subtree below a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "NodeTree")
		if err != nil {
			return err
		}
		defer a.Close()

		tree, err := a.Tree(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(tree)
		}
		printTree(tree, 0)
		return nil
	},
}

func printTree(e *meta.TreeEntry, depth int) {
	name := e.Name
	if e.Kind == model.KindFolder {
		name += "/"
	}
	fmt.Printf("%s%s  (%s)\n", strings.Repeat("  ", depth), name, e.ID)
	for _, c := range e.Children {
		printTree(c, depth+1)
	}
}

var nodePathCmd = &cobra.Command{
	Use:   "path NODE_ID",
	Short: "Show a node's materialized and exposed paths",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "NodePath")
		if err != nil {
			return err
		}
		defer a.Close()

		mat, exposed, err := a.Paths(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("materialized: %s\nexposed:      %s\n", mat, exposed)
		return nil
	},
}

var nodeCheckoutCmd = &cobra.Command{
	Use:   "checkout FILE_ID [USER_ID]",
	Short: "Check a file out to a user; without USER_ID, release it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := ""
		if len(args) == 2 {
			user = args[1]
		}
		a, err := newApp(cmd, "NodeCheckout", args...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Checkout(cmd.Context(), args[0], user)
	},
}

// version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage file versions",
}

var versionLogCmd = &cobra.Command{
	Use:   "log FILE_ID",
	Short: "View file version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "VersionLog")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.VersionLog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No versions.")
			return nil
		}
		for _, e := range entries {
			flags := ""
			if e.Archived {
				flags += "  [archived]"
			}
			if e.Draft {
				flags += "  [draft]"
			}
			if e.IsCurrent {
				flags += "  [current]"
			}
			fmt.Printf("#%-4d %-16s  %s  %-10s  %d%s\n",
				e.Seq,
				e.Identifier,
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.CreatorID,
				e.Size,
				flags,
			)
		}
		return nil
	},
}

var versionTouchCmd = &cobra.Command{
	Use:   "touch FILE_ID [REVISION]",
	Short: "Refresh a file's metadata from the gateway",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		revision := ""
		if len(args) == 2 {
			revision = args[1]
		}
		a, err := newApp(cmd, "VersionTouch", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Touch(cmd.Context(), args[0], revision)
		if err != nil {
			return err
		}
		state := "ephemeral"
		if v.Saved() {
			state = fmt.Sprintf("#%d", v.Seq)
		}
		fmt.Printf("%s  %s  %d bytes\n", state, v.Identifier, v.Size)
		return nil
	},
}

var versionArchiveCmd = &cobra.Command{
	Use:   "archive VERSION_ID CONTENT_FILE",
	Short: "Archive a version's content to the vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "VersionArchive", args[0])
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.ArchiveVersion(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Archived %s as %s\n", v.ID, v.ArchiveRef.String)
		return nil
	},
}

var versionFetchCmd = &cobra.Command{
	Use:   "fetch VERSION_ID OUTPUT_FILE",
	Short: "Fetch and decrypt a version's archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "VersionFetch")
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := os.OpenFile(args[1], os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		if err := a.FetchArchive(cmd.Context(), args[0], passphrase, out); err != nil {
			out.Close()
			os.Remove(args[1])
			return err
		}
		return out.Close()
	},
}

// trash command
var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Delete and restore nodes",
}

var trashDeleteCmd = &cobra.Command{
	Use:   "delete NODE_ID ACTOR",
	Short: "Move a node and its descendants to the trash",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "NodeDelete", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		tomb, err := a.Delete(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Trashed %s (%s) by %s at %s\n", tomb.ID, tomb.Path, tomb.DeletedBy, tomb.DeletedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var trashRestoreCmd = &cobra.Command{
	Use:   "restore TOMBSTONE_ID",
	Short: "Restore a trashed node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("into")
		recursive, _ := cmd.Flags().GetBool("recursive")

		a, err := newApp(cmd, "NodeRestore", args[0], dest)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Restore(cmd.Context(), args[0], dest, recursive)
		if err != nil {
			return err
		}
		printNode(n)
		return nil
	},
}

// guid command
var guidCmd = &cobra.Command{
	Use:   "guid",
	Short: "Stable identifiers",
}

var guidForCmd = &cobra.Command{
	Use:   "for NODE_ID",
	Short: "Get or allocate the guid of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GuidFor", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.GuidFor(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(g.ID)
		return nil
	},
}

var guidResolveCmd = &cobra.Command{
	Use:   "resolve GUID",
	Short: "Show what a guid points at",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GuidResolve")
		if err != nil {
			return err
		}
		defer a.Close()

		target, err := a.GuidResolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("referent: %s\n", target.Referent)
		switch {
		case target.Node != nil:
			printNode(target.Node)
		case target.Trashed != nil:
			fmt.Printf("trashed by %s at %s: %s\n", target.Trashed.DeletedBy, target.Trashed.DeletedAt.Format("2006-01-02 15:04:05"), target.Trashed.Path)
		}
		return nil
	},
}

// comment command
var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Comments anchored to file guids",
}

var commentAddCmd = &cobra.Command{
	Use:   "add NODE_ID USER_ID TEXT",
	Short: "Comment on a node",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CommentAdd", args[0], args[1])
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.AddComment(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("%s on %s\n", c.ID, c.RootTarget)
		return nil
	},
}

var commentListCmd = &cobra.Command{
	Use:   "list GUID",
	Short: "List the comments anchored to a guid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CommentList")
		if err != nil {
			return err
		}
		defer a.Close()

		comments, err := a.ListComments(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, c := range comments {
			fmt.Printf("%s  %-10s  %-12s  %s\n", c.CreatedAt.Format("2006-01-02 15:04:05"), c.UserID, c.ProjectID, c.Content)
		}
		return nil
	},
}

// event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Stage and process gateway events",
}

var eventIngestCmd = &cobra.Command{
	Use:   "ingest [FILE]",
	Short: "Stage events from FILE (or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		var r io.Reader = os.Stdin
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening events: %w", err)
			}
			defer f.Close()
			r = f
		}

		a, err := newApp(cmd, "EventIngest")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.IngestEvents(r, format)
		fmt.Printf("Staged %d event(s)\n", n)
		return err
	},
}

var eventProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Apply staged events in arrival order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "EventProcess")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.ProcessEvents(cmd.Context())
		fmt.Printf("Processed %d event(s)\n", n)
		return err
	},
}

var eventStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many events are queued",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "EventStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.QueuedEvents()
		if err != nil {
			return err
		}
		fmt.Printf("%d event(s) queued\n", n)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage archive encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the archive key pair and copy it to the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "KeysInit")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.KeysInit(passphrase); err != nil {
			return err
		}
		fmt.Println("Keys generated and stored in the vault.")
		return nil
	},
}

var keysFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the archive key pair from the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "KeysFetch")
		if err != nil {
			return err
		}
		defer a.Close()

		written, err := a.KeysFetch()
		if err != nil {
			return err
		}
		if len(written) == 0 {
			fmt.Println("Keys already present; nothing fetched.")
			return nil
		}
		for _, p := range written {
			fmt.Printf("Wrote %s\n", p)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				duration = op.FinishedAt.Time.Sub(op.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-16s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Echo debug logs to stderr")

	configCmd.AddCommand(configInitCmd, configListCmd)

	providerCmd.AddCommand(providerListCmd, providerSetRootCmd)

	nodeCmd.AddCommand(nodeGetCmd, nodeMkdirCmd, nodeChildrenCmd, nodeTreeCmd, nodePathCmd, nodeCheckoutCmd)
	nodeMkdirCmd.Flags().Bool("file", false, "Create a file instead of a folder")
	nodeTreeCmd.Flags().Bool("yaml", false, "Print the tree as YAML")

	versionCmd.AddCommand(versionLogCmd, versionTouchCmd, versionArchiveCmd, versionFetchCmd)

	trashCmd.AddCommand(trashDeleteCmd, trashRestoreCmd)
	trashRestoreCmd.Flags().String("into", "", "Restore under this folder ID instead of the original parent")
	trashRestoreCmd.Flags().BoolP("recursive", "r", true, "Restore trashed descendants too")

	guidCmd.AddCommand(guidForCmd, guidResolveCmd)
	commentCmd.AddCommand(commentAddCmd, commentListCmd)

	eventCmd.AddCommand(eventIngestCmd, eventProcessCmd, eventStatusCmd)
	eventIngestCmd.Flags().StringP("format", "f", app.FormatJSON, "Input format: json or yaml")

	keysCmd.AddCommand(keysInitCmd, keysFetchCmd)

	rootCmd.AddCommand(configCmd, providerCmd, nodeCmd, versionCmd, trashCmd, guidCmd, commentCmd, eventCmd, keysCmd, historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
