package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"harvester/pkg/auth"
	"harvester/pkg/config"
	"harvester/pkg/models"
	"harvester/pkg/ui"
)

// accountsCmd represents the accounts command
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage scraping accounts",
	Long: `Manage the session credentials of scraping accounts.

Credentials are stored using:
  - System keychain (when available and enabled)
  - Encrypted file with PBKDF2 key derivation
  - HARVESTER_AUTH_TOKEN / HARVESTER_CT0 environment variables (read only)

Never share your credentials or the credentials file!`,
}

var accountsImportCmd = &cobra.Command{
	Use:   "import <username> <cookies.json>",
	Short: "Import an account from a browser cookie export",
	Long:  auth.CookieExportGuide,
	Example: `  # Import a cookie export for one account
  harvester accounts import research_bot_1 ~/Downloads/cookies.json`,
	Args: cobra.ExactArgs(2),
	RunE: runAccountsImport,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var accountsRemoveCmd = &cobra.Command{
	Use:     "remove <username>",
	Aliases: []string{"rm"},
	Short:   "Remove stored credentials",
	Args:    cobra.ExactArgs(1),
	RunE:    runAccountsRemove,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsImportCmd)
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
}

func runAccountsImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil, false)
	if err != nil {
		return err
	}
	manager, err := openAccounts(&cfg.Accounts)
	if err != nil {
		return fatal(err)
	}

	account, err := auth.ImportCookies(args[0], args[1])
	if err != nil {
		return fatal(err)
	}

	existing, err := manager.List()
	if err != nil {
		return fatal(err)
	}
	for _, a := range existing {
		if a.Username == account.Username {
			ui.PrintWarning("Account already stored, updating credentials", account.Username)
			account.Proxy = a.Proxy
		}
	}
	if account.Proxy == "" {
		account.Proxy = auth.ProxyFor(auth.PositionOf(account.Username, existing), cfg.Accounts.Proxies)
	}

	if err := manager.Store(account); err != nil {
		return fatal(fmt.Errorf("failed to store credentials: %w", err))
	}

	ui.PrintSuccess("Stored account " + account.Username)
	if account.Proxy != "" {
		ui.PrintInfo("Proxy", account.Proxy)
	}
	return nil
}

func runAccountsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil, false)
	if err != nil {
		return err
	}
	manager, err := openAccounts(&cfg.Accounts)
	if err != nil {
		return fatal(err)
	}

	accounts, err := manager.Accounts(cmd.Context())
	if err != nil {
		return fatal(err)
	}
	if len(accounts) == 0 {
		ui.PrintWarning("No accounts stored")
		fmt.Fprintln(ui.Output, "\nImport one with:\n  harvester accounts import <username> <cookies.json>")
		return nil
	}

	rows := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, *a)
	}
	fmt.Fprintln(ui.Output, ui.AccountTable(rows, time.Now()))
	return nil
}

func runAccountsRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil, false)
	if err != nil {
		return err
	}
	manager, err := openAccounts(&cfg.Accounts)
	if err != nil {
		return fatal(err)
	}

	if err := manager.Delete(args[0]); err != nil {
		return fatal(err)
	}
	ui.PrintSuccess("Removed account " + args[0])
	return nil
}

// passphraseFor returns the passphrase to open the credentials file with.
// Empty means the store falls back to HARVESTER_PASSPHRASE or its saved key.
func passphraseFor(cfg *config.AccountsConfig) (string, error) {
	path, err := auth.CredentialsPath(cfg)
	if err != nil {
		return "", err
	}
	if auth.HasPassphrase(path) || !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}

	fmt.Fprint(os.Stderr, "Credentials file passphrase (empty to generate one): ")
	passphrase, err := readPassword()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// readPassword reads a password from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
