package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"igcomments/pkg/auth"
	"igcomments/pkg/config"
	"igcomments/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage captured Instagram sessions",
	Long: `Manage stored Instagram sessions securely.

A session is the set of cookies (and optionally headers) copied from a
logged-in browser. Sessions are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your cookies or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a captured session",
	Long: `Store the cookies of a logged-in browser session under a name.

You will be prompted for:
  - sessionid, csrftoken and ds_user_id cookies (hidden input)
  - rur cookie (optional)
  - X-IG-App-ID header (optional)
  - User-Agent (optional, press Enter for default)`,
	Example: `  # Interactive login
  igcomments auth login

  # Store the session as "work"
  igcomments auth login work`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove a stored session",
	Long: `Remove a stored session.

If no name is provided, you will be shown a list of stored sessions
to choose from.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Long:  `List stored sessions with masked cookie values.`,
	Run:   runList,
}

// switchCmd represents the auth switch command
var switchCmd = &cobra.Command{
	Use:   "switch [name]",
	Short: "Select the session crawls use by default",
	Long: `Select the stored session that crawls use when --account is not given.

The choice is written to the configuration file as instagram.account.`,
	Example: `  # Interactive switch
  igcomments auth switch

  # Switch to a specific session
  igcomments auth switch work`,
	Args: cobra.MaximumNArgs(1),
	Run:  runSwitch,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
	authCmd.AddCommand(switchCmd)
}

func mustManager() *auth.Manager {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err)
		os.Exit(1)
	}
	return manager
}

func runLogin(cmd *cobra.Command, args []string) {
	manager := mustManager()
	reader := bufio.NewReader(os.Stdin)

	name := "default"
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	auth.ShowCaptureGuide(os.Stdout)

	fmt.Print("Ready to enter your cookies? (Y/n): ")
	ready, _ := reader.ReadString('\n')
	if strings.ToLower(strings.TrimSpace(ready)) == "n" {
		fmt.Println("\nRun 'igcomments auth login' when you're ready.")
		return
	}

	if existing, _ := manager.Retrieve(name); existing != nil && existing.Name != auth.EnvAccountName {
		fmt.Printf("\nSession '%s' already exists. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	account := &auth.Account{
		Name:    name,
		Cookies: map[string]string{},
		Headers: map[string]string{},
	}

	fmt.Println("\nEnter the cookie values (input is hidden):")
	for _, cookie := range config.RequiredCookies {
		for {
			fmt.Printf("%s: ", cookie)
			value, err := readPassword(reader)
			if err != nil {
				ui.PrintError("Failed to read "+cookie, err)
				os.Exit(1)
			}
			if value != "" {
				account.Cookies[cookie] = value
				break
			}
			fmt.Printf("%s is required.\n", cookie)
		}
	}

	fmt.Print("rur (optional): ")
	if rur, err := readPassword(reader); err == nil && rur != "" {
		account.Cookies["rur"] = rur
	}

	fmt.Print("X-IG-App-ID header (optional): ")
	appID, _ := reader.ReadString('\n')
	if appID = strings.TrimSpace(appID); appID != "" {
		account.Headers["X-IG-App-ID"] = appID
	}

	fmt.Print("User-Agent (press Enter to use default): ")
	userAgent, _ := reader.ReadString('\n')
	if userAgent = strings.TrimSpace(userAgent); userAgent != "" {
		account.Headers["User-Agent"] = userAgent
	}

	if err := manager.Store(account); err != nil {
		ui.PrintError("Failed to store session", err)
		os.Exit(1)
	}

	sanitized := auth.SanitizeAccount(account)
	fmt.Println("\nStored:")
	for _, cookie := range sortedKeys(sanitized.Cookies) {
		fmt.Printf("   %s: %s\n", cookie, sanitized.Cookies[cookie])
	}
	fmt.Println("   in:", strings.Join(manager.Locations(), ", "))
	ui.PrintSuccess("Session saved: " + name)

	fmt.Println("\nCrawl a post with this session:")
	fmt.Printf("   $ igcomments crawl <post-url> --account %s\n", name)
}

func runLogout(cmd *cobra.Command, args []string) {
	manager := mustManager()

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		name = chooseAccount(manager, "Select session to remove:")
		if name == "" {
			return
		}
	}

	if err := manager.Delete(name); err != nil {
		ui.PrintError("Failed to remove session", err)
		os.Exit(1)
	}
	ui.PrintSuccess("Session removed: " + name)
}

func runList(cmd *cobra.Command, args []string) {
	manager := mustManager()

	accounts, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list sessions", err)
		os.Exit(1)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored sessions", "Use 'igcomments auth login' to add one")
		return
	}

	current := ""
	if cfg, err := config.LoadFile(config.FilePath(configFile)); err == nil {
		current = cfg.Instagram.Account
	}

	ui.PrintHighlight("Stored Sessions")
	fmt.Println()
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		marker := ""
		if account.Name == current {
			marker = " (selected)"
		}
		fmt.Printf("%d. %s%s\n", i+1, sanitized.Name, marker)
		for _, cookie := range sortedKeys(sanitized.Cookies) {
			fmt.Printf("   %s: %s\n", cookie, sanitized.Cookies[cookie])
		}
		if ua := sanitized.Headers["User-Agent"]; ua != "" {
			fmt.Printf("   User-Agent: %s\n", ua)
		}
		if !sanitized.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
}

func runSwitch(cmd *cobra.Command, args []string) {
	manager := mustManager()

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		name = chooseAccount(manager, "Select session:")
		if name == "" {
			return
		}
	}

	if _, err := manager.Retrieve(name); err != nil {
		ui.PrintError("Session not found", name)
		os.Exit(1)
	}

	path := config.FilePath(configFile)
	cfg, err := config.LoadFile(path)
	if err != nil {
		ui.PrintError("Failed to load configuration", err)
		os.Exit(1)
	}
	cfg.Instagram.Account = name
	if err := cfg.Save(path); err != nil {
		ui.PrintError("Failed to save configuration", err)
		os.Exit(1)
	}
	ui.PrintSuccess("Session selected: " + name)
	ui.PrintInfo("Configuration", path)
}

// chooseAccount shows a numbered menu; it returns "" when cancelled
func chooseAccount(manager *auth.Manager, prompt string) string {
	accounts, err := manager.List()
	if err != nil || len(accounts) == 0 {
		ui.PrintError("No stored sessions found")
		return ""
	}

	fmt.Println(prompt)
	for i, account := range accounts {
		fmt.Printf("  %d. %s\n", i+1, account.Name)
	}
	fmt.Printf("  0. Cancel\n\n")

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Choice: ")
	input, _ := reader.ReadString('\n')

	var choice int
	fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)
	if choice == 0 {
		return ""
	}
	if choice < 0 || choice > len(accounts) {
		ui.PrintError("Invalid choice")
		os.Exit(1)
	}
	return accounts[choice-1].Name
}

// readPassword reads a secret from stdin without echoing when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
