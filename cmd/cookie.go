package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"panshare/internal"
	"panshare/netdisk"
)

var cookieFile string

var cookieCmd = &cobra.Command{
	Use:   "cookie",
	Short: "Manage provider session cookies stored in the catalog",
	Long: `Manage the session cookies stored in the catalog database. Stored cookies
take precedence over QUARK_PAN_COOKIE and BAIDU_PAN_COOKIE.

Examples:
  panshare cookie set quark --file cookies.txt
  echo "BDUSS=...; STOKEN=..." | panshare cookie set baidu
  panshare cookie show baidu
  panshare cookie delete quark`,
}

var cookieSetCmd = &cobra.Command{
	Use:   "set <PROVIDER> [COOKIE]",
	Short: "Store the session cookie for a provider",
	Long: `Store the session cookie for a provider. The cookie is taken from the
argument, from a Netscape-format cookie file given with --file, or from stdin.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := parseProviderArg(args[0])
		if err != nil {
			return err
		}

		var cookie string
		switch {
		case len(args) == 2:
			cookie = args[1]
		case cookieFile != "":
			cookie, err = netdisk.LoadNetscapeCookieHeader(cookieFile, netdisk.CookieDomain(provider))
			if err != nil {
				validationErr := internal.NewValidationErrorWithValue("cookies_file", err.Error(), cookieFile).
					WithSuggestion("Ensure the file exists and is in Netscape cookie format")
				internal.LogValidationError(validationErr)
				return err
			}
		default:
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 64*1024), 1024*1024)
			if scanner.Scan() {
				cookie = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read cookie from stdin: %w", err)
			}
		}

		cookie = strings.TrimSpace(cookie)
		if cookie == "" {
			return internal.NewValidationError("cookie", "cookie is empty")
		}
		if len(cookie) < config.CredentialMinLength {
			internal.GetLogger().Warn("cookie for %s is only %d bytes and will be rejected until replaced", provider.Name(), len(cookie))
		}

		ctx, cancel := signalContext()
		defer cancel()

		store, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SaveCredential(ctx, provider.Name(), cookie); err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("🍪 Stored %d-byte cookie for %s\n", len(cookie), provider.DisplayName())
		}
		return nil
	},
}

var cookieShowCmd = &cobra.Command{
	Use:   "show <PROVIDER>",
	Short: "Show a redacted view of the cookie in effect for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := parseProviderArg(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		store, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		source := "catalog"
		cookie, ok, err := store.GetCredential(ctx, provider.Name())
		if err != nil {
			return err
		}
		if !ok {
			source = "configuration"
			cookie = config.Cookie(provider)
		}
		if cookie == "" {
			return internal.NewCredentialMissingError(provider.Name())
		}

		return printJSON(map[string]interface{}{
			"provider": provider.Name(),
			"source":   source,
			"length":   len(cookie),
			"valid":    len(cookie) >= config.CredentialMinLength,
			"names":    cookieNames(cookie),
		})
	},
}

var cookieDeleteCmd = &cobra.Command{
	Use:   "delete <PROVIDER>",
	Short: "Remove the stored cookie for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := parseProviderArg(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		store, err := openCatalog(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.DeleteCredential(ctx, provider.Name())
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no cookie stored for %s", provider.Name())
		}
		if !quiet {
			fmt.Printf("Removed cookie for %s\n", provider.DisplayName())
		}
		return nil
	},
}

func parseProviderArg(name string) (internal.ProviderIdentity, error) {
	p := internal.ParseProvider(name)
	if p == internal.ProviderUnknown {
		return p, internal.NewValidationErrorWithValue("provider", "unknown provider", name).
			WithSuggestion("Use quark or baidu")
	}
	return p, nil
}

// cookieNames lists the cookie names of a header without their values
func cookieNames(header string) []string {
	var names []string
	for _, part := range strings.Split(header, ";") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func init() {
	cookieSetCmd.Flags().StringVarP(&cookieFile, "file", "f", "", "Netscape-format cookie file to import")
	cookieCmd.AddCommand(cookieSetCmd, cookieShowCmd, cookieDeleteCmd)
}
