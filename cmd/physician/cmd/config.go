package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/physician/pkg/auth"
	"github.com/psantana5/physician/pkg/config"
	"github.com/psantana5/physician/pkg/logging"
	ptls "github.com/psantana5/physician/pkg/tls"
)

var (
	certDir   string
	certHosts []string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
	Long:  `Inspect the effective server configuration and generate keys, certificates and logrotate rules.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML (secrets redacted)",
	RunE:  runConfigShow,
}

var configLogrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate rule for the server log directory",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), logging.GenerateLogrotateConfig("physician"))
	},
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a client API key and its bcrypt hash",
	Long: `Generate a random client API key. Give the key to the client (PHYSICIAN_API_KEY)
and put the hash under server.auth.api_keys.`,
	RunE: runConfigKeygen,
}

var configCertCmd = &cobra.Command{
	Use:   "cert",
	Short: "Generate a self-signed TLS certificate for the server",
	RunE:  runConfigCert,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configLogrotateCmd)
	configCmd.AddCommand(configKeygenCmd)
	configCmd.AddCommand(configCertCmd)

	configCertCmd.Flags().StringVar(&certDir, "dir", filepath.Join(config.DefaultConfigDir(), "certs"), "output directory")
	configCertCmd.Flags().StringSliceVar(&certHosts, "host", nil, "extra IP address or DNS name (repeatable)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return nil
}

func runConfigKeygen(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if done, err := printStructured(out, map[string]string{"api_key": key, "hash": hash}); done {
		return err
	}
	fmt.Fprintf(out, "API key: %s\n", key)
	fmt.Fprintf(out, "Hash:    %s\n", hash)
	fmt.Fprintln(out, "\nAdd the hash to server.auth.api_keys and keep the key secret.")
	return nil
}

func runConfigCert(cmd *cobra.Command, args []string) error {
	certFile := filepath.Join(certDir, "server.crt")
	keyFile := filepath.Join(certDir, "server.key")
	if err := ptls.GenerateSelfSignedCert(certFile, keyFile, "physician", certHosts...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Certificate: %s\n✓ Key:         %s\n", certFile, keyFile)
	fmt.Fprintf(cmd.OutOrStdout(), "\nClients can trust it with: physician --ca-cert %s ...\n", certFile)
	return nil
}
