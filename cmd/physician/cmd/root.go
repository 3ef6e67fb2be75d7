package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/physician/pkg/config"
	ptls "github.com/psantana5/physician/pkg/tls"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	apiKey       string
	caCertFile   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "physician",
	Short: "PHYSICIAN kinematic safety layer",
	Long: `physician verifies robot motion commands before they run: a vision model
estimates the scene's physics, a rigid-body simulation tries the motion, and the
arbiter returns GO or BLOCKED.

Run "physician serve" to start the API, or use the client commands against a
running server.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.physician/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "PHYSICIAN API URL (default from config or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&caCertFile, "ca-cert", "", "CA certificate for an HTTPS server with a private certificate")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	config.Setup(viper.GetViper(), cfgFile)

	viper.BindEnv("api_key", "PHYSICIAN_API_KEY")
	viper.BindEnv("server_url", "PHYSICIAN_SERVER_URL")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}

	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if serverURL == "" {
		serverURL = viper.GetString("server_url")
	}
	if serverURL == "" {
		serverURL = "http://localhost:8000"
	}
}

// GetServerURL returns the configured server URL with trailing slashes removed
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// CreateAuthenticatedRequest creates an HTTP request with authentication header if API key is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// GetHTTPClient returns the client used by every API command. Verification
// waits on two model calls, so the timeout is generous.
func GetHTTPClient() (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caCertFile != "" {
		tlsConfig, err := ptls.LoadClientTLSConfig("", "", caCertFile)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &http.Client{Timeout: 2 * time.Minute, Transport: transport}, nil
}

// doRequest sends req and decodes a 200 JSON body into out. Any other status
// becomes an error carrying the server's detail message.
func doRequest(req *http.Request, out interface{}) error {
	client, err := GetHTTPClient()
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to PHYSICIAN API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Detail != "" {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Detail)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// IsYAMLOutput returns true if YAML output is requested
func IsYAMLOutput() bool {
	return outputFormat == "yaml"
}

// printStructured writes v as JSON or YAML and reports whether it did
func printStructured(w io.Writer, v interface{}) (bool, error) {
	switch {
	case IsJSONOutput():
		output, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Fprintln(w, string(output))
		return true, nil
	case IsYAMLOutput():
		// Go through JSON so the keys match the API's field names
		raw, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return true, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		if err := enc.Encode(doc); err != nil {
			return true, fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return true, nil
	}
	return false, nil
}
