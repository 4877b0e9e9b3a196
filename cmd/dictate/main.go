// Command dictate is a small client for the dictation API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikhilbhutani/dictation/internal/logging"
	"github.com/nikhilbhutani/dictation/pkg/client"
)

var (
	serviceURL  string
	sessionFile string
	apiKey      string
	debug       bool
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dictate",
		Short:         "Transcribe audio and manage a dictation account",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if debug {
				level = "debug"
			}
			slog.SetDefault(logging.New(os.Stderr, level))
		},
	}

	root.PersistentFlags().StringVar(&serviceURL, "service-url", getEnv("DICTATION_URL", "http://localhost:8080"), "Base URL of the dictation service")
	root.PersistentFlags().StringVar(&sessionFile, "session-file", defaultSessionFile(), "Where the account session is stored")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("DICTATION_API_KEY"), "Shared ingress secret, when the service requires one")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newSignUpCmd(), newLoginCmd(), newLogoutCmd(), newTranscribeCmd())
	return root
}

func newClient(extra ...client.Option) *client.Client {
	opts := []client.Option{client.WithSessionHook(saveSession)}
	if s, err := loadSession(); err != nil {
		slog.Debug("no stored session", "path", sessionFile, "error", err)
	} else {
		opts = append(opts, client.WithSession(s))
	}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	return client.New(serviceURL, append(opts, extra...)...)
}

func newSignUpCmd() *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			res, err := newClient().SignUp(ctx, email, password, name)
			if err != nil {
				return err
			}
			if res.RequiresEmailConfirmation {
				fmt.Fprintf(cmd.OutOrStdout(), "Account %s created. Confirm your email, then run `dictate login`.\n", res.Account.Email)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed up as %s (%s)\n", res.Account.ProfileName, res.Account.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().StringVar(&name, "name", "", "Profile name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			res, err := newClient().SignIn(ctx, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s tier)\n", res.Account.ProfileName, res.Account.Tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := newClient().SignOut(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newTranscribeCmd() *cobra.Command {
	var (
		language  string
		model     string
		keyterms  []string
		openAIKey string
		xiKey     string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file and print the cleaned text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (openAIKey == "") != (xiKey == "") {
				return fmt.Errorf("--openai-key and --elevenlabs-key must be given together")
			}
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			c := newClient(client.WithProviderKeys(openAIKey, xiKey))

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			res, err := c.Transcribe(ctx, filepath.Base(args[0]), audio, client.TranscribeOptions{
				ModelID:      model,
				LanguageCode: language,
				Keyterms:     keyterms,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Code, w.Message)
			}
			fmt.Fprintln(out, res.Transcript.CleanText)
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "Language code hint, e.g. en")
	cmd.Flags().StringVar(&model, "model", "", "Speech-to-text model id")
	cmd.Flags().StringSliceVar(&keyterms, "keyterm", nil, "Vocabulary hint; repeatable")
	cmd.Flags().StringVar(&openAIKey, "openai-key", "", "Your own OpenAI key")
	cmd.Flags().StringVar(&xiKey, "elevenlabs-key", "", "Your own ElevenLabs key")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".dictation-session.json"
	}
	return filepath.Join(dir, "dictation", "session.json")
}

func loadSession() (*client.Session, error) {
	f, err := os.Open(sessionFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s client.Session
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty session file")
		}
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// saveSession persists s, or removes the file when s is nil.
func saveSession(s *client.Session) {
	if s == nil {
		if err := os.Remove(sessionFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove session file", "path", sessionFile, "error", err)
		}
		return
	}
	if err := os.MkdirAll(filepath.Dir(sessionFile), 0o700); err != nil {
		slog.Warn("failed to create session dir", "error", err)
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		slog.Warn("failed to encode session", "error", err)
		return
	}
	if err := os.WriteFile(sessionFile, data, 0o600); err != nil {
		slog.Warn("failed to write session file", "path", sessionFile, "error", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
