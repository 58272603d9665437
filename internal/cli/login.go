package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/domain"
)

func NewLoginCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <display name>",
		Short: "Get a guest identity token",
		Long:  "Ask the server for a guest identity and print the token to export as HUDDLE_CLIENT_TOKEN.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := NewFormatter(deps.Out)
			base, err := apiBase(deps.Config.Client.ServerURL)
			if err != nil {
				return err
			}
			user, token, err := requestToken(cmd.Context(), base, strings.Join(args, " "))
			if err != nil {
				return err
			}
			deps.Config.Client.Token = token
			formatter.LoggedIn(user, token)
			return nil
		},
	}
	return cmd
}

// apiBase turns the sync socket URL into the server's HTTP root.
func apiBase(syncURL string) (string, error) {
	u, err := url.Parse(syncURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api/ws/sync")
	u.RawQuery = ""
	u.RawPath = ""
	u.ForceQuery = false
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}

func requestToken(ctx context.Context, base, displayName string) (domain.User, string, error) {
	body, err := json.Marshal(router.TokenRequest{DisplayName: displayName})
	if err != nil {
		return domain.User{}, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/auth/token", bytes.NewReader(body))
	if err != nil {
		return domain.User{}, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return domain.User{}, "", fmt.Errorf("requesting token: %s: %s", resp.Status, e.Error)
	}
	var out router.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.User{}, "", fmt.Errorf("decoding token response: %w", err)
	}
	return domain.User{ID: out.UserID, DisplayName: out.DisplayName}, out.Token, nil
}
