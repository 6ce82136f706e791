package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailChannel sends HTML alerts through the Gmail API.
type GmailChannel struct {
	svc  *gmail.Service
	from string
	to   string
}

type oauthCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type googleCredentialsFile struct {
	Installed *oauthCredentials `json:"installed"`
	Web       *oauthCredentials `json:"web"`
}

// NewGmail builds the channel from OAuth2 credentials JSON and a cached
// token file. A GMAIL_REFRESH_TOKEN env var can seed the token when the
// cache is absent (headless deployments).
func NewGmail(ctx context.Context, credentialsJSON, tokenPath, from, to string) (*GmailChannel, error) {
	creds, err := parseGoogleCredentials(credentialsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OAuth2 credentials: %w", err)
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token, err := getToken(config, tokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth2 token: %w", err)
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	return &GmailChannel{svc: svc, from: from, to: to}, nil
}

func (c *GmailChannel) Name() string { return "email" }

func (c *GmailChannel) Send(ctx context.Context, a Alert) error {
	raw := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		c.from, c.to, a.Subject, a.HTML,
	)
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}
	if _, err := c.svc.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}

func parseGoogleCredentials(credentialsJSON string) (*oauthCredentials, error) {
	var direct oauthCredentials
	if err := json.Unmarshal([]byte(credentialsJSON), &direct); err == nil {
		if direct.ClientID != "" && direct.ClientSecret != "" {
			return &direct, nil
		}
	}

	// Google Cloud Console export wraps credentials in an installed/web section.
	var file googleCredentialsFile
	if err := json.Unmarshal([]byte(credentialsJSON), &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials as Google format: %w", err)
	}
	if file.Installed != nil {
		return file.Installed, nil
	}
	if file.Web != nil {
		return file.Web, nil
	}
	return nil, fmt.Errorf("no valid credentials found in JSON - expected 'installed' or 'web' section")
}

func getToken(config *oauth2.Config, tokenPath string) (*oauth2.Token, error) {
	token, err := loadTokenFromFile(tokenPath)
	if err == nil && token.Valid() {
		return token, nil
	}

	refreshToken := os.Getenv("GMAIL_REFRESH_TOKEN")
	if refreshToken == "" && token != nil && token.RefreshToken != "" {
		refreshToken = token.RefreshToken
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("no usable gmail token at %s and GMAIL_REFRESH_TOKEN unset", tokenPath)
	}

	tokenSource := config.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken})
	newToken, err := tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if err := saveTokenToFile(tokenPath, newToken); err != nil {
		log.Printf("⚠️ Warning: failed to save refreshed gmail token: %v", err)
	}
	return newToken, nil
}

func loadTokenFromFile(filename string) (*oauth2.Token, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	token := &oauth2.Token{}
	err = json.NewDecoder(file).Decode(token)
	return token, err
}

func saveTokenToFile(filename string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return err
	}
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(token)
}
