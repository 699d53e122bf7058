// Package config loads the careflow command line profile: the API endpoint,
// call limits and the credentials used for each role.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dukex/careflow/pkg/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL      = "http://localhost:9092"
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 4
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
)

var ErrInvalidProfile = errors.New("invalid profile")

// Profile is the structure of the careflow.yaml file.
type Profile struct {
	APIURL      string                       `yaml:"api_url"`
	Timeout     time.Duration                `yaml:"timeout"`
	Concurrency int                          `yaml:"concurrency"`
	LogLevel    string                       `yaml:"log_level"`
	LogFormat   string                       `yaml:"log_format"`
	Credentials map[auth.Role]CredentialFile `yaml:"credentials"`
}

// CredentialFile holds either a fixed access token or an OAuth2 client
// credentials grant for one role.
type CredentialFile struct {
	Token        string   `yaml:"token"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// DefaultProfile returns the profile used when no file is given.
func DefaultProfile() Profile {
	return Profile{
		APIURL:      DefaultAPIURL,
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		Credentials: map[auth.Role]CredentialFile{},
	}
}

// LoadProfile loads a profile from a YAML file. Environment variables in
// the file are expanded and unset fields take their defaults.
func LoadProfile(filepath string) (Profile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile %s: %w", filepath, err)
	}

	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile document.
func ParseProfile(data []byte) (Profile, error) {
	var profile Profile

	err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &profile)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidProfile, err)
	}

	profile = profile.withDefaults()

	err = ValidateProfile(profile)
	if err != nil {
		return Profile{}, err
	}

	return profile, nil
}

// LoadProfileOrDefault loads the profile at filepath, or the default
// profile when filepath is empty.
func LoadProfileOrDefault(filepath string) (Profile, error) {
	if filepath == "" {
		return DefaultProfile(), nil
	}

	return LoadProfile(filepath)
}

func (p Profile) withDefaults() Profile {
	defaults := DefaultProfile()

	if p.APIURL == "" {
		p.APIURL = defaults.APIURL
	}

	if p.Timeout == 0 {
		p.Timeout = defaults.Timeout
	}

	if p.Concurrency == 0 {
		p.Concurrency = defaults.Concurrency
	}

	if p.LogLevel == "" {
		p.LogLevel = defaults.LogLevel
	}

	if p.LogFormat == "" {
		p.LogFormat = defaults.LogFormat
	}

	if p.Credentials == nil {
		p.Credentials = defaults.Credentials
	}

	return p
}

// ValidateProfile validates a loaded profile.
func ValidateProfile(profile Profile) error {
	parsed, err := url.Parse(profile.APIURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: api_url %q is not an absolute URL", ErrInvalidProfile, profile.APIURL)
	}

	if profile.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidProfile)
	}

	if profile.LogFormat != "text" && profile.LogFormat != "json" {
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidProfile)
	}

	if profile.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidProfile)
	}

	for role, credential := range profile.Credentials {
		if role != auth.RoleDoctor && role != auth.RoleAdmin {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidProfile, role)
		}

		if err := validateCredential(role, credential); err != nil {
			return err
		}
	}

	return nil
}

func validateCredential(role auth.Role, credential CredentialFile) error {
	grant := credential.TokenURL != "" || credential.ClientID != "" || credential.ClientSecret != ""

	switch {
	case credential.Token != "" && grant:
		return fmt.Errorf("%w: credentials.%s: token and client credentials are exclusive", ErrInvalidProfile, role)
	case grant && (credential.TokenURL == "" || credential.ClientID == ""):
		return fmt.Errorf("%w: credentials.%s: token_url and client_id are required", ErrInvalidProfile, role)
	}

	return nil
}

// WithToken overrides the credential of role with a fixed access token.
// An empty token leaves the profile unchanged.
func (p Profile) WithToken(role auth.Role, token string) Profile {
	if token == "" {
		return p
	}

	credentials := make(map[auth.Role]CredentialFile, len(p.Credentials)+1)
	for r, c := range p.Credentials {
		credentials[r] = c
	}

	credentials[role] = CredentialFile{Token: token}
	p.Credentials = credentials

	return p
}

// Tokens builds the token provider for the profile credentials. Client
// credential grants fetch their tokens with ctx.
func (p Profile) Tokens(ctx context.Context) *auth.Tokens {
	sources := make(map[auth.Role]oauth2.TokenSource, len(p.Credentials))

	for role, credential := range p.Credentials {
		switch {
		case credential.Token != "":
			sources[role] = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential.Token, TokenType: "Bearer"})
		case credential.TokenURL != "":
			grant := clientcredentials.Config{
				ClientID:     credential.ClientID,
				ClientSecret: credential.ClientSecret,
				TokenURL:     credential.TokenURL,
				Scopes:       credential.Scopes,
			}
			sources[role] = grant.TokenSource(ctx)
		}
	}

	return auth.NewTokens(sources)
}
