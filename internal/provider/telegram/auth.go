package telegram

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// Prompter supplies the three interactive login stages (spec §4.4:
// "phone number, one-time code delivered in-app, optional two-factor
// password"). The CLI's login verb uses StdinPrompter; tests substitute
// a scripted one.
type Prompter interface {
	Phone(ctx context.Context) (string, error)
	Code(ctx context.Context) (string, error)
	Password(ctx context.Context) (string, error)
}

// StdinPrompter reads each stage from the controlling terminal.
type StdinPrompter struct{}

func (StdinPrompter) Phone(ctx context.Context) (string, error) {
	return readLine("Phone number (E.164, e.g. +15551234567): ")
}

func (StdinPrompter) Code(ctx context.Context) (string, error) {
	return readLine("Login code: ")
}

func (StdinPrompter) Password(ctx context.Context) (string, error) {
	return readPassword("Two-factor password: ")
}

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stdout, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads a password without echoing it when stdin is a
// terminal, falling back to a plain line read for piped input.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stdout, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stdout)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// authenticator adapts a Prompter to gotd/td's auth.UserAuthenticator.
type authenticator struct{ prompter Prompter }

func (a authenticator) Phone(ctx context.Context) (string, error) { return a.prompter.Phone(ctx) }

func (a authenticator) Password(ctx context.Context) (string, error) { return a.prompter.Password(ctx) }

func (a authenticator) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return nil
}

func (a authenticator) Code(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
	return a.prompter.Code(ctx)
}

func (a authenticator) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, fmt.Errorf("telegram: this phone number has no Telegram account; sign up via the official app first")
}

// Login runs the interactive phone/code/password flow while connected,
// then persists the session via the client's SessionStorage. On any
// failure no new state is written (spec: "failure cleans up without
// writing state" — gotd/td's FileStorage only writes on a successful
// AuthResult, so a failed flow leaves the prior file, if any, untouched).
func (p *Provider) Login(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	prompter := p.prompter
	p.mu.RUnlock()
	if client == nil {
		return provider.NewError(provider.ErrKindInternal, "telegram: Login called before Initialize", nil)
	}

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err == nil && status.Authorized {
			L_info("telegram: already authorized", "user", status.User.Username)
			p.mu.Lock()
			p.authenticated = true
			p.mu.Unlock()
			return nil
		}

		flow := auth.NewFlow(authenticator{prompter: prompter}, auth.SendCodeOptions{})
		if err := flow.Run(ctx, client.Auth()); err != nil {
			return provider.NewError(provider.ErrKindAuth, "telegram login failed", err)
		}

		self, err := client.Self(ctx)
		if err != nil {
			return provider.NewError(provider.ErrKindAuth, "telegram: fetching own user after login", err)
		}
		p.mu.Lock()
		p.selfID = self.ID
		p.selfUsername = self.Username
		p.authenticated = true
		p.mu.Unlock()
		L_info("telegram: login successful", "userId", self.ID, "username", self.Username)
		return nil
	})
}

// Logout revokes the server-side session and erases both the preferred
// and legacy on-disk session files (spec §4.4).
func (p *Provider) Logout(ctx context.Context) error {
	p.mu.RLock()
	client := p.client
	sessionPath := p.sessionPath
	p.mu.RUnlock()
	if client == nil {
		return provider.NewError(provider.ErrKindInternal, "telegram: Logout called before Initialize", nil)
	}

	runErr := client.Run(ctx, func(ctx context.Context) error {
		if _, err := client.API().AuthLogOut(ctx); err != nil {
			L_warn("telegram: server-side logout failed, erasing local session anyway", "error", err)
		}
		return nil
	})
	if runErr != nil {
		L_warn("telegram: logout connection failed, erasing local session anyway", "error", runErr)
	}

	for _, path := range sessionPaths(sessionPath) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			L_warn("telegram: failed to remove session file", "path", path, "error", err)
		}
	}

	p.mu.Lock()
	p.authenticated = false
	p.selfID = 0
	p.selfUsername = ""
	p.mu.Unlock()
	return nil
}

// sessionPaths returns the preferred path plus the legacy warelay-era
// path in the same directory, mirroring the config file's own
// preferred/legacy fallback naming (spec §4.4: "erases both preferred
// and legacy-path token files").
func sessionPaths(preferred string) []string {
	legacy := filepath.Join(filepath.Dir(preferred), "warelay-session.string")
	return []string{preferred, legacy}
}
