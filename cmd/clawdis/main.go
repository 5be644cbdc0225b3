// Command clawdis relays inbound messages from WhatsApp-Web,
// WhatsApp-Business (Twilio), and Telegram to an external AI agent
// subprocess, and streams its replies back (spec §1-2). Verbs:
// login, logout, send, status, relay, heartbeat.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/sevlyar/go-daemon"

	"github.com/roelfdiedericks/clawdis/internal/agent"
	"github.com/roelfdiedericks/clawdis/internal/autoreply"
	"github.com/roelfdiedericks/clawdis/internal/bus"
	"github.com/roelfdiedericks/clawdis/internal/config"
	"github.com/roelfdiedericks/clawdis/internal/lockfile"
	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/paths"
	"github.com/roelfdiedericks/clawdis/internal/provider"
	"github.com/roelfdiedericks/clawdis/internal/relay"
	"github.com/roelfdiedericks/clawdis/internal/session"
	"github.com/roelfdiedericks/clawdis/internal/stt"

	_ "github.com/roelfdiedericks/clawdis/internal/provider/telegram"
	_ "github.com/roelfdiedericks/clawdis/internal/provider/watwilio"
	_ "github.com/roelfdiedericks/clawdis/internal/provider/waweb"
)

// version is set by the release process via ldflags: -X main.version=...
var version = "dev"

// CLI is the top-level kong command tree (spec §6 "CLI surface").
type CLI struct {
	Debug  bool   `help:"Enable debug logging" short:"d"`
	Config string `help:"Config directory override" short:"c" type:"path"`

	Login    LoginCmd    `cmd:"" help:"Pair a provider (QR scan for wa-web, interactive code for telegram)"`
	Logout   LogoutCmd   `cmd:"" help:"Unpair a provider and erase its local session"`
	Send     SendCmd     `cmd:"" help:"Send a single message through a provider"`
	Status   StatusCmd   `cmd:"" help:"Show which providers are configured and authenticated"`
	Relay    RelayCmd    `cmd:"" help:"Run the relay: listen on every selected provider and auto-reply"`
	Heartbeat HeartbeatCmd `cmd:"" help:"Manually fire one heartbeat poll against the configured agent"`
	Version  VersionCmd  `cmd:"" help:"Show version"`
}

// providerFlag is embedded by verbs that operate on a single provider.
type providerFlag struct {
	Provider string `help:"Provider kind: wa-web, wa-twilio, telegram (deprecated: web, twilio)" default:"wa-web"`
}

func (f providerFlag) kind() (provider.Kind, error) {
	kind, deprecated := provider.NormalizeKind(f.Provider)
	if deprecated {
		L_warn("deprecated provider name, use the current spelling", "given", f.Provider, "use", kind)
	}
	if kind != provider.KindWAWeb && kind != provider.KindWATwilio && kind != provider.KindTelegram {
		return "", fmt.Errorf("unknown provider kind %q", f.Provider)
	}
	return kind, nil
}

// LoginCmd pairs a single provider interactively.
type LoginCmd struct {
	providerFlag
}

func (c *LoginCmd) Run(ctx *Context) error {
	kind, err := c.kind()
	if err != nil {
		return err
	}
	p, err := provider.NewInitialized(context.Background(), kind)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", kind, err)
	}
	defer p.Disconnect(context.Background())
	if err := p.Login(context.Background()); err != nil {
		return fmt.Errorf("login %s: %w", kind, err)
	}
	fmt.Printf("%s: paired\n", kind)
	return nil
}

// LogoutCmd unpairs a single provider.
type LogoutCmd struct {
	providerFlag
}

func (c *LogoutCmd) Run(ctx *Context) error {
	kind, err := c.kind()
	if err != nil {
		return err
	}
	p, err := provider.NewInitialized(context.Background(), kind)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", kind, err)
	}
	defer p.Disconnect(context.Background())
	if err := p.Logout(context.Background()); err != nil {
		return fmt.Errorf("logout %s: %w", kind, err)
	}
	fmt.Printf("%s: logged out\n", kind)
	return nil
}

// SendCmd sends a single message through one provider, outside of any
// session or agent pipeline — a direct wire test.
type SendCmd struct {
	providerFlag
	To   string `help:"Destination identifier (E.164 phone, Telegram username/id)" required:""`
	Body string `help:"Message body" required:""`
}

func (c *SendCmd) Run(ctx *Context) error {
	kind, err := c.kind()
	if err != nil {
		return err
	}
	p, err := provider.NewInitialized(context.Background(), kind)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", kind, err)
	}
	defer p.Disconnect(context.Background())
	if !p.IsAuthenticated(context.Background()) {
		return fmt.Errorf("%s is not authenticated; run `clawdis login --provider %s` first", kind, kind)
	}

	result, err := p.Send(context.Background(), c.To, c.Body, provider.SendOptions{})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if result.Status == provider.SendStatusFailed {
		return fmt.Errorf("send failed: %s", result.Error)
	}
	fmt.Printf("sent (id=%s)\n", result.MessageID)
	return nil
}

// StatusCmd reports which provider kinds are available and authenticated,
// without starting the relay.
type StatusCmd struct{}

func (c *StatusCmd) Run(ctx *Context) error {
	available := relay.DetectAvailable()
	all := []provider.Kind{provider.KindWAWeb, provider.KindWATwilio, provider.KindTelegram}

	for _, kind := range all {
		configured := false
		for _, a := range available {
			if a == kind {
				configured = true
			}
		}
		if !configured {
			fmt.Printf("%-10s  not configured\n", kind)
			continue
		}
		p, err := provider.NewInitialized(context.Background(), kind)
		if err != nil {
			fmt.Printf("%-10s  configured, initialize failed: %v\n", kind, err)
			continue
		}
		authed := p.IsAuthenticated(context.Background())
		p.Disconnect(context.Background())
		if authed {
			fmt.Printf("%-10s  authenticated\n", kind)
		} else {
			fmt.Printf("%-10s  configured, not authenticated\n", kind)
		}
	}
	return nil
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx *Context) error {
	fmt.Printf("clawdis %s\n", version)
	return nil
}

// RelayCmd runs the supervisor + auto-reply engine (spec §4.5-4.6).
type RelayCmd struct {
	Providers string `help:"Comma-separated provider kinds to run, or 'auto' to run every configured one" default:"auto"`
	Daemon    bool   `help:"Run in the background as a daemon"`

	Interval       int `help:"wa-twilio poll interval, seconds" default:"10"`
	Lookback       int `help:"wa-twilio lookback window, minutes" default:"5"`
	ReconnectInitialMs   int     `help:"wa-web reconnect: initial backoff, ms" default:"1000"`
	ReconnectMaxMs       int     `help:"wa-web reconnect: max backoff, ms" default:"60000"`
	ReconnectFactor      float64 `help:"wa-web reconnect: backoff multiplier" default:"2.0"`
	ReconnectMaxAttempts int     `help:"wa-web reconnect: max attempts before giving up" default:"10"`

	WebHeartbeat int `help:"wa-web presence keepalive interval, seconds (0 disables)" default:"0"`
}

func (c *RelayCmd) parseProviders() ([]provider.Kind, error) {
	if strings.EqualFold(strings.TrimSpace(c.Providers), "auto") || c.Providers == "" {
		return nil, nil // nil => relay.ResolveProviders auto-detects
	}
	var kinds []provider.Kind
	for _, raw := range strings.Split(c.Providers, ",") {
		kind, deprecated := provider.NormalizeKind(raw)
		if deprecated {
			L_warn("deprecated provider name, use the current spelling", "given", raw, "use", kind)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func (c *RelayCmd) Run(ctx *Context) error {
	if c.Daemon {
		return c.runDaemonized(ctx)
	}
	return c.runForeground(ctx)
}

// runDaemonized backgrounds the relay via go-daemon, in the teacher's
// own PidFile/LogFile convention.
func (c *RelayCmd) runDaemonized(ctx *Context) error {
	dataDir, err := paths.DataPath("")
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if err := paths.EnsureDir(dataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cntxt := &daemon.Context{
		PidFileName: filepath.Join(dataDir, "relay.pid"),
		PidFilePerm: 0644,
		LogFileName: filepath.Join(dataDir, "relay.log"),
		LogFilePerm: 0640,
		WorkDir:     "./",
		Umask:       027,
	}

	d, err := cntxt.Reborn()
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	if d != nil {
		L_info("relay: started in background", "pid", d.Pid)
		return nil
	}
	defer cntxt.Release()

	return c.runForeground(ctx)
}

func (c *RelayCmd) runForeground(ctx *Context) error {
	configDir, err := paths.ResolveConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	lock, err := lockfile.Acquire(configDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	if ctx.Debug {
		// Tool-streaming markers are normally swallowed into the reply
		// body filter (spec §4.6 step 6); surface them at debug level
		// instead of forwarding them to the user.
		bus.SubscribeEvent(agent.ToolEventTopic, func(evt bus.Event) {
			L_debug("agent: tool event", "event", evt.Data)
		})
	}

	kinds, err := c.parseProviders()
	if err != nil {
		return err
	}
	selected, err := relay.ResolveProviders(kinds)
	if err != nil {
		return err
	}
	L_info("relay: selected providers", "providers", selected)

	loadResult, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loadResult.Config

	if err := stt.ApplyConfig(cfg.STT); err != nil {
		L_warn("relay: speech-to-text not available", "error", err)
	}
	defer stt.Close()

	opts := relay.Options{
		Reconnect: config.ReconnectConfig{
			InitialMs:   c.ReconnectInitialMs,
			MaxMs:       c.ReconnectMaxMs,
			Factor:      c.ReconnectFactor,
			Jitter:      config.DefaultReconnectConfig().Jitter,
			MaxAttempts: c.ReconnectMaxAttempts,
		},
		PollIntervalSecs: c.Interval,
		LookbackMinutes:  c.Lookback,
		WebHeartbeatSecs: c.WebHeartbeat,
	}

	scratchDir, err := paths.DataPath("scratch")
	if err != nil {
		return fmt.Errorf("resolve scratch dir: %w", err)
	}
	if err := paths.EnsureDir(scratchDir); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	sessions := session.NewManager(nil)
	engine := autoreply.New(cfg, sessions, selected, scratchDir, scratchDir)
	sessions.SetHeartbeatFunc(engine.HandleHeartbeat)
	sessions.Start()
	defer sessions.Stop()

	sup := relay.New(opts, engine.Handle)
	engine.SetProviderLookup(sup.Get)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return sup.Run(sigCtx, selected)
}

// HeartbeatCmd manually fires one heartbeat poll against a provider's
// agent, outside the relay's regular schedule — useful for testing the
// proactive-push pipeline without waiting for heartbeatMinutes to elapse.
type HeartbeatCmd struct {
	providerFlag
	To string `help:"Destination identifier to send the poll's reply to, if not suppressed" required:""`
}

func (c *HeartbeatCmd) Run(ctx *Context) error {
	kind, err := c.kind()
	if err != nil {
		return err
	}

	loadResult, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := loadResult.Config

	if len(cfg.Inbound.Reply.Command) == 0 && cfg.Inbound.Reply.Mode == config.ReplyModeCommand {
		return fmt.Errorf("no agent command configured in inbound.reply.command")
	}

	p, err := provider.NewInitialized(context.Background(), kind)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", kind, err)
	}
	defer p.Disconnect(context.Background())
	if !p.IsAuthenticated(context.Background()) {
		return fmt.Errorf("%s is not authenticated; run `clawdis login --provider %s` first", kind, kind)
	}

	scratchDir, err := paths.DataPath("scratch")
	if err != nil {
		return fmt.Errorf("resolve scratch dir: %w", err)
	}

	sessions := session.NewManager(nil)
	engine := autoreply.New(cfg, sessions, []provider.Kind{kind}, scratchDir, scratchDir)
	engine.SetProviderLookup(func(k provider.Kind) (provider.Provider, bool) {
		if k == kind {
			return p, true
		}
		return nil, false
	})

	key := session.Key(string(cfg.Inbound.Reply.Session.Scope), kind, c.To, false)
	sess, _ := sessions.Resolve(key, kind, c.To, cfg.Inbound.Reply.Session.IdleMinutes, 1)
	engine.HandleHeartbeat(sess)

	fmt.Println("heartbeat poll sent")
	return nil
}

// Context is passed to every command's Run method.
type Context struct {
	Debug  bool
	Config string
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("clawdis"),
		kong.Description("Personal messaging relay: WhatsApp-Web, WhatsApp-Business, and Telegram into an AI agent"),
		kong.UsageOnError(),
	)

	if cli.Config != "" {
		os.Setenv(paths.ConfigDirEnv, cli.Config)
	}

	// Optional .env in the working directory, for TWILIO_*/TELEGRAM_*
	// secrets; absence is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "warning: failed to load .env:", err)
	}

	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Config{Level: level, ShowCaller: true})

	err := kctx.Run(&Context{Debug: cli.Debug, Config: cli.Config})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
