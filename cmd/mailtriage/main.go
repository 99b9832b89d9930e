// Command mailtriage categorizes a local mailbox, extracts action items,
// drafts replies and lets the user refine each draft in a chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/app"
	"github.com/nhle/mail-triage/internal/chat"
	"github.com/nhle/mail-triage/internal/credential"
	"github.com/nhle/mail-triage/internal/gateway"
	"github.com/nhle/mail-triage/internal/logging"
	"github.com/nhle/mail-triage/internal/mailbox"
	"github.com/nhle/mail-triage/internal/metrics"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/pipeline"
	"github.com/nhle/mail-triage/internal/store"
	appsync "github.com/nhle/mail-triage/internal/sync"
	"github.com/nhle/mail-triage/internal/templates"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mailtriage:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before credentials are resolved")
	processOnly := flag.Bool("process", false, "enrich every pending email, then exit without starting the UI")
	checkMailbox := flag.Bool("check-mailbox", false, "log in to the configured IMAP account, then exit")
	setCredential := flag.String("set-credential", "", "store a credential read from stdin in the keyring ("+
		credential.AnthropicAPIKey+", "+credential.GeminiAPIKey+" or "+credential.IMAPPassword+")")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", *envFile, err)
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	dir := model.ConfigDir()
	log, err := logging.New(cfg.Log, dir)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	creds, err := credential.Open(dir)
	if err != nil {
		return err
	}
	if *setCredential != "" {
		return storeCredential(creds, *setCredential)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *checkMailbox {
		client, err := openMailbox(cfg.Mailbox, creds)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("logged in to %s as %s\n", cfg.Mailbox.Host, cfg.Mailbox.Username)
		return nil
	}

	s, ts, err := openStore(cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	tpl, err := templates.New(ctx, ts, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, reg, log); err != nil {
				log.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	var (
		p       *pipeline.Pipeline
		session *chat.Session
	)
	gw, err := openGateway(cfg.Gateway, creds, m, log)
	if err != nil {
		log.Warn("enrichment disabled", zap.Error(err))
	} else {
		p = pipeline.New(s, tpl, gw, pipeline.ConfigFrom(cfg.Pipeline, cfg.Gateway),
			pipeline.WithLogger(log), pipeline.WithMetrics(m))
		session = chat.New(s, gw, chat.ConfigFrom(cfg.Chat, cfg.Gateway),
			chat.WithLogger(log), chat.WithMetrics(m))
	}

	if *processOnly {
		if p == nil {
			return err
		}
		start := time.Now()
		if err := p.RunPending(ctx); err != nil {
			return err
		}
		fmt.Printf("processing finished in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	}

	if p != nil && cfg.Pipeline.ProcessOnStart {
		go func() {
			if err := p.RunPending(ctx); err != nil && ctx.Err() == nil {
				log.Error("processing pending emails", zap.Error(err))
			}
		}()
	}

	var poller *appsync.Poller
	if cfg.Mailbox.Enabled {
		client, err := openMailbox(cfg.Mailbox, creds)
		if err != nil {
			return err
		}
		poller = newPoller(cfg.Mailbox, client, s, p, m, log)
	}

	root := app.New(ctx, app.Deps{
		Store:     s,
		Templates: tpl,
		Pipeline:  p,
		Chat:      session,
		Poller:    poller,
		Log:       log,
	})

	prog := tea.NewProgram(root, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// openStore opens the configured backend. The SQLite database also holds
// the prompt templates; the JSON backend keeps them in their own file.
func openStore(cfg model.StoreConfig, log *zap.Logger) (store.Store, store.TemplateStore, error) {
	if cfg.Backend == "sqlite" {
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}

	s, err := store.OpenJSONFileStore(cfg.Path, store.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return s, store.NewJSONTemplateFile(cfg.TemplatesPath), nil
}

func openGateway(cfg model.GatewayConfig, creds *credential.Store, m *metrics.Metrics, log *zap.Logger) (gateway.Gateway, error) {
	key, err := creds.APIKey(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("%s API key: %w", cfg.Provider, err)
	}
	return gateway.New(cfg, key, m, log)
}

func openMailbox(cfg model.MailboxConfig, creds *credential.Store) (*mailbox.IMAPClient, error) {
	password, err := creds.Get(credential.IMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("imap password: %w", err)
	}

	return mailbox.NewIMAPClient(mailbox.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: password,
		TLS:      cfg.TLS,
		Folder:   cfg.Folder,
	}), nil
}

func newPoller(cfg model.MailboxConfig, client *mailbox.IMAPClient, s store.Store, p *pipeline.Pipeline, m *metrics.Metrics, log *zap.Logger) *appsync.Poller {
	// A nil *Pipeline must not become a non-nil Scheduler.
	var sched appsync.Scheduler
	if p != nil {
		sched = p
	}

	return appsync.New(s, client, sched, appsync.Config{
		Interval: time.Duration(cfg.PollIntervalSec) * time.Second,
		Lookback: time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		Limit:    cfg.FetchLimit,
	}, appsync.WithLogger(log), appsync.WithMetrics(m))
}

func storeCredential(creds *credential.Store, name string) error {
	switch name {
	case credential.AnthropicAPIKey, credential.GeminiAPIKey, credential.IMAPPassword:
	default:
		return fmt.Errorf("unknown credential %q", name)
	}

	fmt.Fprintf(os.Stderr, "%s: ", name)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return fmt.Errorf("empty value for %s", name)
	}
	return creds.Set(name, value)
}
