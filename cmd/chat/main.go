// Package main is a terminal chat panel for the expert chat endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/doutor-motors/expert-chat/internal/chat"
	"github.com/doutor-motors/expert-chat/internal/config"
	"github.com/doutor-motors/expert-chat/internal/expert"
	"github.com/doutor-motors/expert-chat/internal/model"
	"github.com/doutor-motors/expert-chat/internal/postgres"
	"github.com/doutor-motors/expert-chat/internal/typewriter"
	"github.com/doutor-motors/expert-chat/pkg/logger"
)

type app struct {
	session     *chat.Session
	presenter   *typewriter.Presenter
	accessToken string
	vehicle     *model.VehicleContext
	out         io.Writer
	log         *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func main() {
	cfg := config.Load()

	level := cfg.LogLevel
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	log, err := logger.New(level, "stderr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	client, err := expert.NewClient(expert.Config{
		URL:     cfg.ExpertChatURL,
		APIKey:  cfg.ExpertChatAPIKey,
		Timeout: cfg.ExpertChatTimeout,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("EXPERT_CHAT_URL não configurada: "+err.Error()))
		os.Exit(1)
	}

	opts := chat.Options{
		Transport:    client,
		Logger:       log,
		MaxLineBytes: cfg.MaxLineBytes,
	}
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Warn("conversation history unavailable", zap.Error(err))
		} else {
			defer pool.Close()
			opts.Loader = postgres.NewStore(pool, log)
		}
	}

	a := &app{
		session:     chat.NewSession(uuid.NewString(), opts),
		presenter:   typewriter.New(cfg.TypewriterTick, cfg.TypewriterMaxDuration, typewriter.WithEnabled(cfg.TypewriterEnabled)),
		accessToken: cfg.ExpertAccessToken,
		out:         os.Stdout,
		log:         log,
	}
	if a.accessToken == "" {
		fmt.Fprintln(a.out, errorStyle.Render("EXPERT_ACCESS_TOKEN não definido; o especialista recusará as mensagens."))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		for range sigs {
			a.interrupt()
		}
	}()

	a.repl()
}

func (a *app) repl() {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Fprintln(a.out, expertStyle.Render("Doutor Motors · Especialista"))
	fmt.Fprintln(a.out, dimStyle.Render("Digite /help para ver os comandos."))

	for {
		input, err := line.Prompt("você> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				a.log.Warn("prompt failed", zap.Error(err))
			}
			fmt.Fprintln(a.out)
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if !a.command(input) {
				return
			}
			continue
		}
		a.turn(input)
	}
}

// command runs a slash command and reports whether the REPL should go on.
func (a *app) command(input string) bool {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return false

	case "/help":
		fmt.Fprintln(a.out, helpText)

	case "/new":
		a.session.Clear()
		fmt.Fprintln(a.out, successStyle.Render("Nova conversa iniciada."))

	case "/load":
		if arg == "" {
			fmt.Fprintln(a.out, errorStyle.Render("Uso: /load <id>"))
			break
		}
		if err := a.session.LoadPersisted(context.Background(), arg); err != nil {
			msg := "Não foi possível carregar a conversa."
			if errors.Is(err, chat.ErrConversationNotFound) {
				msg = "Conversa não encontrada."
			}
			fmt.Fprintln(a.out, errorStyle.Render(msg))
			break
		}
		renderTranscript(a.out, a.session.Snapshot())

	case "/codes":
		codes, err := parseCodes(arg)
		if err != nil {
			fmt.Fprintln(a.out, errorStyle.Render(err.Error()))
			break
		}
		a.session.SelectCodes(codes)
		fmt.Fprintln(a.out, dimStyle.Render(fmt.Sprintf("%d código(s) selecionado(s).", len(codes))))

	case "/vehicle":
		v, err := parseVehicle(arg)
		if err != nil {
			fmt.Fprintln(a.out, errorStyle.Render(err.Error()))
			break
		}
		a.vehicle = v
		fmt.Fprintln(a.out, dimStyle.Render("Veículo atualizado."))

	case "/typewriter":
		switch arg {
		case "on":
			a.presenter.SetEnabled(true)
		case "off":
			a.presenter.SetEnabled(false)
		default:
			fmt.Fprintln(a.out, errorStyle.Render("Uso: /typewriter on|off"))
		}

	case "/history":
		renderTranscript(a.out, a.session.Snapshot())

	default:
		fmt.Fprintln(a.out, errorStyle.Render("Comando desconhecido. Digite /help."))
	}
	return true
}

// turn sends one message and renders the reply through the presenter.
func (a *app) turn(content string) {
	ctx, cancel := context.WithCancel(context.Background())
	a.setCancel(cancel)
	defer func() {
		a.setCancel(nil)
		cancel()
	}()

	r := newRenderer(a.out)
	a.presenter.SetTarget("")

	runCtx, stopRun := context.WithCancel(context.Background())
	ran := make(chan struct{})
	go func() {
		defer close(ran)
		a.presenter.Run(runCtx, r.show)
	}()

	var notices []model.Notice
	fmt.Fprint(a.out, expertStyle.Render("Especialista: "))

	err := a.session.Send(ctx, chat.TurnInput{
		Content:     content,
		Vehicle:     a.vehicle,
		AccessToken: a.accessToken,
	}, chat.Hooks{
		OnSnapshot: func(snap model.Snapshot) {
			if m, ok := snap.LastAssistant(); ok && !strings.HasPrefix(m.Content, chat.FailureMarker) {
				a.presenter.SetTarget(m.Content)
				if !a.presenter.Enabled() {
					r.show(m.Content)
				}
			}
		},
		OnNotice: func(n model.Notice) {
			notices = append(notices, n)
		},
	})
	if errors.Is(err, chat.ErrTurnInProgress) {
		stopRun()
		<-ran
		fmt.Fprintln(a.out, errorStyle.Render("Aguarde a resposta atual."))
		return
	}

	// Let the animation catch up unless the turn was interrupted.
	if err == nil {
		wait := time.NewTicker(10 * time.Millisecond)
		for !a.presenter.Done() && ctx.Err() == nil {
			<-wait.C
		}
		wait.Stop()
	}
	stopRun()
	<-ran

	snap := a.session.Snapshot()
	if m, ok := snap.LastAssistant(); ok {
		r.finish(m.Content)
		renderTutorials(a.out, m.SuggestedTutorials)
	} else {
		fmt.Fprintln(a.out)
	}
	for _, n := range notices {
		renderNotice(a.out, n)
	}
}

func (a *app) setCancel(cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
}

func (a *app) interrupt() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
