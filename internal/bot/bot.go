package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/bot/commands"
	"github.com/jensholdgaard/auctiond/internal/config"
)

// Bot wraps the Discord session, slash command handlers and the results
// announcer.
type Bot struct {
	session   *discordgo.Session
	cfg       config.DiscordConfig
	logger    *slog.Logger
	manager   *auction.Manager
	handlers  *commands.Handlers
	announcer *Announcer
	unwatch   func()
	cmds      []*discordgo.ApplicationCommand
}

// New creates a new Bot instance.
func New(cfg config.DiscordConfig, mgr *auction.Manager, leader commands.Leadership, logger *slog.Logger, tp trace.TracerProvider) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}

	b := &Bot{
		session:  session,
		cfg:      cfg,
		logger:   logger,
		manager:  mgr,
		handlers: commands.NewHandlers(mgr, leader, logger, tp),
	}
	if cfg.AnnounceChannelID != "" {
		b.announcer = NewAnnouncer(session, cfg.AnnounceChannelID, logger)
	}
	return b, nil
}

// Start opens the Discord connection, registers slash commands and starts
// announcing results.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})

	b.session.AddHandler(b.handlers.InteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	appCmds := commands.SlashCommands()
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, appCmds)
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered
	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))

	if b.announcer != nil {
		go b.announcer.Run(ctx)
		b.unwatch = b.manager.Subscribe(b.announcer.Observe)
	}
	return nil
}

// Stop gracefully closes the Discord connection.
func (b *Bot) Stop() error {
	if b.unwatch != nil {
		b.unwatch()
	}
	for _, cmd := range b.cmds {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	return b.session.Close()
}
