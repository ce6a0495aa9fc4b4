package app

import (
	"context"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/client/db"
	"github.com/MreRes/financial-bot/internal/client/db/pg"
	"github.com/MreRes/financial-bot/internal/closer"
	"github.com/MreRes/financial-bot/internal/config"
	"github.com/MreRes/financial-bot/internal/config/env"
	"github.com/MreRes/financial-bot/internal/nlp"
	"github.com/MreRes/financial-bot/internal/repository"
	"github.com/MreRes/financial-bot/internal/services"
	"github.com/MreRes/financial-bot/internal/state"
	"github.com/MreRes/financial-bot/internal/transport"
)

type ServiceProvider struct {
	log zerolog.Logger

	pgConfig  config.PGConfig
	botConfig config.BotConfig
	nlpConfig config.NLPConfig
	appConfig config.AppConfig

	dbClient db.Client

	// Repositories
	userRepo    *repository.UserRepository
	sessionRepo *repository.SessionRepository
	txRepo      *repository.TransactionRepository
	budgetRepo  *repository.BudgetRepository

	// NLP
	classifier nlp.Classifier

	// Services
	ledgerService     *services.LedgerService
	budgetService     *services.BudgetService
	reportService     *services.ReportService
	dispatcherService *services.DispatcherService
	sessionService    *services.SessionService
	userService       *services.UserService
	schedulerService  *services.SchedulerService

	// State
	supervisor *state.Supervisor

	// Transport
	bot      *tgbotapi.BotAPI
	telegram *transport.Telegram
}

func NewServiceProvider(log zerolog.Logger) *ServiceProvider {
	return &ServiceProvider{log: log}
}

func (s *ServiceProvider) PGConfig() config.PGConfig {
	if s.pgConfig == nil {
		pgConfig, err := env.NewPGConfig()
		if err != nil {
			log.Fatalf("failed to get pg config: %v", err)
		}
		s.pgConfig = pgConfig
	}
	return s.pgConfig
}

func (s *ServiceProvider) BotConfig() config.BotConfig {
	if s.botConfig == nil {
		botConfig, err := env.NewBotConfig()
		if err != nil {
			log.Fatalf("failed to get bot config: %v", err)
		}
		s.botConfig = botConfig
	}
	return s.botConfig
}

func (s *ServiceProvider) NLPConfig() config.NLPConfig {
	if s.nlpConfig == nil {
		nlpConfig, err := env.NewNLPConfig()
		if err != nil {
			log.Fatalf("failed to get nlp config: %v", err)
		}
		s.nlpConfig = nlpConfig
	}
	return s.nlpConfig
}

func (s *ServiceProvider) AppConfig() config.AppConfig {
	if s.appConfig == nil {
		appConfig, err := env.NewAppConfig()
		if err != nil {
			log.Fatalf("failed to get app config: %v", err)
		}
		s.appConfig = appConfig
	}
	return s.appConfig
}

func (s *ServiceProvider) DBClient(ctx context.Context) db.Client {
	if s.dbClient == nil {
		cl, err := pg.New(ctx, s.PGConfig().DSN())
		if err != nil {
			log.Fatalf("failed to get db client: %v", err)
		}
		closer.Add(cl.Close)

		if err := repository.Migrate(cl.DB()); err != nil {
			log.Fatalf("failed to migrate db: %v", err)
		}
		s.dbClient = cl
	}
	return s.dbClient
}

func (s *ServiceProvider) UserRepository(ctx context.Context) *repository.UserRepository {
	if s.userRepo == nil {
		s.userRepo = repository.NewUserRepository(s.DBClient(ctx).DB())
	}
	return s.userRepo
}

func (s *ServiceProvider) SessionRepository(ctx context.Context) *repository.SessionRepository {
	if s.sessionRepo == nil {
		s.sessionRepo = repository.NewSessionRepository(s.DBClient(ctx).DB())
	}
	return s.sessionRepo
}

func (s *ServiceProvider) TransactionRepository(ctx context.Context) *repository.TransactionRepository {
	if s.txRepo == nil {
		s.txRepo = repository.NewTransactionRepository(s.DBClient(ctx).DB())
	}
	return s.txRepo
}

func (s *ServiceProvider) BudgetRepository(ctx context.Context) *repository.BudgetRepository {
	if s.budgetRepo == nil {
		s.budgetRepo = repository.NewBudgetRepository(s.DBClient(ctx).DB())
	}
	return s.budgetRepo
}

func (s *ServiceProvider) Classifier(ctx context.Context) nlp.Classifier {
	if s.classifier == nil {
		switch s.NLPConfig().Engine() {
		case "gemini":
			classifier, err := nlp.NewGeminiClassifier(ctx, s.NLPConfig().Model())
			if err != nil {
				log.Fatalf("failed to create gemini classifier: %v", err)
			}
			s.classifier = classifier
		default:
			s.classifier = nlp.NewRuleClassifier()
		}
	}
	return s.classifier
}

func (s *ServiceProvider) Supervisor() *state.Supervisor {
	if s.supervisor == nil {
		s.supervisor = state.NewSupervisor()
	}
	return s.supervisor
}

func (s *ServiceProvider) TelegramBot(ctx context.Context) *tgbotapi.BotAPI {
	if s.bot == nil {
		bot, err := tgbotapi.NewBotAPI(s.BotConfig().Token())
		if err != nil {
			log.Fatalf("failed to create telegram bot: %v", err)
		}
		bot.Debug = s.BotConfig().Debug()
		s.bot = bot
	}
	return s.bot
}

func (s *ServiceProvider) Transport(ctx context.Context) *transport.Telegram {
	if s.telegram == nil {
		s.telegram = transport.NewTelegram(s.TelegramBot(ctx), s.log)
	}
	return s.telegram
}

func (s *ServiceProvider) LedgerService(ctx context.Context) *services.LedgerService {
	if s.ledgerService == nil {
		s.ledgerService = services.NewLedgerService(
			s.TransactionRepository(ctx),
			s.BudgetRepository(ctx),
			s.log,
		)
	}
	return s.ledgerService
}

func (s *ServiceProvider) BudgetService(ctx context.Context) *services.BudgetService {
	if s.budgetService == nil {
		s.budgetService = services.NewBudgetService(s.BudgetRepository(ctx), s.log)
	}
	return s.budgetService
}

func (s *ServiceProvider) ReportService(ctx context.Context) *services.ReportService {
	if s.reportService == nil {
		s.reportService = services.NewReportService(
			s.TransactionRepository(ctx),
			s.BudgetRepository(ctx),
			s.log,
		)
	}
	return s.reportService
}

func (s *ServiceProvider) DispatcherService(ctx context.Context) *services.DispatcherService {
	if s.dispatcherService == nil {
		s.dispatcherService = services.NewDispatcherService(
			s.Classifier(ctx),
			s.LedgerService(ctx),
			s.BudgetService(ctx),
			s.ReportService(ctx),
			s.AppConfig().CommandPrefix(),
			s.NLPConfig().DefaultConfidence(),
			s.log,
		)
	}
	return s.dispatcherService
}

func (s *ServiceProvider) SessionService(ctx context.Context) *services.SessionService {
	if s.sessionService == nil {
		s.sessionService = services.NewSessionService(
			s.SessionRepository(ctx),
			s.UserRepository(ctx),
			s.Transport(ctx),
			s.Supervisor(),
			s.DispatcherService(ctx),
			s.AppConfig().EventQueueSize(),
			s.log,
		)
	}
	return s.sessionService
}

func (s *ServiceProvider) UserService(ctx context.Context) *services.UserService {
	if s.userService == nil {
		s.userService = services.NewUserService(
			s.UserRepository(ctx),
			s.AppConfig().MaxHandlesPerUser(),
			s.log,
		)
	}
	return s.userService
}

func (s *ServiceProvider) SchedulerService(ctx context.Context) *services.SchedulerService {
	if s.schedulerService == nil {
		s.schedulerService = services.NewSchedulerService(
			s.SessionRepository(ctx),
			s.ReportService(ctx),
			s.SessionService(ctx),
			s.log,
		)
	}
	return s.schedulerService
}
