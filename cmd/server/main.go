package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ivy-counsellor/internal/chat"
	"ivy-counsellor/internal/config"
	"ivy-counsellor/internal/fallback"
	"ivy-counsellor/internal/intent"
	"ivy-counsellor/internal/llm"
	"ivy-counsellor/internal/memory"
	"ivy-counsellor/internal/notify"
	"ivy-counsellor/internal/rag"
	"ivy-counsellor/internal/report"
	"ivy-counsellor/internal/scheduler"
	"ivy-counsellor/internal/server"
	"ivy-counsellor/internal/store"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	cfg := config.New()

	llmClient, err := llm.NewFactory(cfg).CreateClient(string(cfg.LLMProvider), cfg.OpenAIModel)
	if err != nil {
		log.Fatalf("failed to create llm client: %v", err)
	}

	repo, err := store.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer repo.Close()

	sessions := memory.NewManager(memory.NewLLMSummarizer(llmClient), cfg.MaxPairs, cfg.IdleTimeout)
	extractor := intent.New(sessions, llmClient)

	notifier := notify.New(repo, buildChannels(cfg), cfg.HotThreshold, cfg.Cooldown)

	retriever := rag.NewVectorRetriever(
		cfg.VectorIndexURL,
		cfg.VectorAPIKey,
		cfg.VectorNamespace,
		cfg.RAGTopK,
		llm.NewEmbeddingClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL),
		cfg.EmbeddingModel,
	)

	fb := fallback.New(llmClient, repo, cfg.PartialThreshold)

	chatSvc := chat.NewService(
		sessions,
		retriever,
		llmClient,
		fb,
		extractor,
		notifier,
		repo,
		cfg.DirectThreshold,
		cfg.IntentCadence,
	)

	reports := buildReports(cfg, repo)

	loc, err := time.LoadLocation(cfg.ReportTZ)
	if err != nil {
		log.Printf("⚠️ Invalid timezone %q, falling back to UTC: %v", cfg.ReportTZ, err)
		loc = time.UTC
	}
	sched := scheduler.New(loc, cfg.ReaperSpec, cfg.GapReportSpec)
	sched.SetReaperFunction(sessions.ExpireIdle)
	if reports != nil {
		sched.SetReportFunction(reports.Run)
	}
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	srv := server.New(cfg.ListenAddr, chatSvc, repo, reports)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("❌ HTTP shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil {
		log.Printf("HTTP server stopped: %v", err)
	}
}

// buildChannels wires every notification channel that has credentials
// configured. Missing credentials just skip the channel.
func buildChannels(cfg *config.Config) []notify.Channel {
	var channels []notify.Channel

	if cfg.MetaWhatsAppToken != "" && cfg.MetaPhoneNumberID != "" && cfg.CounsellorWhatsApp != "" {
		channels = append(channels, notify.NewWhatsApp(cfg.MetaWhatsAppToken, cfg.MetaPhoneNumberID, cfg.CounsellorWhatsApp))
		log.Println("📱 WhatsApp channel enabled")
	}

	if cfg.GmailCredentials != "" && cfg.CounsellorEmail != "" {
		ch, err := notify.NewGmail(context.Background(), cfg.GmailCredentials, cfg.GmailTokenPath, cfg.AdminEmail, cfg.CounsellorEmail)
		if err != nil {
			log.Printf("⚠️ Gmail channel disabled: %v", err)
		} else {
			channels = append(channels, ch)
			log.Println("📧 Gmail channel enabled")
		}
	}

	if cfg.TelegramBotToken != "" && cfg.CounsellorChatID != 0 {
		ch, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.CounsellorChatID)
		if err != nil {
			log.Printf("⚠️ Telegram channel disabled: %v", err)
		} else {
			channels = append(channels, ch)
			log.Println("✈️ Telegram channel enabled")
		}
	}

	if len(channels) == 0 {
		log.Println("⚠️ No notification channels configured, hot lead alerts will only be logged")
	}
	return channels
}

// buildReports wires the weekly gap report when an email channel exists.
func buildReports(cfg *config.Config, repo store.Repository) *report.Generator {
	if cfg.GmailCredentials == "" || cfg.AdminEmail == "" {
		log.Println("⚠️ Gap report disabled: Gmail credentials or admin email not configured")
		return nil
	}
	ch, err := notify.NewGmail(context.Background(), cfg.GmailCredentials, cfg.GmailTokenPath, cfg.AdminEmail, cfg.AdminEmail)
	if err != nil {
		log.Printf("⚠️ Gap report disabled: %v", err)
		return nil
	}
	return report.NewGenerator(repo, ch)
}
