package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8000"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel   string      `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Vector search
	VectorIndexURL   string  `env:"VECTOR_INDEX_URL"`
	VectorAPIKey     string  `env:"VECTOR_API_KEY"`
	VectorNamespace  string  `env:"VECTOR_NAMESPACE" envDefault:"ivy"`
	RAGTopK          int     `env:"RAG_TOP_K" envDefault:"3"`
	DirectThreshold  float64 `env:"RAG_DIRECT_THRESHOLD" envDefault:"0.75"`
	PartialThreshold float64 `env:"RAG_PARTIAL_THRESHOLD" envDefault:"0.50"`

	// Conversation memory
	MaxPairs    int           `env:"MEMORY_MAX_PAIRS" envDefault:"10"`
	IdleTimeout time.Duration `env:"MEMORY_IDLE_TIMEOUT" envDefault:"30m"`

	// Lead scoring
	IntentCadence int           `env:"INTENT_CADENCE" envDefault:"3"`
	HotThreshold  int           `env:"HOT_LEAD_THRESHOLD" envDefault:"60"`
	Cooldown      time.Duration `env:"NOTIFICATION_COOLDOWN" envDefault:"30m"`

	// Notification channels
	CounsellorWhatsApp string `env:"COUNSELLOR_WHATSAPP"`
	CounsellorEmail    string `env:"COUNSELLOR_EMAIL"`
	AdminEmail         string `env:"ADMIN_EMAIL" envDefault:"admin@ivyoverseas.com"`
	MetaWhatsAppToken  string `env:"META_WHATSAPP_TOKEN"`
	MetaPhoneNumberID  string `env:"META_PHONE_NUMBER_ID"`
	GmailCredentials   string `env:"GMAIL_CREDENTIALS_JSON"`
	GmailTokenPath     string `env:"GMAIL_TOKEN_PATH" envDefault:"data/gmail_token.json"`
	TelegramBotToken   string `env:"TELEGRAM_BOT_TOKEN"`
	CounsellorChatID   int64  `env:"COUNSELLOR_TELEGRAM_CHAT"`

	// Storage
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/ivy_counsellor.db"`

	// Scheduler
	ReaperSpec    string `env:"REAPER_CRON" envDefault:"*/5 * * * *"`
	GapReportSpec string `env:"GAP_REPORT_CRON" envDefault:"0 9 * * 1"`
	ReportTZ      string `env:"GAP_REPORT_TZ" envDefault:"Asia/Kolkata"`
	DashboardURL  string `env:"ADMIN_DASHBOARD_URL" envDefault:"http://localhost:8000/static/admin.html"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
