package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mailbox    MailboxConfig    `mapstructure:"mailbox"`
	Gmail      GmailConfig      `mapstructure:"gmail"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Reply      ReplyConfig      `mapstructure:"reply"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// MailboxConfig selects and configures the inbound mail source
type MailboxConfig struct {
	Provider string `mapstructure:"provider"`
	IMAPHost string `mapstructure:"imap_host"`
	IMAPPort int    `mapstructure:"imap_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Folder   string `mapstructure:"folder"`
}

// GmailConfig holds Gmail API configuration
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

// SMTPConfig holds outbound SMTP configuration for auto-replies
type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	From        string `mapstructure:"from"`
	ImplicitTLS bool   `mapstructure:"implicit_tls"`
}

// TelegramConfig holds Telegram bot configuration for notifications
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIURL   string        `mapstructure:"api_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ProcessingConfig bounds each pipeline run
type ProcessingConfig struct {
	Lookback     time.Duration `mapstructure:"lookback"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	RunOnStart      bool `mapstructure:"run_on_start"`
}

// ReplyConfig controls the auto-reply action for normal emails
type ReplyConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Transport    string `mapstructure:"transport"`
	SenderName   string `mapstructure:"sender_name"`
	TemplatePath string `mapstructure:"template_path"`
}

// ClassifierConfig holds the keyword, sender and domain lists used by the classifier
type ClassifierConfig struct {
	ImportantKeywords []string `mapstructure:"important_keywords"`
	ImportantSenders  []string `mapstructure:"important_senders"`
	NormalKeywords    []string `mapstructure:"normal_keywords"`
	ImportantDomains  []string `mapstructure:"important_domains"`
	NormalDomains     []string `mapstructure:"normal_domains"`
}

// RetentionConfig controls the age-based cleanup of stored emails
type RetentionConfig struct {
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"`
}

// LogConfig controls logrus output
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	ProviderIMAP  = "imap"
	ProviderGmail = "gmail"

	TransportSMTP  = "smtp"
	TransportGmail = "gmail"

	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LoadConfig loads configuration from .env, environment variables and config file
func LoadConfig() (*Config, error) {
	// A missing .env file is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("error binding environment variables: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Normalize()
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "smartmailer.db")

	v.SetDefault("mailbox.provider", ProviderIMAP)
	v.SetDefault("mailbox.imap_host", "imap.gmail.com")
	v.SetDefault("mailbox.imap_port", 993)
	v.SetDefault("mailbox.folder", "INBOX")

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.implicit_tls", false)

	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "10s")

	v.SetDefault("processing.lookback", "24h")
	v.SetDefault("processing.max_batch_size", 50)

	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("reply.enabled", true)
	v.SetDefault("reply.transport", TransportSMTP)
	v.SetDefault("reply.sender_name", "SmartMailer")

	v.SetDefault("classifier.important_keywords", "urgent,important,entretien,rh,recrutement,deadline,asap")
	v.SetDefault("classifier.important_senders", "")
	v.SetDefault("classifier.normal_keywords", "newsletter,marketing,promotion,publicité")
	v.SetDefault("classifier.important_domains", "company.com,entreprise.fr,hr.com,recruitment.com")
	v.SetDefault("classifier.normal_domains", "newsletter.com,marketing.com,promo.com,ads.com,noreply.com,no-reply.com")

	v.SetDefault("retention.days", 30)
	v.SetDefault("retention.schedule", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":          "SERVER_PORT",
		"server.read_timeout":  "SERVER_READ_TIMEOUT",
		"server.write_timeout": "SERVER_WRITE_TIMEOUT",

		"database.driver":   "DB_DRIVER",
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.dbname":   "DB_NAME",
		"database.sslmode":  "DB_SSLMODE",
		"database.path":     "DB_PATH",

		"mailbox.provider":  "EMAIL_PROVIDER",
		"mailbox.imap_host": "EMAIL_IMAP_SERVER",
		"mailbox.imap_port": "EMAIL_IMAP_PORT",
		"mailbox.username":  "EMAIL_ADDRESS",
		"mailbox.password":  "EMAIL_PASSWORD",
		"mailbox.folder":    "EMAIL_FOLDER",

		"gmail.client_id":     "GMAIL_CLIENT_ID",
		"gmail.client_secret": "GMAIL_CLIENT_SECRET",
		"gmail.refresh_token": "GMAIL_REFRESH_TOKEN",
		"gmail.user_email":    "GMAIL_USER_EMAIL",

		"smtp.host":         "EMAIL_SMTP_SERVER",
		"smtp.port":         "EMAIL_SMTP_PORT",
		"smtp.username":     "SMTP_USERNAME",
		"smtp.password":     "SMTP_PASSWORD",
		"smtp.from":         "SMTP_FROM",
		"smtp.implicit_tls": "SMTP_IMPLICIT_TLS",

		"telegram.bot_token": "TELEGRAM_BOT_TOKEN",
		"telegram.chat_id":   "TELEGRAM_CHAT_ID",
		"telegram.api_url":   "TELEGRAM_API_URL",
		"telegram.timeout":   "TELEGRAM_TIMEOUT",

		"processing.lookback":       "PROCESSING_LOOKBACK",
		"processing.max_batch_size": "MAX_EMAILS_PER_BATCH",

		"scheduler.interval_minutes": "CHECK_INTERVAL_MINUTES",
		"scheduler.run_on_start":     "SCHEDULER_RUN_ON_START",

		"reply.enabled":       "AUTO_REPLY_ENABLED",
		"reply.transport":     "AUTO_REPLY_TRANSPORT",
		"reply.sender_name":   "AUTO_REPLY_SENDER_NAME",
		"reply.template_path": "AUTO_REPLY_TEMPLATE",

		"classifier.important_keywords": "IMPORTANT_KEYWORDS",
		"classifier.important_senders":  "IMPORTANT_SENDERS",
		"classifier.normal_keywords":    "NORMAL_KEYWORDS",
		"classifier.important_domains":  "IMPORTANT_DOMAINS",
		"classifier.normal_domains":     "NORMAL_DOMAINS",

		"retention.days":     "RETENTION_DAYS",
		"retention.schedule": "RETENTION_SCHEDULE",

		"log.level":  "LOG_LEVEL",
		"log.format": "LOG_FORMAT",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// GetDSN returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDSN() string {
	switch c.Driver {
	case DriverPostgres:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	case DriverSQLite:
		return c.Path
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	}
}

// Normalize trims, lower-cases and de-blanks every classifier list.
// Lists may arrive as YAML sequences or as comma-separated strings.
func (c *Config) Normalize() {
	c.Classifier.ImportantKeywords = ParseList(c.Classifier.ImportantKeywords...)
	c.Classifier.ImportantSenders = ParseList(c.Classifier.ImportantSenders...)
	c.Classifier.NormalKeywords = ParseList(c.Classifier.NormalKeywords...)
	c.Classifier.ImportantDomains = ParseList(c.Classifier.ImportantDomains...)
	c.Classifier.NormalDomains = ParseList(c.Classifier.NormalDomains...)

	c.Mailbox.Provider = strings.ToLower(strings.TrimSpace(c.Mailbox.Provider))
	c.Reply.Transport = strings.ToLower(strings.TrimSpace(c.Reply.Transport))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
}

// ParseList splits each value on commas and returns the trimmed, lower-cased,
// non-empty items in order
func ParseList(values ...string) []string {
	items := []string{}
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			item = strings.ToLower(strings.TrimSpace(item))
			if item != "" {
				items = append(items, item)
			}
		}
	}
	return items
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case DriverMySQL, DriverPostgres:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Mailbox.Provider {
	case ProviderIMAP:
		if c.Mailbox.IMAPHost == "" || c.Mailbox.Username == "" || c.Mailbox.Password == "" {
			return fmt.Errorf("IMAP host and credentials are required when using IMAP")
		}
	case ProviderGmail:
		if err := c.Gmail.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported mailbox provider %q", c.Mailbox.Provider)
	}

	if c.Reply.Enabled {
		switch c.Reply.Transport {
		case TransportSMTP:
			if c.SMTP.Host == "" || c.SMTP.Port <= 0 {
				return fmt.Errorf("SMTP host and port are required for SMTP replies")
			}
		case TransportGmail:
			if err := c.Gmail.validate(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported reply transport %q", c.Reply.Transport)
		}
	}

	if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram bot token and chat id are required")
	}

	if c.Processing.Lookback <= 0 {
		return fmt.Errorf("processing lookback must be greater than 0")
	}
	if c.Processing.MaxBatchSize <= 0 {
		return fmt.Errorf("processing max batch size must be greater than 0")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention days must be greater than 0")
	}

	return nil
}

// OAuth2Config returns the Google OAuth2 client configuration for the given scopes
func (g *GmailConfig) OAuth2Config(scopes ...string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}
}

// TokenSource returns a token source that refreshes access tokens from the configured refresh token
func (g *GmailConfig) TokenSource(ctx context.Context, scopes ...string) oauth2.TokenSource {
	return g.OAuth2Config(scopes...).TokenSource(ctx, &oauth2.Token{RefreshToken: g.RefreshToken})
}

func (g *GmailConfig) validate() error {
	if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
		return fmt.Errorf("Gmail OAuth2 credentials are required when using the Gmail API")
	}
	if g.UserEmail == "" {
		return fmt.Errorf("Gmail user email is required when using the Gmail API")
	}
	return nil
}

// SMTPSender returns the address replies are sent from
func (c *Config) SMTPSender() string {
	if c.SMTP.From != "" {
		return c.SMTP.From
	}
	if c.SMTP.Username != "" {
		return c.SMTP.Username
	}
	return c.Mailbox.Username
}
