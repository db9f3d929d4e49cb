package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: DriverMySQL, Host: "localhost", Port: 3306, User: "root", DBName: "smartmailer"},
		Mailbox: MailboxConfig{
			Provider: ProviderIMAP,
			IMAPHost: "imap.example.com",
			IMAPPort: 993,
			Username: "me@example.com",
			Password: "secret",
		},
		SMTP:       SMTPConfig{Host: "smtp.example.com", Port: 587},
		Telegram:   TelegramConfig{BotToken: "token", ChatID: "42"},
		Processing: ProcessingConfig{Lookback: 24 * time.Hour, MaxBatchSize: 50},
		Scheduler:  SchedulerConfig{IntervalMinutes: 5},
		Reply:      ReplyConfig{Enabled: true, Transport: TransportSMTP},
		Retention:  RetentionConfig{Days: 30},
	}
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("IMPORTANT_KEYWORDS", "Foo, BAR ,,baz")
	t.Setenv("PROCESSING_LOOKBACK", "48h")
	t.Setenv("CHECK_INTERVAL_MINUTES", "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ProviderIMAP, cfg.Mailbox.Provider)
	assert.Equal(t, "INBOX", cfg.Mailbox.Folder)
	assert.Equal(t, 48*time.Hour, cfg.Processing.Lookback)
	assert.Equal(t, 50, cfg.Processing.MaxBatchSize)
	assert.Equal(t, 10, cfg.Scheduler.IntervalMinutes)
	assert.True(t, cfg.Scheduler.RunOnStart)
	assert.True(t, cfg.Reply.Enabled)
	assert.Equal(t, "SmartMailer", cfg.Reply.SenderName)
	assert.Equal(t, 30, cfg.Retention.Days)
	assert.Equal(t, []string{"foo", "bar", "baz"}, cfg.Classifier.ImportantKeywords)
	assert.Equal(t, []string{"newsletter", "marketing", "promotion", "publicité"}, cfg.Classifier.NormalKeywords)
	assert.Empty(t, cfg.Classifier.ImportantSenders)
	assert.Len(t, cfg.Classifier.ImportantDomains, 4)
	assert.Len(t, cfg.Classifier.NormalDomains, 6)
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseList(" A ,b", "", "C,,"))
	assert.Equal(t, []string{}, ParseList(""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port"},
		{name: "missing db user", mutate: func(c *Config) { c.Database.User = "" }, wantErr: "database host"},
		{name: "sqlite without path", mutate: func(c *Config) {
			c.Database = DatabaseConfig{Driver: DriverSQLite}
		}, wantErr: "database path"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
		{name: "imap without password", mutate: func(c *Config) { c.Mailbox.Password = "" }, wantErr: "IMAP"},
		{name: "gmail without credentials", mutate: func(c *Config) { c.Mailbox.Provider = ProviderGmail }, wantErr: "OAuth2"},
		{name: "gmail without user", mutate: func(c *Config) {
			c.Mailbox.Provider = ProviderGmail
			c.Gmail = GmailConfig{ClientID: "id", ClientSecret: "secret", RefreshToken: "token"}
		}, wantErr: "user email"},
		{name: "unknown provider", mutate: func(c *Config) { c.Mailbox.Provider = "pop3" }, wantErr: "unsupported mailbox provider"},
		{name: "smtp without host", mutate: func(c *Config) { c.SMTP.Host = "" }, wantErr: "SMTP"},
		{name: "replies disabled ignore smtp", mutate: func(c *Config) {
			c.Reply.Enabled = false
			c.SMTP = SMTPConfig{}
		}},
		{name: "unknown transport", mutate: func(c *Config) { c.Reply.Transport = "fax" }, wantErr: "unsupported reply transport"},
		{name: "missing telegram", mutate: func(c *Config) { c.Telegram.ChatID = "" }, wantErr: "telegram"},
		{name: "zero lookback", mutate: func(c *Config) { c.Processing.Lookback = 0 }, wantErr: "lookback"},
		{name: "zero batch", mutate: func(c *Config) { c.Processing.MaxBatchSize = 0 }, wantErr: "batch size"},
		{name: "zero interval", mutate: func(c *Config) { c.Scheduler.IntervalMinutes = 0 }, wantErr: "interval"},
		{name: "zero retention", mutate: func(c *Config) { c.Retention.Days = 0 }, wantErr: "retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{Driver: DriverMySQL, Host: "db", Port: 3306, User: "u", Password: "p", DBName: "mail"}
	assert.Equal(t, "u:p@tcp(db:3306)/mail?charset=utf8mb4&parseTime=True&loc=Local", db.GetDSN())

	db.Driver = DriverPostgres
	db.Port = 5432
	db.SSLMode = "disable"
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=mail sslmode=disable", db.GetDSN())

	db.Driver = DriverSQLite
	db.Path = "/tmp/mail.db"
	assert.Equal(t, "/tmp/mail.db", db.GetDSN())
}

func TestNormalize(t *testing.T) {
	cfg := validConfig()
	cfg.Mailbox.Provider = " Gmail "
	cfg.Reply.Transport = "SMTP"
	cfg.Classifier.NormalDomains = []string{"Ads.com, promo.com", " "}
	cfg.Normalize()

	assert.Equal(t, ProviderGmail, cfg.Mailbox.Provider)
	assert.Equal(t, TransportSMTP, cfg.Reply.Transport)
	assert.Equal(t, []string{"ads.com", "promo.com"}, cfg.Classifier.NormalDomains)
}

func TestSMTPSender(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "me@example.com", cfg.SMTPSender())

	cfg.SMTP.Username = "relay@example.com"
	assert.Equal(t, "relay@example.com", cfg.SMTPSender())

	cfg.SMTP.From = "noreply@example.com"
	assert.Equal(t, "noreply@example.com", cfg.SMTPSender())
}
