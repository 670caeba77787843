package config

import (
	"time"

	"statfiler/internal/evidence"
	miniostore "statfiler/internal/evidence/minio"
	s3store "statfiler/internal/evidence/s3"
	"statfiler/internal/filing"
	"statfiler/internal/health"
	"statfiler/internal/settlement"
)

// EvidenceConfig selects where screenshots go.
type EvidenceConfig struct {
	Driver evidence.Driver   `yaml:"driver"`
	Prefix string            `yaml:"prefix"`
	Dir    string            `yaml:"dir"` // fs driver root
	S3     s3store.Config    `yaml:"s3"`
	Minio  miniostore.Config `yaml:"minio"`
}

// SettlementConfig configures the state fee.
type SettlementConfig struct {
	Enabled        bool   `yaml:"enabled"`
	GatewayURL     string `yaml:"gateway_url"`
	AmountMinor    int64  `yaml:"amount_minor"`
	Currency       string `yaml:"currency"`
	Recipient      string `yaml:"recipient"`
	Method         string `yaml:"method"`
	CredentialName string `yaml:"credential_name"`
	Timeout        string `yaml:"timeout"`
}

// GetTimeout returns the gateway request timeout as a duration.
func (s SettlementConfig) GetTimeout() time.Duration {
	return parseDuration(s.Timeout, 30*time.Second)
}

// Writer returns the settlement writer configuration.
func (s SettlementConfig) Writer() settlement.Config {
	return settlement.Config{
		AmountMinor:    s.AmountMinor,
		Currency:       s.Currency,
		Recipient:      s.Recipient,
		Method:         s.Method,
		CredentialName: s.CredentialName,
	}
}

// HealthConfig configures the synthetic check.
type HealthConfig struct {
	// EntryURL points at a sandbox instance of the portal; empty means the
	// production entry URL.
	EntryURL string            `yaml:"entry_url"`
	Interval string            `yaml:"interval"`
	Submit   bool              `yaml:"submit"`
	Request  *SyntheticRequest `yaml:"request,omitempty"`
}

// GetInterval returns the schedule interval as a duration.
func (h HealthConfig) GetInterval() time.Duration {
	return parseDuration(h.Interval, 15*time.Minute)
}

// Monitor returns the monitor configuration.
func (h HealthConfig) Monitor() health.Config {
	cfg := health.Config{Interval: h.GetInterval(), Submit: h.Submit}
	if h.Request != nil {
		cfg.Request = h.Request.Request()
	}
	return cfg
}

// SyntheticRequest is the filing replayed by the health check.
type SyntheticRequest struct {
	EntityName       string `yaml:"entity_name"`
	PrincipalAddress string `yaml:"principal_address"`
	ManagementType   string `yaml:"management_type"`
	Professional     bool   `yaml:"professional"`
	OrganizerName    string `yaml:"organizer_name"`
}

// Request converts to a filing request with the health-check id.
func (s SyntheticRequest) Request() filing.Request {
	return filing.Request{
		ID:               health.DefaultRequest().ID,
		EntityName:       s.EntityName,
		PrincipalAddress: s.PrincipalAddress,
		ManagementType:   s.ManagementType,
		Professional:     s.Professional,
		OrganizerName:    s.OrganizerName,
		Status:           filing.StatusPending,
	}
}

// ServerConfig configures serve and batch.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
	ShutdownGrace    string `yaml:"shutdown_grace"`
	// RecordTimeout bounds the store writes that follow a portal run. They
	// outlive the caller's context.
	RecordTimeout string `yaml:"record_timeout"`
}

// GetRecordTimeout returns the post-run bookkeeping bound.
func (s ServerConfig) GetRecordTimeout() time.Duration {
	return parseDuration(s.RecordTimeout, time.Minute)
}

// GetShutdownGrace returns how long serve drains in-flight filings.
func (s ServerConfig) GetShutdownGrace() time.Duration {
	return parseDuration(s.ShutdownGrace, 2*time.Minute)
}
