package config

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

// TestEnvconfigTags pins the environment variable names operators rely on.
func TestEnvconfigTags(t *testing.T) {
	tests := []struct {
		typ   reflect.Type
		field string
		want  string
	}{
		{reflect.TypeOf(Config{}), "Environment", "APP_ENV"},
		{reflect.TypeOf(Config{}), "LogLevel", "LOG_LEVEL"},
		{reflect.TypeOf(ServerConfig{}), "Port", "PORT"},
		{reflect.TypeOf(DatabaseConfig{}), "URL", "DATABASE_URL"},
		{reflect.TypeOf(PaymentConfig{}), "WebhookSecret", "PAYMENT_WEBHOOK_SECRET"},
		{reflect.TypeOf(PaymentConfig{}), "KeySecret", "PAYMENT_KEY_SECRET"},
		{reflect.TypeOf(PaymentConfig{}), "SignatureHeader", "PAYMENT_SIGNATURE_HEADER"},
		{reflect.TypeOf(TokenServiceConfig{}), "URL", "TOKEN_SERVICE_URL"},
		{reflect.TypeOf(AuditConfig{}), "Sinks", "AUDIT_SINKS"},
		{reflect.TypeOf(AuditConfig{}), "QueueURL", "SQS_AUDIT_QUEUE"},
		{reflect.TypeOf(RedisConfig{}), "URL", "REDIS_URL"},
		{reflect.TypeOf(AWSConfig{}), "EndpointURL", "AWS_ENDPOINT_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.typ.Name()+"."+tt.field, func(t *testing.T) {
			f, ok := tt.typ.FieldByName(tt.field)
			if !ok {
				t.Fatalf("field %s not found", tt.field)
			}
			if got := f.Tag.Get("envconfig"); got != tt.want {
				t.Errorf("envconfig tag = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestSecretStringFields verifies that every credential is a SecretString.
func TestSecretStringFields(t *testing.T) {
	secretType := reflect.TypeOf(SecretString(""))
	fields := []struct {
		typ   reflect.Type
		field string
	}{
		{reflect.TypeOf(DatabaseConfig{}), "URL"},
		{reflect.TypeOf(PaymentConfig{}), "WebhookSecret"},
		{reflect.TypeOf(PaymentConfig{}), "KeySecret"},
		{reflect.TypeOf(TokenServiceConfig{}), "APIKey"},
		{reflect.TypeOf(RedisConfig{}), "URL"},
	}
	for _, f := range fields {
		sf, ok := f.typ.FieldByName(f.field)
		if !ok {
			t.Fatalf("%s.%s not found", f.typ.Name(), f.field)
		}
		if sf.Type != secretType {
			t.Errorf("%s.%s type = %v, want SecretString", f.typ.Name(), f.field, sf.Type)
		}
	}
}

// TestConfigSecretFieldsJSONRedaction verifies that dumping the config never
// exposes secret values.
func TestConfigSecretFieldsJSONRedaction(t *testing.T) {
	cfg := Config{
		Database:     DatabaseConfig{URL: "postgres://user:hunter2@db/billing"},
		Payment:      PaymentConfig{WebhookSecret: "whsec_live_secret", KeySecret: "key_live_secret"},
		TokenService: TokenServiceConfig{APIKey: "tok_api_key"},
		Redis:        RedisConfig{URL: "redis://:pw@cache:6379"},
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	out := string(data)
	for _, leaked := range []string{"hunter2", "whsec_live_secret", "key_live_secret", "tok_api_key", ":pw@"} {
		if strings.Contains(out, leaked) {
			t.Errorf("serialized config leaked %q", leaked)
		}
	}
}

func TestAuditConfigEnabled(t *testing.T) {
	a := AuditConfig{Sinks: []string{"postgres", " SQS "}}
	if !a.Enabled(AuditSinkPostgres) {
		t.Error("postgres should be enabled")
	}
	if !a.Enabled(AuditSinkSQS) {
		t.Error("sqs should be enabled (case and whitespace insensitive)")
	}
	if a.Enabled(AuditSinkRedis) {
		t.Error("redis should not be enabled")
	}
}

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()
	if info.Version != "dev" || info.Commit != "none" || info.BuildTime != "unknown" {
		t.Errorf("NewBuildInfo() = %+v, want dev/none/unknown defaults", info)
	}
}
