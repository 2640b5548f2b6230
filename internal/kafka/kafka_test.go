package kafka

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// writeTestKeyPair writes a self-signed cert/key pair and returns their paths.
func writeTestKeyPair(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"pricer-test"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	dir := t.TempDir()
	certPath = filepath.Join(dir, "client.crt")
	keyPath = filepath.Join(dir, "client.key")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}

func TestParseBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"localhost:9092", []string{"localhost:9092"}},
		{"a:9092, b:9092 ,,c:9092", []string{"a:9092", "b:9092", "c:9092"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := ParseBrokers(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseBrokers(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "minimal", cfg: Config{Brokers: []string{"b:9092"}}},
		{name: "no brokers", cfg: Config{}, wantErr: "brokers are required"},
		{
			name:    "bad mechanism",
			cfg:     Config{Brokers: []string{"b:9092"}, SASL: SASLConfig{Mechanism: "GSSAPI"}},
			wantErr: "GSSAPI",
		},
		{
			name:    "sasl without credentials",
			cfg:     Config{Brokers: []string{"b:9092"}, SASL: SASLConfig{Mechanism: "PLAIN"}},
			wantErr: "username and password",
		},
		{
			name:    "cert without key",
			cfg:     Config{Brokers: []string{"b:9092"}, TLS: TLSConfig{Enabled: true, CertFile: "c.pem"}},
			wantErr: "set together",
		},
		{
			name: "scram",
			cfg: Config{Brokers: []string{"b:9092"}, SASL: SASLConfig{
				Mechanism: "SCRAM-SHA-512", Username: "u", Password: "p",
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Options(t *testing.T) {
	opts, err := Config{Brokers: []string{"b:9092"}}.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if len(opts) != 1 {
		t.Errorf("expected only the seed broker option, got %d", len(opts))
	}

	opts, err = Config{
		Brokers: []string{"b:9092"},
		SASL:    SASLConfig{Mechanism: "SCRAM-SHA-256", Username: "u", Password: "p"},
	}.Options()
	if err != nil {
		t.Fatalf("Options with sasl: %v", err)
	}
	if len(opts) != 2 {
		t.Errorf("expected seed + sasl options, got %d", len(opts))
	}
}

func TestConfig_OptionsInvalid(t *testing.T) {
	if _, err := (Config{}).Options(); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestTLSConfig_Build(t *testing.T) {
	certPath, keyPath := writeTestKeyPair(t)

	cfg, err := TLSConfig{Enabled: true, CAFile: certPath, CertFile: certPath, KeyFile: keyPath}.build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Error("expected RootCAs from CA file")
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected 1 client certificate, got %d", len(cfg.Certificates))
	}
}

func TestTLSConfig_BuildBadCA(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(bad, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (TLSConfig{Enabled: true, CAFile: bad}).build(); err == nil {
		t.Fatal("expected error for CA file without certificates")
	}
	if _, err := (TLSConfig{Enabled: true, CAFile: filepath.Join(dir, "missing.pem")}).build(); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}
