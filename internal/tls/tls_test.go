package tls

import (
	"crypto/tls"
	"path/filepath"
	"testing"
	"time"
)

func TestSetupDisabledReturnsNil(t *testing.T) {
	cfg, err := Setup(Config{Enabled: false})
	if err != nil || cfg != nil {
		t.Fatalf("disabled TLS: cfg=%v err=%v", cfg, err)
	}
}

func TestSetupAutoGeneratesCertificates(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg == nil || cfg.GetCertificate == nil {
		t.Fatalf("no certificate loader configured")
	}
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatalf("empty certificate chain")
	}
}

func TestSetupRequiresSomeConfiguration(t *testing.T) {
	if _, err := Setup(Config{Enabled: true}); err == nil {
		t.Fatalf("expected error for enabled TLS with no cert source")
	}
}

func TestVersionsResolve(t *testing.T) {
	minVer, maxVer := Config{MinVersion: "1.2"}.versions()
	if minVer != tls.VersionTLS12 || maxVer != tls.VersionTLS13 {
		t.Fatalf("versions = %d/%d", minVer, maxVer)
	}
	minVer, maxVer = Config{}.versions()
	if minVer != tls.VersionTLS13 || maxVer != tls.VersionTLS13 {
		t.Fatalf("default versions = %d/%d", minVer, maxVer)
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cfg := CertConfig{
		CommonName:   "localhost",
		Organization: "gatewarden",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().Add(24 * time.Hour),
		CertPath:     filepath.Join(dir, "tls.crt"),
		KeyPath:      filepath.Join(dir, "tls.key"),
		CACertPath:   filepath.Join(dir, "tls_ca.crt"),
	}
	if err := GenerateSelfSignedCert(cfg); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
}

func TestSafeReadFileRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	if _, err := safeReadFile(dir, "/etc/hostname"); err == nil {
		t.Fatalf("path outside base dir was allowed")
	}
}
