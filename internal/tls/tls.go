package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

// AutoGen tunes self-signed certificate generation.
type AutoGen struct {
	CommonName   string   `json:"common_name" mapstructure:"common_name"`
	Organization string   `json:"organization" mapstructure:"organization"`
	DNSNames     []string `json:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `json:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `json:"valid_days" mapstructure:"valid_days"`
}

// Config describes TLS for the wrapper's public listener. Explicit cert/key
// files win over a certificate directory; a directory may auto-generate a
// self-signed pair for development setups.
type Config struct {
	Enabled      bool     `json:"enabled" mapstructure:"enabled"`
	CertFile     string   `json:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `json:"key_file" mapstructure:"key_file"`
	Dir          string   `json:"dir" mapstructure:"dir"`
	AutoGenerate bool     `json:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGen `json:"auto_gen" mapstructure:"auto_gen"`
	MinVersion   string   `json:"min_version" mapstructure:"min_version"`
	MaxVersion   string   `json:"max_version" mapstructure:"max_version"`
}

func parseVersion(ver string) (uint16, bool) {
	switch ver {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

func (c Config) versions() (minVer, maxVer uint16) {
	minVer, maxVer = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseVersion(c.MinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(c.MaxVersion); ok {
		maxVer = v
	}
	return
}

// safeReadFile reads a file only when it resolves inside baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certificateFunc reloads the pair on every handshake so rotated files are
// picked up without a restart.
func certificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		return &cert, err
	}
}

// Setup builds the *tls.Config for the public listener, or (nil, nil) when
// TLS is disabled.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	minVer, maxVer := cfg.versions()

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		return newConfig(cfg.CertFile, cfg.KeyFile, minVer, maxVer), nil
	}
	if cfg.Dir != "" {
		certPath := filepath.Join(cfg.Dir, certName)
		keyPath := filepath.Join(cfg.Dir, keyName)
		if cfg.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generate(cfg, cfg.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer), nil
	}
	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

// Dev returns a development config with auto-generated self-signed
// certificates under baseDir/tls.
func Dev(baseDir string) (Config, error) {
	certDir := filepath.Join(baseDir, "tls")
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("failed to create TLS directory: %w", err)
	}
	return Config{
		Enabled:      true,
		Dir:          certDir,
		AutoGenerate: true,
		AutoGen: &AutoGen{
			CommonName: "localhost",
			DNSNames:   []string{"localhost", "127.0.0.1"},
			ValidDays:  365,
		},
	}, nil
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 minimum version is operator-configurable down to 1.2
	return &tls.Config{
		GetCertificate: certificateFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(cfg Config, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	ag := cfg.AutoGen
	if ag == nil {
		ag = &AutoGen{}
	}
	commonName := valOr(ag.CommonName, "localhost")
	organization := valOr(ag.Organization, "gatewarden")
	dnsNames := ag.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost", "127.0.0.1"}
	}
	ips := ag.IPAddresses
	if len(ips) == 0 {
		ips = []string{"127.0.0.1"}
	}
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365 * 5
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: organization,
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, certName),
		KeyPath:      filepath.Join(destDir, keyName),
		CACertPath:   filepath.Join(destDir, caCertName),
	})
}

func valOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
