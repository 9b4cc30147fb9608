// Package config loads engine configuration: .env via godotenv, then
// environment variables, then an optional YAML overlay for the tunable
// detection/response knobs.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Detection and response defaults.
const (
	DefaultMinPrivilegeDelta      = 20
	DefaultMaxPathDepth           = 5
	DefaultLowPrivilegeThreshold  = 40
	DefaultHighPrivilegeThreshold = 70
	DefaultMaxRecommendations     = 5
	DefaultBlastRadiusCap         = 1000
	DefaultReachableMaxDepth      = 3
	DefaultScanBudget             = 30 * time.Second
	DefaultPlanDeadline           = 60 * time.Second
	DefaultAutoEligibleConfidence = 0.85
	DefaultAutoEligibleBlastCap   = 50
)

// Tunables holds the knobs governing detection scoring and response
// gating. All fields start at the defaults above and may be overridden
// by an optional YAML file.
type Tunables struct {
	MinPrivilegeDelta      int           `yaml:"min_privilege_delta"`
	MaxPathDepth           int           `yaml:"max_path_depth"`
	LowPrivilegeThreshold  int           `yaml:"low_privilege_threshold"`
	HighPrivilegeThreshold int           `yaml:"high_privilege_threshold"`
	MaxRecommendations     int           `yaml:"max_recommendations"`
	BlastRadiusCap         int           `yaml:"blast_radius_cap"`
	ReachableMaxDepth      int           `yaml:"reachable_max_depth"`
	ScanBudget             time.Duration `yaml:"scan_budget"`
	PlanDeadline           time.Duration `yaml:"plan_deadline"`
	AutoEligibleConfidence float64       `yaml:"auto_eligible_confidence"`
	AutoEligibleBlastCap   int           `yaml:"auto_eligible_blast_cap"`
}

func defaultTunables() Tunables {
	return Tunables{
		MinPrivilegeDelta:      DefaultMinPrivilegeDelta,
		MaxPathDepth:           DefaultMaxPathDepth,
		LowPrivilegeThreshold:  DefaultLowPrivilegeThreshold,
		HighPrivilegeThreshold: DefaultHighPrivilegeThreshold,
		MaxRecommendations:     DefaultMaxRecommendations,
		BlastRadiusCap:         DefaultBlastRadiusCap,
		ReachableMaxDepth:      DefaultReachableMaxDepth,
		ScanBudget:             DefaultScanBudget,
		PlanDeadline:           DefaultPlanDeadline,
		AutoEligibleConfidence: DefaultAutoEligibleConfidence,
		AutoEligibleBlastCap:   DefaultAutoEligibleBlastCap,
	}
}

// Config is the fully resolved engine configuration.
type Config struct {
	Port               int
	JWTSecret          string
	UseMockData        bool
	DataDir            string
	BootstrapAdminUser string
	BootstrapAdminPass string
	Tunables           Tunables
}

// Load reads .env (if present), then environment variables, then an
// optional YAML overlay at tunablesPath for the Tunables knobs.
// JWT_SECRET is required unless USE_MOCK_DATA=true, in which case a
// random ephemeral secret is generated.
func Load(tunablesPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               envInt("PORT", 5000),
		UseMockData:        envBool("USE_MOCK_DATA", false),
		DataDir:            envString("DATA_DIR", "./data"),
		BootstrapAdminUser: envString("BOOTSTRAP_ADMIN_USERNAME", ""),
		BootstrapAdminPass: envString("BOOTSTRAP_ADMIN_PASSWORD", ""),
		Tunables:           defaultTunables(),
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if !cfg.UseMockData {
			return nil, fmt.Errorf("JWT_SECRET is required when USE_MOCK_DATA=false")
		}
		generated, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral JWT secret: %w", err)
		}
		secret = generated
	}
	cfg.JWTSecret = secret

	if tunablesPath != "" {
		if err := cfg.loadTunables(tunablesPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) loadTunables(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read tunables file: %w", err)
	}

	var overlay struct {
		Tunables Tunables `yaml:"tunables"`
	}
	overlay.Tunables = c.Tunables
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse tunables file: %w", err)
	}
	c.Tunables = overlay.Tunables
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
