// Package app assembles the detection-and-response engine's components
// into one running daemon: one constructor that wires every dependency,
// fails fast on any construction error, and hands back a single handle
// the command-line entrypoint drives.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/google/uuid"

	"breachmap/internal/audit"
	"breachmap/internal/authn"
	awsclient "breachmap/internal/aws"
	"breachmap/internal/config"
	"breachmap/internal/detect"
	"breachmap/internal/domain"
	"breachmap/internal/effector"
	effectoraws "breachmap/internal/effector/aws"
	effectormock "breachmap/internal/effector/mock"
	"breachmap/internal/graphstore"
	"breachmap/internal/httpapi"
	"breachmap/internal/ingest"
	ingestaws "breachmap/internal/ingest/aws"
	ingestmock "breachmap/internal/ingest/mock"
	"breachmap/internal/logging"
	"breachmap/internal/respond"
)

// App holds every wired component of the running engine. The command
// entrypoint only needs Server (admin bootstrap already ran inside New);
// the rest is exported for tests and for any future non-HTTP driver.
type App struct {
	Config    *config.Config
	Graph     *graphstore.Store
	Detector  *detect.Engine
	Responder *respond.Engine
	AuditLog  *audit.Log
	Auth      *authn.Manager
	Ingester  ingest.Ingester
	Server    *httpapi.Server
}

// New wires the whole engine from cfg. USE_MOCK_DATA picks the mock
// ingester/effector pair used for demos and tests; otherwise both are
// backed by a live AWS IAM client shared between them via internal/aws.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	graphPath := filepath.Join(cfg.DataDir, "graph.snapshot")
	plansPath := filepath.Join(cfg.DataDir, "response_state.json")
	auditPath := filepath.Join(cfg.DataDir, "audit_logs.json")
	usersPath := filepath.Join(cfg.DataDir, "users.json")

	auditLog, auditErr := audit.New(auditPath)
	if auditLog == nil {
		return nil, fmt.Errorf("failed to open audit log: %w", auditErr)
	}

	// A component whose state file exists but fails to parse starts empty
	// and the failure is recorded; only an unusable data directory is
	// fatal.
	loadFailed := func(component string, err error) {
		logging.LogError(fmt.Sprintf("failed to load persisted state for %s, starting empty", component), err)
		if _, aerr := auditLog.Append(domain.VerbPersistenceLoadFailed, "system", component, "error", err.Error()); aerr != nil {
			logging.LogError("failed to record persistence_load_failed audit entry", aerr)
		}
	}
	if auditErr != nil {
		loadFailed("audit_log", auditErr)
	}

	graph, err := graphstore.New(graphPath)
	if graph == nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}
	if err != nil {
		loadFailed("graph_store", err)
	}

	eff, err := newEffector(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct effector: %w", err)
	}

	responder, err := respond.New(graph, auditLog, eff, plansPath, cfg.Tunables.PlanDeadline, uuid.NewString)
	if responder == nil {
		return nil, fmt.Errorf("failed to open response engine: %w", err)
	}
	if err != nil {
		loadFailed("response_engine", err)
	}

	alertsPath := filepath.Join(cfg.DataDir, "alerts.json")
	detector, err := detect.New(graph, cfg.Tunables, alertsPath)
	if detector == nil {
		return nil, fmt.Errorf("failed to open detection engine: %w", err)
	}
	if err != nil {
		loadFailed("detection_engine", err)
	}
	detector.SetPlanHandler(func(alert domain.Alert) {
		if _, err := responder.CreatePlan(alert); err != nil {
			logging.LogError(fmt.Sprintf("failed to create plan for alert %s", alert.ID), err)
		}
	})

	auth, err := authn.New(usersPath, cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to open account registry: %w", err)
	}
	if cfg.BootstrapAdminUser != "" {
		if err := auth.Bootstrap(cfg.BootstrapAdminUser, cfg.BootstrapAdminPass); err != nil {
			return nil, fmt.Errorf("failed to bootstrap admin account: %w", err)
		}
	}

	ingester, err := newIngester(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to construct ingester: %w", err)
	}

	server := httpapi.New(graph, detector, responder, auditLog, auth, ingester, cfg.Tunables.ScanBudget)

	return &App{
		Config:    cfg,
		Graph:     graph,
		Detector:  detector,
		Responder: responder,
		AuditLog:  auditLog,
		Auth:      auth,
		Ingester:  ingester,
		Server:    server,
	}, nil
}

func newEffector(ctx context.Context, cfg *config.Config) (effector.Effector, error) {
	if cfg.UseMockData {
		return effectormock.New(), nil
	}
	client, err := iamClient(ctx)
	if err != nil {
		return nil, err
	}
	return effectoraws.New(client), nil
}

func newIngester(ctx context.Context, cfg *config.Config) (ingest.Ingester, error) {
	if cfg.UseMockData {
		return ingestmock.New(), nil
	}
	client, err := iamClient(ctx)
	if err != nil {
		return nil, err
	}
	return ingestaws.New(client), nil
}

// iamClient resolves the shared *iam.Client from internal/aws's cache, so
// the live ingester and the live effector agree on credentials and retry
// behavior rather than each constructing their own client.
func iamClient(ctx context.Context) (*iamsvc.Client, error) {
	raw, err := awsclient.GetAWSClient(ctx, "iam")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize IAM client: %w", err)
	}
	client, ok := raw.(*iamsvc.Client)
	if !ok {
		return nil, fmt.Errorf("unexpected client type for iam service: %T", raw)
	}
	return client, nil
}
