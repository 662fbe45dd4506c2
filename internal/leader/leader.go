// Package leader provides Kubernetes Lease-based leader election so that
// only one replica owns the auction session and accepts operator input.
package leader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/auctiond/internal/config"
)

// ErrNotLeader is returned by Gate.Check on a follower replica.
var ErrNotLeader = errors.New("this replica is not the leader")

// Gate records whether this replica currently holds leadership. Input
// surfaces consult it before mutating the session.
type Gate struct {
	leading atomic.Bool
}

// NewGate returns a Gate. A standalone replica starts as leader.
func NewGate(standalone bool) *Gate {
	g := &Gate{}
	g.leading.Store(standalone)
	return g
}

// IsLeader reports whether this replica holds leadership.
func (g *Gate) IsLeader() bool { return g.leading.Load() }

// Set records a leadership change.
func (g *Gate) Set(leading bool) { g.leading.Store(leading) }

// Check returns ErrNotLeader on a follower. It has the shape of a health check.
func (g *Gate) Check(context.Context) error {
	if !g.IsLeader() {
		return ErrNotLeader
	}
	return nil
}

// identity returns a unique identity for this instance.
// It uses the POD_NAME env var if set, otherwise the hostname.
func identity() string {
	if name := os.Getenv("POD_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// ClientFactory creates a Kubernetes clientset.
// Extracted as a variable for testing.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Run starts leader election and blocks until the election loop exits.
// onStartedLeading runs when this instance becomes the leader and should
// block until ctx is done; onStoppedLeading runs when leadership is lost.
// gate, when non-nil, tracks leadership across both callbacks.
func Run(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, gate *Gate, onStartedLeading func(ctx context.Context), onStoppedLeading func()) error {
	id := identity()
	logger.InfoContext(ctx, "starting leader election",
		slog.String("identity", id),
		slog.String("lease", cfg.LeaseName),
		slog.String("namespace", cfg.LeaseNamespace),
	)

	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.LeaseNamespace,
		},
		Client: client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: id,
		},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				logger.InfoContext(ctx, "acquired leadership", slog.String("identity", id))
				if gate != nil {
					gate.Set(true)
				}
				onStartedLeading(ctx)
			},
			OnStoppedLeading: func() {
				logger.Info("lost leadership", slog.String("identity", id))
				if gate != nil {
					gate.Set(false)
				}
				onStoppedLeading()
			},
			OnNewLeader: func(newID string) {
				if newID == id {
					return
				}
				logger.Info("new leader elected", slog.String("leader", newID))
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configuring leader election: %w", err)
	}

	elector.Run(ctx)
	return nil
}
