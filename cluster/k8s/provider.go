package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	typedcoordinationv1 "k8s.io/client-go/kubernetes/typed/coordination/v1"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
)

// Compile-time check that Provider implements cluster.Store.
var _ cluster.Store = (*Provider)(nil)

const (
	defaultLeaseName        = "stepflow-leader"
	defaultLabelSelector    = "app.kubernetes.io/component=stepflow-server"
	defaultAnnotationPrefix = "stepflow.xraph.com/"
)

// Provider implements cluster.Store using Kubernetes primitives:
//   - Server discovery via Pod annotations and label selectors
//   - Leader election via the coordination/v1 Lease API
type Provider struct {
	client           kubernetes.Interface
	namespace        string
	leaseName        string
	labelSelector    string
	annotationPrefix string
	logger           *slog.Logger
	now              func() time.Time
}

// New creates a Kubernetes cluster provider.
// The clientset and namespace are required.
func New(client kubernetes.Interface, namespace string, opts ...Option) *Provider {
	p := &Provider{
		client:           client,
		namespace:        namespace,
		leaseName:        defaultLeaseName,
		labelSelector:    defaultLabelSelector,
		annotationPrefix: defaultAnnotationPrefix,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ──────────────────────────────────────────────────
// Server registration (Pod annotations)
// ──────────────────────────────────────────────────

// RegisterServer stores server metadata as annotations on its Pod. The
// Pod is located by matching the server's Hostname to the Pod name.
func (p *Provider) RegisterServer(ctx context.Context, s *cluster.Server) error {
	pod, err := p.pods().Get(ctx, s.Hostname, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return fmt.Errorf("k8s: pod %q not found: %w", s.Hostname, stepflow.ErrServerNotFound)
		}
		return fmt.Errorf("k8s: register server get pod: %w", err)
	}

	p.annotationsOf(pod).write(s)
	return p.updatePod(ctx, pod, "register server")
}

// DeregisterServer removes stepflow annotations from the server's Pod.
func (p *Provider) DeregisterServer(ctx context.Context, serverID id.ServerID) error {
	return p.withServerPod(ctx, serverID, "deregister server", func(a annotations) {
		a.clear()
	})
}

// HeartbeatServer updates the last-seen annotation on the server's Pod.
func (p *Provider) HeartbeatServer(ctx context.Context, serverID id.ServerID) error {
	return p.withServerPod(ctx, serverID, "heartbeat server", func(a annotations) {
		a.setTime(keyLastSeen, p.now())
	})
}

// ListServers returns all registered servers by scanning Pod annotations.
func (p *Provider) ListServers(ctx context.Context) ([]*cluster.Server, error) {
	pods, err := p.listPods(ctx)
	if err != nil {
		return nil, fmt.Errorf("k8s: list servers: %w", err)
	}

	servers := make([]*cluster.Server, 0, len(pods))
	for _, pod := range pods {
		s, convErr := p.annotationsOf(pod).server(pod.Name)
		if convErr != nil {
			continue // pod has no/invalid stepflow annotations
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// ReapDeadServers marks servers whose last-seen annotation is older than
// threshold as dead and returns them.
func (p *Provider) ReapDeadServers(ctx context.Context, threshold time.Duration) ([]*cluster.Server, error) {
	pods, err := p.listPods(ctx)
	if err != nil {
		return nil, fmt.Errorf("k8s: reap servers: %w", err)
	}

	cutoff := p.now().UTC().Add(-threshold)
	var dead []*cluster.Server
	for _, pod := range pods {
		a := p.annotationsOf(pod)
		s, convErr := a.server(pod.Name)
		if convErr != nil || s.State == cluster.ServerDead || !s.LastSeen.Before(cutoff) {
			continue
		}
		a.set(keyState, string(cluster.ServerDead))
		if err := p.updatePod(ctx, pod, "reap server"); err != nil {
			p.logger.Warn("k8s: failed to mark server dead",
				slog.String("server_id", s.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.State = cluster.ServerDead
		dead = append(dead, s)
	}
	return dead, nil
}

// ──────────────────────────────────────────────────
// Leadership (Lease API)
// ──────────────────────────────────────────────────

// AcquireLeadership attempts to become the cluster leader using
// the coordination/v1 Lease API.
func (p *Provider) AcquireLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	sID := serverID.String()
	now := metav1.NewMicroTime(p.now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := p.leases().Get(ctx, p.leaseName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		newLease := &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      p.leaseName,
				Namespace: p.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &sID,
				LeaseDurationSeconds: &ttlSec,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}
		_, createErr := p.leases().Create(ctx, newLease, metav1.CreateOptions{})
		if createErr != nil {
			if errors.IsAlreadyExists(createErr) {
				return false, nil // race: someone else created it first
			}
			return false, fmt.Errorf("k8s: create lease: %w", createErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("k8s: get lease: %w", err)
	}

	if holder := holderOf(lease); holder != "" && holder != sID && !p.leaseExpired(lease) {
		return false, nil
	}

	lease.Spec.HolderIdentity = &sID
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.AcquireTime = &now
	lease.Spec.RenewTime = &now

	if _, err := p.leases().Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: update lease (acquire): %w", err)
	}
	return true, nil
}

// RenewLeadership extends the leader's hold by updating the Lease.
func (p *Provider) RenewLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := metav1.NewMicroTime(p.now().UTC())
	ttlSec := int32(ttl.Seconds())

	lease, err := p.leases().Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: renew get lease: %w", err)
	}

	// Only the current holder renews, and only before the lease lapses.
	if holderOf(lease) != serverID.String() || p.leaseExpired(lease) {
		return false, nil
	}

	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := p.leases().Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("k8s: renew update lease: %w", err)
	}
	return true, nil
}

// GetLeader returns the current cluster leader from the Lease, or nil if
// there is no active leader.
func (p *Provider) GetLeader(ctx context.Context) (*cluster.Server, error) {
	lease, err := p.leases().Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("k8s: get leader lease: %w", err)
	}

	holder := holderOf(lease)
	if holder == "" || p.leaseExpired(lease) {
		return nil, nil
	}
	sID, err := id.ParseServerID(holder)
	if err != nil {
		return nil, nil
	}
	until := lease.Spec.RenewTime.Add(time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second)

	s := &cluster.Server{ID: sID}
	if pod, findErr := p.findPod(ctx, sID); findErr == nil && pod != nil {
		if full, convErr := p.annotationsOf(pod).server(pod.Name); convErr == nil {
			s = full
		}
	}
	s.IsLeader = true
	s.LeaderUntil = &until
	return s, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (p *Provider) pods() typedcorev1.PodInterface { return p.client.CoreV1().Pods(p.namespace) }

func (p *Provider) leases() typedcoordinationv1.LeaseInterface { return p.client.CoordinationV1().Leases(p.namespace) }

func (p *Provider) listPods(ctx context.Context) ([]*corev1.Pod, error) {
	list, err := p.pods().List(ctx, metav1.ListOptions{LabelSelector: p.labelSelector})
	if err != nil {
		return nil, err
	}
	pods := make([]*corev1.Pod, len(list.Items))
	for i := range list.Items {
		pods[i] = &list.Items[i]
	}
	return pods, nil
}

// findPod returns the Pod whose server-id annotation matches, or nil.
func (p *Provider) findPod(ctx context.Context, serverID id.ServerID) (*corev1.Pod, error) {
	pods, err := p.listPods(ctx)
	if err != nil {
		return nil, fmt.Errorf("k8s: find pod by server id: %w", err)
	}
	want := serverID.String()
	for _, pod := range pods {
		if p.annotationsOf(pod).get(keyServerID) == want {
			return pod, nil
		}
	}
	return nil, nil
}

// withServerPod applies mutate to the server's Pod annotations and saves
// the Pod.
func (p *Provider) withServerPod(ctx context.Context, serverID id.ServerID, op string, mutate func(annotations)) error {
	pod, err := p.findPod(ctx, serverID)
	if err != nil {
		return err
	}
	if pod == nil {
		return stepflow.ErrServerNotFound
	}
	mutate(p.annotationsOf(pod))
	return p.updatePod(ctx, pod, op)
}

func (p *Provider) updatePod(ctx context.Context, pod *corev1.Pod, op string) error {
	if _, err := p.pods().Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("k8s: %s update pod: %w", op, err)
	}
	return nil
}

func holderOf(lease *coordinationv1.Lease) string {
	if lease.Spec.HolderIdentity == nil {
		return ""
	}
	return *lease.Spec.HolderIdentity
}

// leaseExpired reports whether the lease's renew time plus duration is in
// the past.
func (p *Provider) leaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return p.now().UTC().After(lease.Spec.RenewTime.Add(dur))
}
