package k8s

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
)

// Annotation keys, relative to the provider's prefix.
const (
	keyServerID     = "server-id"
	keyHostname     = "hostname"
	keyConcurrency  = "concurrency"
	keyState        = "state"
	keyLastSeen     = "last-seen"
	keyCreatedAt    = "created-at"
	keyCapabilities = "capabilities"
	keyMetadata     = "metadata"
)

var allKeys = []string{
	keyServerID, keyHostname, keyConcurrency, keyState,
	keyLastSeen, keyCreatedAt, keyCapabilities, keyMetadata,
}

// annotations reads and writes server fields under a key prefix.
type annotations struct {
	prefix string
	m      map[string]string
}

func (p *Provider) annotationsOf(pod *corev1.Pod) annotations {
	if pod.Annotations == nil {
		pod.Annotations = make(map[string]string)
	}
	return annotations{prefix: p.annotationPrefix, m: pod.Annotations}
}

func (a annotations) get(key string) string { return a.m[a.prefix+key] }

func (a annotations) set(key, value string) { a.m[a.prefix+key] = value }

func (a annotations) setTime(key string, t time.Time) {
	a.set(key, t.UTC().Format(time.RFC3339Nano))
}

func (a annotations) time(key string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, a.get(key))
	if err != nil {
		return time.Time{}
	}
	return t
}

func (a annotations) clear() {
	for _, k := range allKeys {
		delete(a.m, a.prefix+k)
	}
}

// write stores every server field.
func (a annotations) write(s *cluster.Server) {
	a.set(keyServerID, s.ID.String())
	a.set(keyHostname, s.Hostname)
	a.set(keyConcurrency, strconv.Itoa(s.Concurrency))
	a.set(keyState, string(s.State))
	a.setTime(keyLastSeen, s.LastSeen)
	a.setTime(keyCreatedAt, s.CreatedAt)
	if len(s.Capabilities) > 0 {
		a.set(keyCapabilities, strings.Join(s.Capabilities, ","))
	}
	if len(s.Metadata) > 0 {
		b, _ := json.Marshal(s.Metadata) //nolint:errcheck // marshal of map[string]string does not fail
		a.set(keyMetadata, string(b))
	}
}

// server decodes the server stored on a Pod. Pods without a server-id
// annotation are not stepflow servers.
func (a annotations) server(podName string) (*cluster.Server, error) {
	raw := a.get(keyServerID)
	if raw == "" {
		return nil, fmt.Errorf("k8s: pod %q missing server-id annotation", podName)
	}
	sID, err := id.ParseServerID(raw)
	if err != nil {
		return nil, fmt.Errorf("k8s: parse server id: %w", err)
	}

	concurrency, _ := strconv.Atoi(a.get(keyConcurrency)) //nolint:errcheck // best-effort parse
	s := &cluster.Server{
		ID:          sID,
		Hostname:    a.get(keyHostname),
		Concurrency: concurrency,
		State:       cluster.ServerState(a.get(keyState)),
		LastSeen:    a.time(keyLastSeen),
		CreatedAt:   a.time(keyCreatedAt),
	}
	if c := a.get(keyCapabilities); c != "" {
		s.Capabilities = strings.Split(c, ",")
	}
	if m := a.get(keyMetadata); m != "" {
		meta := make(map[string]string)
		if uErr := json.Unmarshal([]byte(m), &meta); uErr == nil {
			s.Metadata = meta
		}
	}
	return s, nil
}
