package kube

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
)

// ServiceType names a kind of service registration.
type ServiceType string

const (
	// ServiceTypeK8s registers sidecar containers to run alongside the app.
	ServiceTypeK8s ServiceType = "atomist.com/sdm/service/k8s"
)

// ServiceRegistration is one entry from a push's service registration data.
// Exactly one variant field is set, matching Type.
type ServiceRegistration struct {
	Name string
	Type ServiceType
	K8s  *K8sServiceSpec
}

// K8sServiceSpec describes sidecar containers. In JSON, "container" may be a
// single container object or an array of them.
type K8sServiceSpec struct {
	Containers []corev1.Container
}

func (s *K8sServiceSpec) UnmarshalJSON(b []byte) error {
	var raw struct {
		Container json.RawMessage `json:"container"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(raw.Container)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		s.Containers = nil
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &s.Containers); err != nil {
			return fmt.Errorf("parsing container list: %w", err)
		}
	default:
		var c corev1.Container
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return fmt.Errorf("parsing container: %w", err)
		}
		s.Containers = []corev1.Container{c}
	}
	return nil
}

func (s K8sServiceSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Container []corev1.Container `json:"container,omitempty"`
	}{Container: s.Containers})
}

// Warning reports a registration that was not merged.
type Warning struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("service %q: %s", w.Name, w.Message)
}

// ParseRegistrations decodes a service registration blob: an object keyed by
// service name whose values carry a "type" and a "spec". Entries of unknown
// type or that do not parse are returned as warnings.
func ParseRegistrations(raw json.RawMessage) ([]ServiceRegistration, []Warning, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, nil
	}

	var entries map[string]struct {
		Type ServiceType     `json:"type"`
		Spec json.RawMessage `json:"spec"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, fmt.Errorf("parsing service registrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var regs []ServiceRegistration
	var warnings []Warning
	for _, name := range names {
		e := entries[name]
		switch e.Type {
		case ServiceTypeK8s:
			var spec K8sServiceSpec
			if err := json.Unmarshal(e.Spec, &spec); err != nil {
				warnings = append(warnings, Warning{Name: name, Message: err.Error()})
				continue
			}
			regs = append(regs, ServiceRegistration{Name: name, Type: e.Type, K8s: &spec})
		default:
			warnings = append(warnings, Warning{Name: name, Message: fmt.Sprintf("unknown service type %q", e.Type)})
		}
	}
	return regs, warnings, nil
}

// MergeServices appends every registered sidecar container to the
// deployment's pod spec.
func MergeServices(spec *corev1.PodSpec, regs []ServiceRegistration) []Warning {
	var warnings []Warning
	existing := make(map[string]bool, len(spec.Containers))
	for _, c := range spec.Containers {
		existing[c.Name] = true
	}

	for _, reg := range regs {
		if reg.K8s == nil {
			warnings = append(warnings, Warning{Name: reg.Name, Message: fmt.Sprintf("no spec for service type %q", reg.Type)})
			continue
		}
		for _, c := range reg.K8s.Containers {
			if existing[c.Name] {
				warnings = append(warnings, Warning{Name: reg.Name, Message: fmt.Sprintf("container %q already present", c.Name)})
				continue
			}
			existing[c.Name] = true
			spec.Containers = append(spec.Containers, c)
		}
	}
	return warnings
}

// MongoService is the built-in MongoDB sidecar registration.
func MongoService() ServiceRegistration {
	return ServiceRegistration{
		Name: "mongodb",
		Type: ServiceTypeK8s,
		K8s: &K8sServiceSpec{
			Containers: []corev1.Container{{
				Name:  "mongo",
				Image: "mongo:3.6",
				Ports: []corev1.ContainerPort{{
					Name:          "mongo",
					ContainerPort: 27017,
					Protocol:      corev1.ProtocolTCP,
				}},
			}},
		},
	}
}
