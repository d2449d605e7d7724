package instance

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/inquest-dev/inquest/internal/config"
	"github.com/inquest-dev/inquest/internal/logging"
)

// Query describes one resolution attempt. InstanceID and InstanceName are
// the explicit model-supplied parameters; Request is the natural-language
// request text used for keyword matching; Caller identifies who is asking
// so recorded preferences can apply.
type Query struct {
	InstanceID   string
	InstanceName string
	Request      string
	Type         string
	Caller       string
}

// ResolutionError reports a failed resolution with concrete remediation
// steps instead of a bare miss.
type ResolutionError struct {
	Query       Query
	Reason      string
	Remediation []string
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("could not resolve instance")
	if e.Query.Type != "" {
		fmt.Fprintf(&b, " of type %q", e.Query.Type)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	for _, step := range e.Remediation {
		b.WriteString("\n  - ")
		b.WriteString(step)
	}
	return b.String()
}

// Resolver matches requests to configured instances. Resolution is pure
// lookup; credentials are fetched separately and lazily.
type Resolver struct {
	mu        sync.RWMutex
	instances []config.InstanceConfig

	// prefs records a caller's chosen instance per service type,
	// keyed caller -> type -> instance id.
	prefs map[string]map[string]string

	logger *logging.Logger
}

// NewResolver builds a resolver over the configured instances. Disabled
// instances are kept for error reporting but never resolved to.
func NewResolver(instances []config.InstanceConfig) *Resolver {
	return &Resolver{
		instances: instances,
		prefs:     make(map[string]map[string]string),
		logger:    logging.GetLogger("instance.resolver"),
	}
}

// Resolve finds the instance for a query. The first matching rule wins:
// explicit id, explicit name, keyword match against names, environments
// and tags, the caller's recorded preference for the type, and finally
// the first enabled instance when only one service type is in play.
func (r *Resolver) Resolve(query Query) (*config.InstanceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if query.InstanceID != "" {
		if inst := r.findEnabled(func(i *config.InstanceConfig) bool {
			return strings.EqualFold(i.EffectiveID(), query.InstanceID)
		}); inst != nil {
			return inst, nil
		}
		return nil, r.miss(query, fmt.Sprintf("no enabled instance with id %q", query.InstanceID))
	}

	if query.InstanceName != "" {
		if inst := r.findEnabled(func(i *config.InstanceConfig) bool {
			return strings.EqualFold(i.Name, query.InstanceName)
		}); inst != nil {
			return inst, nil
		}
		return nil, r.miss(query, fmt.Sprintf("no enabled instance named %q", query.InstanceName))
	}

	if inst, err := r.keywordMatch(query); inst != nil || err != nil {
		return inst, err
	}

	if query.Caller != "" && query.Type != "" {
		if byType, ok := r.prefs[query.Caller]; ok {
			if id, ok := byType[query.Type]; ok {
				if inst := r.findEnabled(func(i *config.InstanceConfig) bool {
					return i.EffectiveID() == id
				}); inst != nil {
					return inst, nil
				}
			}
		}
	}

	if inst := r.firstOfSingleType(query.Type); inst != nil {
		return inst, nil
	}

	return nil, r.miss(query, "no instance matched the request")
}

func (r *Resolver) findEnabled(match func(*config.InstanceConfig) bool) *config.InstanceConfig {
	for i := range r.instances {
		inst := &r.instances[i]
		if inst.Enabled && match(inst) {
			return inst
		}
	}
	return nil
}

// tokenize lowercases and splits on whitespace, trimming punctuation
// from token edges so hyphenated instance names survive intact.
func tokenize(request string) []string {
	fields := strings.Fields(strings.ToLower(request))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?'\"()[]")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// keywordMatch scores enabled instances against request tokens. Name hits
// outweigh environment hits, which outweigh tag hits. A unique top score
// resolves; a tie is an ambiguity error; no hits fall through to the next
// rule.
func (r *Resolver) keywordMatch(query Query) (*config.InstanceConfig, error) {
	tokens := tokenize(query.Request)
	if len(tokens) == 0 {
		return nil, nil
	}

	type scored struct {
		inst  *config.InstanceConfig
		score int
	}
	var hits []scored
	for i := range r.instances {
		inst := &r.instances[i]
		if !inst.Enabled {
			continue
		}
		if query.Type != "" && !strings.EqualFold(inst.Type, query.Type) {
			continue
		}
		score := 0
		for _, token := range tokens {
			if strings.EqualFold(inst.Name, token) || strings.EqualFold(inst.EffectiveID(), token) {
				score += 3
			}
			if strings.EqualFold(inst.Environment, token) {
				score += 2
			}
			for _, tag := range inst.Tags {
				if strings.EqualFold(tag, token) {
					score++
				}
			}
		}
		if score > 0 {
			hits = append(hits, scored{inst, score})
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > 1 && hits[0].score == hits[1].score {
		names := make([]string, 0, len(hits))
		for _, h := range hits {
			if h.score == hits[0].score {
				names = append(names, h.inst.Name)
			}
		}
		return nil, &ResolutionError{
			Query:  query,
			Reason: fmt.Sprintf("request matches multiple instances equally: %s", strings.Join(names, ", ")),
			Remediation: []string{
				"pass instance_id or instance_name to disambiguate",
				"mention the environment or a distinguishing tag in the request",
			},
		}
	}
	return hits[0].inst, nil
}

// firstOfSingleType applies the last resolution rule: when the enabled
// instances, narrowed to serviceType if one is given, span exactly one
// service type, the first one in configuration order wins. Instances of
// several types with no type hint stay unresolved.
func (r *Resolver) firstOfSingleType(serviceType string) *config.InstanceConfig {
	var first *config.InstanceConfig
	types := make(map[string]struct{})
	for i := range r.instances {
		inst := &r.instances[i]
		if !inst.Enabled {
			continue
		}
		if serviceType != "" && !strings.EqualFold(inst.Type, serviceType) {
			continue
		}
		types[strings.ToLower(inst.Type)] = struct{}{}
		if first == nil {
			first = inst
		}
	}
	if len(types) == 1 {
		return first
	}
	return nil
}

// Describe lists the enabled instances for the system prompt, one line
// per instance, sorted by id.
func (r *Resolver) Describe() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for i := range r.instances {
		inst := &r.instances[i]
		if !inst.Enabled {
			continue
		}
		line := fmt.Sprintf("%s: %s (%s)", inst.EffectiveID(), inst.Type, inst.Environment)
		if len(inst.Tags) > 0 {
			line += " tags: " + strings.Join(inst.Tags, ", ")
		}
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

// RecordPreference remembers a caller's instance choice for a service
// type so later unqualified requests resolve the same way.
func (r *Resolver) RecordPreference(caller, serviceType, instanceID string) {
	if caller == "" || serviceType == "" || instanceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byType, ok := r.prefs[caller]
	if !ok {
		byType = make(map[string]string)
		r.prefs[caller] = byType
	}
	byType[serviceType] = instanceID
}

func (r *Resolver) miss(query Query, reason string) *ResolutionError {
	var names []string
	for i := range r.instances {
		inst := &r.instances[i]
		if inst.Enabled && (query.Type == "" || strings.EqualFold(inst.Type, query.Type)) {
			names = append(names, fmt.Sprintf("%s (%s, %s)", inst.Name, inst.Type, inst.Environment))
		}
	}
	sort.Strings(names)

	remediation := []string{
		"pass instance_id or instance_name explicitly",
	}
	if len(names) > 0 {
		remediation = append(remediation, "available instances: "+strings.Join(names, "; "))
	} else {
		remediation = append(remediation,
			"no enabled instances are configured; add one under `instances` in the engine config")
	}
	return &ResolutionError{Query: query, Reason: reason, Remediation: remediation}
}
