package rbac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/corkboard/pkg/observability"
)

// Policy is a named set of route rules loaded from YAML:
//
//	version: v1
//	rules:
//	  - name: cards.update
//	    resource: card
//	    source: path
//	    field: cardID
//	    check: permission
//	    permission: cards:update
type Policy struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`

	byName map[string]Rule
}

// ParsePolicy decodes and validates a YAML policy
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.index(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicy reads a YAML policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	return ParsePolicy(data)
}

// NewPolicy builds a policy from rules defined in code
func NewPolicy(rules ...Rule) (*Policy, error) {
	p := &Policy{Version: "v1", Rules: rules}
	if err := p.index(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) index() error {
	p.byName = make(map[string]Rule, len(p.Rules))
	for _, rule := range p.Rules {
		if rule.Name == "" {
			return fmt.Errorf("policy rule without a name")
		}
		if _, dup := p.byName[rule.Name]; dup {
			return fmt.Errorf("duplicate policy rule %q", rule.Name)
		}
		if err := rule.Validate(); err != nil {
			return err
		}
		p.byName[rule.Name] = rule
	}
	return nil
}

// Rule returns the rule called name
func (p *Policy) Rule(name string) (Rule, bool) {
	if p == nil {
		return Rule{}, false
	}
	rule, ok := p.byName[name]
	return rule, ok
}

// WatchPolicy reloads the policy file into guard whenever it changes, until
// ctx is done. The parent directory is watched because editors and config
// management usually replace files rather than write them in place.
// An invalid file leaves the previous policy active.
func WatchPolicy(ctx context.Context, path string, guard *Guard, logger *observability.Logger, metrics *observability.Metrics) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloadPolicy(path, guard, logger, metrics)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Policy watcher error")
		}
	}
}

func reloadPolicy(path string, guard *Guard, logger *observability.Logger, metrics *observability.Metrics) {
	policy, err := LoadPolicy(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Error("Failed to reload authorization policy, keeping previous rules")
		if metrics != nil {
			metrics.PolicyReloadsTotal.WithLabelValues("error").Inc()
		}
		return
	}
	guard.SetPolicy(policy)
	logger.WithFields(map[string]interface{}{
		"path":  path,
		"rules": len(policy.Rules),
	}).Info("Reloaded authorization policy")
	if metrics != nil {
		metrics.PolicyReloadsTotal.WithLabelValues("success").Inc()
	}
}
