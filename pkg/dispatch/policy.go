package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/datasite-dev/datasite/pkg/authz"
)

// policyFile is the top-level structure of the method policy YAML file.
type policyFile struct {
	Overrides []policyOverride `yaml:"overrides"`
}

// policyOverride raises or lowers the minimum role for one method path.
type policyOverride struct {
	Method  string `yaml:"method"`
	MinRole string `yaml:"minRole"`
}

// Policy is a runtime-editable table of per-method minimum roles. Operators
// edit the YAML file; the watcher reloads it in place.
type Policy struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	overrides map[string]authz.Role
}

// LoadPolicy loads the method policy from a YAML file. A missing file yields
// an empty policy; a malformed file is an error.
func LoadPolicy(path string, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{path: path, logger: logger, overrides: make(map[string]authz.Role)}
	if path == "" {
		return p, nil
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.mu.Lock()
			p.overrides = make(map[string]authz.Role)
			p.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read method policy: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parse method policy: %w", err)
	}

	overrides := make(map[string]authz.Role, len(pf.Overrides))
	for _, o := range pf.Overrides {
		if o.Method == "" {
			return fmt.Errorf("method policy override missing method path")
		}
		overrides[o.Method] = authz.ParseRole(o.MinRole)
	}

	p.mu.Lock()
	p.overrides = overrides
	p.mu.Unlock()
	return nil
}

// MinRoleFor returns the override for a method path, if any.
func (p *Policy) MinRoleFor(path string) (authz.Role, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	role, ok := p.overrides[path]
	return role, ok
}

// Watch reloads the policy whenever the file changes, until the context is
// cancelled. A reload failure keeps the previous table.
func (p *Policy) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch method policy: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(p.path); err != nil {
		return fmt.Errorf("watch method policy %s: %w", p.path, err)
	}
	p.logger.Info("watching method policy", "path", p.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := p.reload(); err != nil {
				p.logger.Error("method policy reload failed, keeping previous table",
					"path", p.path, "error", err)
				continue
			}
			p.logger.Info("method policy reloaded", "path", p.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("method policy watcher error", "error", err)
		}
	}
}
