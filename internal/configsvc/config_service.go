// Package configsvc loads YAML configuration files and notifies subscribers when they change.
package configsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
)

type subscriber func(event fsnotify.Event)

type Service struct {
	log *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	subscribers []subscriber
	watched     map[string]struct{}
	ready       chan struct{}
}

func New(log *zap.Logger) (*Service, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Service{
		log:     log,
		watcher: watcher,
		watched: make(map[string]struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// Start dispatches file events until ctx is done, then closes the watcher.
func (s *Service) Start(ctx context.Context) error {
	defer s.watcher.Close()
	close(s.ready)
	s.log.Info("Config service started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			s.mu.Lock()
			subs := s.subscribers
			s.mu.Unlock()
			for _, sub := range subs {
				sub(event)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("Watcher error", zap.Error(err))
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Register reads the configuration at path, writing def there first if the file does not
// exist, and calls fn with every later version of it. Service is a parameter instead of
// the receiver so that the configuration type can be generic.
func Register[T any](s *Service, path string, def T, fn func(config T, err error)) (T, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return def, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}
	config, err := LoadOrInit(absPath, def)
	if err != nil {
		return def, err
	}

	dir := filepath.Dir(absPath)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[dir]; !ok {
		if err := s.watcher.Add(dir); err != nil {
			return def, fmt.Errorf("failed to add path to watcher %s: %w", path, err)
		}
		s.watched[dir] = struct{}{}
	}
	s.subscribers = append(s.subscribers, func(event fsnotify.Event) {
		if event.Name == absPath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
			newConfig, err := Load(absPath, def)
			fn(newConfig, err)
		}
	})
	return config, nil
}

// LoadOrInit is Load, except that a missing file is created from def.
func LoadOrInit[T any](path string, def T) (T, error) {
	config, err := Load(path, def)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return def, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := Write(path, def); err != nil {
			return def, fmt.Errorf("failed to initialize config: %w", err)
		}
		return def, nil
	case err != nil:
		return def, fmt.Errorf("failed to read config: %w", err)
	}
	return config, nil
}

func Write[T any](path string, config T) error {
	jsonB, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	yamlB, err := yaml.JSONToYAML(jsonB)
	if err != nil {
		return fmt.Errorf("failed to convert json to yaml: %w", err)
	}

	err = os.WriteFile(path, yamlB, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load decodes the file at path over def, so fields missing from the file keep their
// default values. The returned error wraps os.ErrNotExist when the file is missing.
func Load[T any](path string, def T) (T, error) {
	yamlB, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}

	jsonB, err := yaml.YAMLToJSON(yamlB)
	if err != nil {
		return def, fmt.Errorf("failed to convert yaml to json: %w", err)
	}
	err = json.Unmarshal(jsonB, &def)
	if err != nil {
		return def, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return def, nil
}
