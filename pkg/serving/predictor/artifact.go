package predictor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thalcare-ai/platform/pkg/common/models"
	"github.com/thalcare-ai/platform/pkg/ml/timing"
)

// ArtifactName is the fixed file the latest trained model is stored under.
const ArtifactName = "thal_model_latest.json"

var ErrArtifactNotFound = errors.New("model artifact not found")

// Artifact bundles everything needed to serve without retraining.
type Artifact struct {
	Version    string              `json:"version"`
	Revision   int                 `json:"revision"`
	TrainedAt  time.Time           `json:"trained_at"`
	ModelType  string              `json:"model_type"`
	Model      *timing.Model       `json:"model"`
	Snapshot   models.Snapshot     `json:"snapshot"`
	Exclusions map[string][]string `json:"exclusions"`
}

type Store struct {
	dir   string
	mu    sync.RWMutex
	cache *cachedArtifact
}

type cachedArtifact struct {
	artifact Artifact
	modTime  int64
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, ArtifactName)
}

// Save replaces the stored artifact atomically so a concurrent Load never
// sees a half-written file.
func (s *Store) Save(artifact Artifact) error {
	if artifact.Model == nil {
		return fmt.Errorf("artifact has no model")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	payload, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ArtifactName+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.Path())
}

// Load returns the stored artifact, re-reading the file only when it changed.
func (s *Store) Load() (Artifact, error) {
	info, err := os.Stat(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, ErrArtifactNotFound
	}
	if err != nil {
		return Artifact{}, err
	}
	mod := info.ModTime().UnixNano()

	s.mu.RLock()
	cached := s.cache
	s.mu.RUnlock()
	if cached != nil && cached.modTime == mod {
		return cached.artifact, nil
	}

	content, err := os.ReadFile(s.Path())
	if err != nil {
		return Artifact{}, err
	}
	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	if !artifact.Model.Fitted() {
		return Artifact{}, fmt.Errorf("artifact %s holds no fitted model", s.Path())
	}
	s.mu.Lock()
	s.cache = &cachedArtifact{artifact: artifact, modTime: mod}
	s.mu.Unlock()
	return artifact, nil
}
