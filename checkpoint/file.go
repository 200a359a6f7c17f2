package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

const (
	stateFile   = "state.json"
	chunkPrefix = "chunk-"
	chunkSuffix = ".json"
)

// FileStore keeps one directory per source:
//
//	<root>/<source>/state.json
//	<root>/<source>/chunk-000001.json
type FileStore struct {
	root string
	mu   sync.Mutex
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("checkpoint: state dir cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) dir(source string) string {
	return filepath.Join(s.root, source)
}

func (s *FileStore) LoadState(ctx context.Context, source string) (models.CrawlState, bool, error) {
	var state models.CrawlState
	data, err := os.ReadFile(filepath.Join(s.dir(source), stateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, false, fmt.Errorf("decode state: %w", err)
	}
	return state, true, nil
}

func (s *FileStore) SaveState(ctx context.Context, source string, state models.CrawlState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(filepath.Join(s.dir(source), stateFile), data)
}

func (s *FileStore) WriteChunk(ctx context.Context, source string, products []models.Product) (int, error) {
	data, err := json.Marshal(products)
	if err != nil {
		return 0, fmt.Errorf("encode chunk: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seqs, err := s.chunkSeqs(source)
	if err != nil {
		return 0, err
	}
	seq := 1
	if len(seqs) > 0 {
		seq = seqs[len(seqs)-1] + 1
	}

	dir := s.dir(source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create source dir: %w", err)
	}
	final := filepath.Join(dir, chunkName(seq))
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return 0, fmt.Errorf("write chunk: %w", err)
	}
	// Link fails if the target exists, so a chunk is never replaced.
	if err := os.Link(tmp, final); err != nil {
		os.Remove(tmp)
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("chunk %d: %w", seq, ErrChunkExists)
		}
		return 0, fmt.Errorf("publish chunk: %w", err)
	}
	os.Remove(tmp)
	return seq, nil
}

func (s *FileStore) LoadChunks(ctx context.Context, source string) ([][]models.Product, error) {
	s.mu.Lock()
	seqs, err := s.chunkSeqs(source)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]models.Product, 0, len(seqs))
	for _, seq := range seqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.dir(source), chunkName(seq)))
		if err != nil {
			return nil, fmt.Errorf("read chunk %d: %w", seq, err)
		}
		var chunk []models.Product
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", seq, err)
		}
		out = append(out, chunk)
	}
	return out, nil
}

func (s *FileStore) Retire(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.dir(source)); err != nil {
		return fmt.Errorf("retire %s: %w", source, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) chunkSeqs(source string) ([]int, error) {
	entries, err := os.ReadDir(s.dir(source))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	var seqs []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, chunkSuffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), chunkSuffix))
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Ints(seqs)
	return seqs, nil
}

func chunkName(seq int) string {
	return fmt.Sprintf("%s%06d%s", chunkPrefix, seq, chunkSuffix)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// writeTemp writes data to a fresh temp file in dir and fsyncs it before
// returning its path, so a later rename or link publishes durable bytes.
func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return tmp, nil
}
