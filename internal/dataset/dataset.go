// Package dataset loads benchmark task instances, preferring a local cache
// and falling back to the Hugging Face datasets-server rows API.
package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

const (
	DefaultBaseURL = "https://datasets-server.huggingface.co"
	// pageSize is the largest page the rows endpoint serves
	pageSize = 100
)

// Loader reads instances for one dataset split
type Loader struct {
	Name     string
	Split    string
	CacheDir string
	BaseURL  string
	Client   *http.Client
	Logger   *slog.Logger
}

// NewLoader creates a loader for name/split caching under cacheDir
func NewLoader(name, split, cacheDir string) *Loader {
	return &Loader{
		Name:     name,
		Split:    split,
		CacheDir: cacheDir,
		BaseURL:  DefaultBaseURL,
		Client:   &http.Client{Timeout: 60 * time.Second},
		Logger:   slog.Default(),
	}
}

// CachePath is where the split is cached
func (l *Loader) CachePath() string {
	base := strings.ToLower(l.Name)
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.NewReplacer("-", "_", ".", "_").Replace(base)
	return filepath.Join(l.CacheDir, fmt.Sprintf("%s_%s.json", base, l.Split))
}

// Load returns the cached split, downloading and caching it first if needed.
// limit > 0 keeps only the first limit instances.
func (l *Loader) Load(ctx context.Context, limit int) ([]domain.TaskInstance, error) {
	path := l.CachePath()
	instances, err := ReadFile(path)
	switch {
	case err == nil:
		l.Logger.Info("loading instances from cache", "path", path, "count", len(instances))
	case os.IsNotExist(err):
		instances, err = l.Download(ctx)
		if err != nil {
			return nil, err
		}
		if err := WriteFile(path, instances); err != nil {
			return nil, fmt.Errorf("caching dataset: %w", err)
		}
		l.Logger.Info("cached dataset", "path", path, "count", len(instances))
	default:
		return nil, err
	}

	if limit > 0 && limit < len(instances) {
		instances = instances[:limit]
	}
	return instances, nil
}

type rowsPage struct {
	Rows []struct {
		RowIdx int                 `json:"row_idx"`
		Row    domain.TaskInstance `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// Download fetches every row of the split, page by page
func (l *Loader) Download(ctx context.Context) ([]domain.TaskInstance, error) {
	l.Logger.Info("downloading dataset", "name", l.Name, "split", l.Split)
	var out []domain.TaskInstance
	for offset := 0; ; offset += pageSize {
		page, err := l.fetchPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Rows {
			out = append(out, r.Row)
		}
		if len(page.Rows) == 0 || offset+pageSize >= page.NumRowsTotal {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dataset %s/%s has no rows", l.Name, l.Split)
	}
	return out, nil
}

func (l *Loader) fetchPage(ctx context.Context, offset int) (*rowsPage, error) {
	q := url.Values{}
	q.Set("dataset", l.Name)
	q.Set("config", "default")
	q.Set("split", l.Split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(l.BaseURL, "/")+"/rows?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching rows at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("datasets-server returned %d at offset %d", resp.StatusCode, offset)
	}

	var page rowsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding rows: %w", err)
	}
	return &page, nil
}

// ReadFile loads instances from a JSON array or, for .jsonl files, one
// object per line
func ReadFile(path string) ([]domain.TaskInstance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".jsonl") {
		return parseJSONL(data)
	}
	var instances []domain.TaskInstance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return instances, nil
}

func parseJSONL(data []byte) ([]domain.TaskInstance, error) {
	var instances []domain.TaskInstance
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var inst domain.TaskInstance
		if err := json.Unmarshal(text, &inst); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		instances = append(instances, inst)
	}
	return instances, sc.Err()
}

// WriteFile caches instances as an indented JSON array
func WriteFile(path string, instances []domain.TaskInstance) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(instances, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Select returns the instances with the given ids, in the order given
func Select(instances []domain.TaskInstance, ids []string) ([]domain.TaskInstance, error) {
	byID := domain.IndexByID(instances)
	out := make([]domain.TaskInstance, 0, len(ids))
	for _, id := range ids {
		inst, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown instance %q", id)
		}
		out = append(out, inst)
	}
	return out, nil
}
