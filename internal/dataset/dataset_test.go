package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/swe-orchestrator/internal/domain"
)

// rowsServer serves total synthetic rows the way datasets-server pages them
func rowsServer(t *testing.T, total int, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/rows", r.URL.Path)
		assert.Equal(t, "princeton-nlp/SWE-bench_Lite", r.URL.Query().Get("dataset"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		length, _ := strconv.Atoi(r.URL.Query().Get("length"))

		type row struct {
			RowIdx int                 `json:"row_idx"`
			Row    domain.TaskInstance `json:"row"`
		}
		var rows []row
		for i := offset; i < offset+length && i < total; i++ {
			rows = append(rows, row{RowIdx: i, Row: domain.TaskInstance{
				InstanceID: fmt.Sprintf("acme__lib-%d", i),
				Repo:       "acme/lib",
				BaseCommit: "deadbeef",
			}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"rows": rows, "num_rows_total": total})
	}))
}

func newTestLoader(t *testing.T, baseURL string) *Loader {
	l := NewLoader("princeton-nlp/SWE-bench_Lite", "test", t.TempDir())
	l.BaseURL = baseURL
	return l
}

func TestLoader_CachePath(t *testing.T) {
	l := NewLoader("princeton-nlp/SWE-bench_Lite", "test", "/data")
	assert.Equal(t, filepath.Join("/data", "swe_bench_lite_test.json"), l.CachePath())
}

func TestLoader_DownloadsPagesThenUsesCache(t *testing.T) {
	var hits int32
	srv := rowsServer(t, 230, &hits)
	defer srv.Close()
	l := newTestLoader(t, srv.URL)

	got, err := l.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 230)
	assert.Equal(t, "acme__lib-229", got[229].InstanceID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
	assert.FileExists(t, l.CachePath())

	limited, err := l.Load(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, limited, 5)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits), "second load is served from cache")
}

func TestLoader_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestLoader(t, srv.URL).Load(context.Background(), 0)
	assert.ErrorContains(t, err, "502")
}

func TestReadFile_JSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.jsonl")
	content := `{"instance_id": "a", "repo": "x/y", "problem_statement": "one"}

{"instance_id": "b", "repo": "x/y", "problem_statement": "two"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[1].ProblemStatement)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
	_, err = ReadFile(path)
	assert.ErrorContains(t, err, "line 1")
}

func TestWriteAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.json")
	in := []domain.TaskInstance{{InstanceID: "a", Repo: "x/y", BaseCommit: "c", ProblemStatement: "p"}}
	require.NoError(t, WriteFile(path, in))

	out, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSelect(t *testing.T) {
	all := []domain.TaskInstance{{InstanceID: "a"}, {InstanceID: "b"}, {InstanceID: "c"}}
	got, err := Select(all, []string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []domain.TaskInstance{{InstanceID: "c"}, {InstanceID: "a"}}, got)

	_, err = Select(all, []string{"zzz"})
	assert.Error(t, err)
}
