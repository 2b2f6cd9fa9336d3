package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
	"github.com/MeKo-Tech/receipt-ocr/internal/voting"
)

// fakeRecognizer echoes the file content as text.
type fakeRecognizer struct {
	mu    sync.Mutex
	opts  []pipeline.Options
	delay time.Duration
}

func (f *fakeRecognizer) Recognize(_ context.Context, data []byte, opts pipeline.Options) pipeline.Outcome {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	time.Sleep(f.delay)

	text := string(data)
	if text == "bad" {
		err := errors.New("no engine produced a result")
		return pipeline.Outcome{Error: err.Error(), Err: err, VotingMethod: voting.MethodNoResults, EnginesUsed: []string{}}
	}
	return pipeline.Outcome{
		Text:             text,
		Confidence:       0.9,
		EnginesUsed:      []string{"mock"},
		VotingMethod:     voting.MethodSingleEngine,
		StrategyTierUsed: "quick",
	}
}

type recordingProgress struct {
	mu       sync.Mutex
	started  int
	progress []int
	errors   []string
	complete bool
}

func (r *recordingProgress) OnStart(total int) { r.started = total }
func (r *recordingProgress) OnProgress(current, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}
func (r *recordingProgress) OnComplete() { r.complete = true }
func (r *recordingProgress) OnError(_ int, path string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, filepath.Base(path))
}

func setupFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{"a.png": "ALPHA", "b.png": "BETA", "c.png": "bad", "d.jpg": "DELTA"} {
		writeFile(t, filepath.Join(dir, name), content)
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestProcess_OrderedOutcomes(t *testing.T) {
	dir := setupFiles(t)
	rec := &fakeRecognizer{delay: 5 * time.Millisecond}
	progress := &recordingProgress{}

	cfg := DefaultConfig()
	cfg.Workers = 3
	cfg.Languages = []string{"pol"}
	cfg.SkipCache = true

	res, err := Process(context.Background(), rec, []string{dir}, cfg, progress)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 4)
	assert.Equal(t, 3, res.Workers)

	for i, path := range res.Paths {
		if filepath.Base(path) == "c.png" {
			assert.False(t, res.Outcomes[i].OK())
			continue
		}
		assert.Equal(t, map[string]string{"a.png": "ALPHA", "b.png": "BETA", "d.jpg": "DELTA"}[filepath.Base(path)],
			res.Outcomes[i].Text)
	}

	assert.Equal(t, 4, progress.started)
	assert.Len(t, progress.progress, 4)
	assert.True(t, progress.complete)
	assert.Equal(t, []string{"c.png"}, progress.errors)

	for _, o := range rec.opts {
		assert.Equal(t, []string{"pol"}, o.Languages)
		assert.True(t, o.SkipCache)
	}

	stats := res.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}

func TestProcess_NoFiles(t *testing.T) {
	_, err := Process(context.Background(), &fakeRecognizer{}, []string{t.TempDir()}, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestProcess_WorkersCappedByFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "only.png"), "ONE")
	cfg := DefaultConfig()
	cfg.Workers = 16

	res, err := Process(context.Background(), &fakeRecognizer{}, []string{dir}, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Workers)
}

func TestProcessFile_Unreadable(t *testing.T) {
	out := processFile(context.Background(), &fakeRecognizer{}, filepath.Join(t.TempDir(), "gone.png"), DefaultConfig())
	assert.False(t, out.OK())
	assert.Contains(t, out.Error, "gone.png")
	assert.NoError(t, pipeline.ValidateOutcome(out))
}

func TestFormatResults(t *testing.T) {
	res := &Result{
		Paths: []string{"a.png", "c.png"},
		Outcomes: []pipeline.Outcome{
			(&fakeRecognizer{}).Recognize(context.Background(), []byte("SUMA 10.00"), pipeline.Options{}),
			(&fakeRecognizer{}).Recognize(context.Background(), []byte("bad"), pipeline.Options{}),
		},
	}

	text, err := res.FormatResults("text", 2)
	require.NoError(t, err)
	assert.Contains(t, text, "# a.png\nSUMA 10.00\n-- confidence=0.90 method=single_engine tier=quick")
	assert.Contains(t, text, `error="no engine produced a result"`)

	js, err := res.FormatResults("json", 2)
	require.NoError(t, err)
	var doc struct {
		Receipts []struct {
			File    string `json:"file"`
			Outcome struct {
				Text string `json:"text"`
			} `json:"outcome"`
		} `json:"receipts"`
	}
	require.NoError(t, json.Unmarshal([]byte(js), &doc))
	require.Len(t, doc.Receipts, 2)
	assert.Equal(t, "SUMA 10.00", doc.Receipts[0].Outcome.Text)

	ym, err := res.FormatResults("yaml", 2)
	require.NoError(t, err)
	var ydoc []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(ym), &ydoc))
	assert.Equal(t, "c.png", ydoc[1]["file"])

	csvOut, err := res.FormatResults("csv", 2)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(csvOut, "file,tier,method,confidence"))
	assert.Equal(t, 3, strings.Count(csvOut, "\n"))

	_, err = res.FormatResults("xml", 2)
	assert.Error(t, err)
}

func TestSaveResults(t *testing.T) {
	res := &Result{
		Paths:    []string{"a.png"},
		Outcomes: []pipeline.Outcome{(&fakeRecognizer{}).Recognize(context.Background(), []byte("X"), pipeline.Options{})},
	}

	var buf bytes.Buffer
	require.NoError(t, res.SaveResults(&buf, "text", 2, "", false))
	assert.Contains(t, buf.String(), "# a.png")

	out := filepath.Join(t.TempDir(), "out.json")
	buf.Reset()
	require.NoError(t, res.SaveResults(&buf, "json", 2, out, false))
	assert.Contains(t, buf.String(), "Results written to")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"receipts"`)

	buf.Reset()
	res.PrintStats(&buf)
	assert.Contains(t, buf.String(), "Total files: 1")
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	cb := NewConsoleProgressCallback(&buf, "ocr: ").WithUpdateInterval(time.Nanosecond)
	cb.OnStart(2)
	cb.OnError(1, "x.png", errors.New("boom"))
	cb.OnProgress(1, 2)
	cb.OnProgress(2, 2)
	cb.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "ocr: 0/2")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "failed=1")
	assert.Contains(t, out, "Completed in")
}
