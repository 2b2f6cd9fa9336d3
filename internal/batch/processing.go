package batch

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/MeKo-Tech/receipt-ocr/internal/pipeline"
	"github.com/MeKo-Tech/receipt-ocr/internal/voting"
)

type fileJob struct {
	index int
	path  string
}

// processFiles runs a fixed worker pool over files. Outcomes keep the input
// order. A file that cannot be read yields a failed outcome.
func processFiles(ctx context.Context, rec Recognizer, files []string, cfg Config, workers int,
	progress ProgressCallback,
) []pipeline.Outcome {
	outcomes := make([]pipeline.Outcome, len(files))
	jobs := make(chan fileJob)

	progress.OnStart(len(files))
	defer progress.OnComplete()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				out := processFile(ctx, rec, job.path, cfg)
				outcomes[job.index] = out

				mu.Lock()
				done++
				current := done
				if !out.OK() {
					progress.OnError(current, job.path, out.Err)
				}
				progress.OnProgress(current, len(files))
				mu.Unlock()
			}
		}()
	}

	for i, path := range files {
		jobs <- fileJob{index: i, path: path}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func processFile(ctx context.Context, rec Recognizer, path string, cfg Config) pipeline.Outcome {
	data, err := os.ReadFile(path) //nolint:gosec // G304: paths come from CLI arguments
	if err != nil {
		err = fmt.Errorf("read %s: %w", path, err)
		return pipeline.Outcome{Error: err.Error(), Err: err, VotingMethod: voting.MethodNoResults, EnginesUsed: []string{}}
	}
	return rec.Recognize(ctx, data, pipeline.Options{
		Languages: cfg.Languages,
		Deadline:  cfg.Deadline,
		SkipCache: cfg.SkipCache,
	})
}
