package imdb

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/media-curator/internal/platform/metrics"
	"github.com/example/media-curator/internal/store"
)

const defaultBatchSize = 50_000

// nullField is the dump's explicit null sentinel.
const nullField = `\N`

// Source opens dataset streams for the importer. A missing optional dataset
// is reported as fs.ErrNotExist and skipped; a missing required one aborts
// the run.
type Source interface {
	Open(ds Dataset) (io.ReadCloser, error)
}

// DirSource reads datasets from a local directory, transparently gunzipping
// .gz files.
type DirSource struct {
	Dir string
}

func (s DirSource) Open(ds Dataset) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.Dir, ds.Filename))
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(ds.Filename, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gunzip %s: %w", ds.Name, err)
	}
	return &gzipFile{gz: gz, f: f}, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	gerr := g.gz.Close()
	ferr := g.f.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}

// Stats summarizes one import run.
type Stats struct {
	Titles     DatasetStats
	Ratings    DatasetStats
	Akas       DatasetStats
	Principals DatasetStats
}

type DatasetStats struct {
	Kept      int
	Filtered  int
	Malformed int
	Skipped   bool
}

// Importer performs the four-phase bulk import. Phase one loads the filtered
// title set and retains its tconst values in memory; the remaining phases use
// that set to drop rows referencing excluded titles.
type Importer struct {
	store      store.ImportStore
	log        *zap.Logger
	batchSize  int
	titleTypes map[string]struct{}
}

// Option configures an Importer.
type Option func(*Importer)

// WithBatchSize overrides the flush threshold for batched inserts.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

// WithTitleTypes replaces the title-type whitelist.
func WithTitleTypes(types []string) Option {
	return func(im *Importer) {
		im.titleTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			im.titleTypes[t] = struct{}{}
		}
	}
}

func NewImporter(st store.ImportStore, log *zap.Logger, opts ...Option) *Importer {
	im := &Importer{
		store:     st,
		log:       log,
		batchSize: defaultBatchSize,
	}
	WithTitleTypes(DefaultTitleTypes)(im)
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Run executes the full import cycle. title.basics is required; each other
// dataset is skipped with a warning when its source is absent.
func (im *Importer) Run(ctx context.Context, src Source) (Stats, error) {
	var stats Stats

	kept, err := im.importTitles(ctx, src, &stats.Titles)
	if err != nil {
		return stats, err
	}
	im.log.Info("titles imported",
		zap.Int("kept", stats.Titles.Kept),
		zap.Int("filtered", stats.Titles.Filtered),
		zap.Int("malformed", stats.Titles.Malformed))

	if err := im.importRatings(ctx, src, kept, &stats.Ratings); err != nil {
		return stats, err
	}
	if err := im.importAkas(ctx, src, kept, &stats.Akas); err != nil {
		return stats, err
	}
	if err := im.importPrincipals(ctx, src, kept, &stats.Principals); err != nil {
		return stats, err
	}
	return stats, nil
}

func (im *Importer) importTitles(ctx context.Context, src Source, ds *DatasetStats) (map[string]struct{}, error) {
	r, err := src.Open(DatasetBasics)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", DatasetBasics.Name, err)
	}
	defer r.Close()

	if err := im.store.RecreateTitles(ctx); err != nil {
		return nil, err
	}

	kept := make(map[string]struct{})
	batch := make([]store.Title, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.InsertTitles(ctx, batch); err != nil {
			return err
		}
		metrics.ImportRows.WithLabelValues(DatasetBasics.Name).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	err = scanTSV(ctx, r, 9, ds, func(fields []string) error {
		if _, ok := im.titleTypes[fields[1]]; !ok {
			ds.Filtered++
			return nil
		}
		t := store.Title{
			Tconst:         fields[0],
			TitleType:      fields[1],
			PrimaryTitle:   fields[2],
			OriginalTitle:  fields[3],
			IsAdult:        fields[4] == "1",
			StartYear:      nullInt(fields[5]),
			EndYear:        nullInt(fields[6]),
			RuntimeMinutes: nullInt(fields[7]),
			Genres:         nullStr(fields[8]),
		}
		kept[t.Tconst] = struct{}{}
		ds.Kept++
		batch = append(batch, t)
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", DatasetBasics.Name, err)
	}
	if err := flush(); err != nil {
		return nil, fmt.Errorf("import %s: %w", DatasetBasics.Name, err)
	}
	if err := im.store.IndexTitles(ctx); err != nil {
		return nil, err
	}
	return kept, nil
}

func (im *Importer) importRatings(ctx context.Context, src Source, kept map[string]struct{}, ds *DatasetStats) error {
	r, skip, err := im.openOptional(src, DatasetRatings, ds)
	if err != nil || skip {
		return err
	}
	defer r.Close()

	if err := im.store.RecreateRatings(ctx); err != nil {
		return err
	}
	batch := make([]store.TitleRating, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.InsertRatings(ctx, batch); err != nil {
			return err
		}
		metrics.ImportRows.WithLabelValues(DatasetRatings.Name).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	err = scanTSV(ctx, r, 3, ds, func(fields []string) error {
		if _, ok := kept[fields[0]]; !ok {
			ds.Filtered++
			return nil
		}
		rating, err1 := strconv.ParseFloat(fields[1], 64)
		votes, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			ds.Malformed++
			return nil
		}
		ds.Kept++
		batch = append(batch, store.TitleRating{Tconst: fields[0], AverageRating: rating, NumVotes: votes})
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", DatasetRatings.Name, err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("import %s: %w", DatasetRatings.Name, err)
	}
	return im.store.IndexRatings(ctx)
}

func (im *Importer) importAkas(ctx context.Context, src Source, kept map[string]struct{}, ds *DatasetStats) error {
	r, skip, err := im.openOptional(src, DatasetAkas, ds)
	if err != nil || skip {
		return err
	}
	defer r.Close()

	if err := im.store.RecreateAkas(ctx); err != nil {
		return err
	}
	batch := make([]store.Aka, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.InsertAkas(ctx, batch); err != nil {
			return err
		}
		metrics.ImportRows.WithLabelValues(DatasetAkas.Name).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	err = scanTSV(ctx, r, 8, ds, func(fields []string) error {
		if _, ok := kept[fields[0]]; !ok {
			ds.Filtered++
			return nil
		}
		ds.Kept++
		batch = append(batch, store.Aka{
			TitleID:         fields[0],
			Ordering:        nullInt(fields[1]),
			Title:           nullStr(fields[2]),
			Region:          nullStr(fields[3]),
			Language:        nullStr(fields[4]),
			Types:           nullStr(fields[5]),
			Attributes:      nullStr(fields[6]),
			IsOriginalTitle: nullBool(fields[7]),
		})
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", DatasetAkas.Name, err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("import %s: %w", DatasetAkas.Name, err)
	}
	return im.store.IndexAkas(ctx)
}

func (im *Importer) importPrincipals(ctx context.Context, src Source, kept map[string]struct{}, ds *DatasetStats) error {
	r, skip, err := im.openOptional(src, DatasetPrincipals, ds)
	if err != nil || skip {
		return err
	}
	defer r.Close()

	if err := im.store.RecreatePrincipals(ctx); err != nil {
		return err
	}
	batch := make([]store.Principal, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := im.store.InsertPrincipals(ctx, batch); err != nil {
			return err
		}
		metrics.ImportRows.WithLabelValues(DatasetPrincipals.Name).Add(float64(len(batch)))
		batch = batch[:0]
		return nil
	}

	err = scanTSV(ctx, r, 6, ds, func(fields []string) error {
		if _, ok := kept[fields[0]]; !ok {
			ds.Filtered++
			return nil
		}
		ds.Kept++
		batch = append(batch, store.Principal{
			Tconst:     fields[0],
			Ordering:   nullInt(fields[1]),
			Nconst:     nullStr(fields[2]),
			Category:   nullStr(fields[3]),
			Job:        nullStr(fields[4]),
			Characters: nullStr(fields[5]),
		})
		if len(batch) >= im.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("import %s: %w", DatasetPrincipals.Name, err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("import %s: %w", DatasetPrincipals.Name, err)
	}
	return im.store.IndexPrincipals(ctx)
}

func (im *Importer) openOptional(src Source, dataset Dataset, ds *DatasetStats) (io.ReadCloser, bool, error) {
	r, err := src.Open(dataset)
	if errors.Is(err, os.ErrNotExist) {
		im.log.Warn("optional dataset missing, skipping", zap.String("dataset", dataset.Name))
		ds.Skipped = true
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", dataset.Name, err)
	}
	return r, false, nil
}

// scanTSV streams one dump line by line, skipping the header row and any row
// whose column count does not match the expected schema.
func scanTSV(ctx context.Context, r io.Reader, wantCols int, ds *DatasetStats, row func(fields []string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	first := true
	n := 0
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		n++
		if n%defaultBatchSize == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		fields := strings.Split(sc.Text(), "\t")
		// Minimum-column check: rows with trailing extra fields still carry
		// everything the schema needs.
		if len(fields) < wantCols {
			ds.Malformed++
			continue
		}
		if err := row(fields); err != nil {
			return err
		}
	}
	return sc.Err()
}

func nullStr(s string) *string {
	if s == nullField || s == "" {
		return nil
	}
	return &s
}

func nullInt(s string) *int {
	if s == nullField || s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func nullBool(s string) *bool {
	switch s {
	case "0":
		v := false
		return &v
	case "1":
		v := true
		return &v
	default:
		return nil
	}
}
